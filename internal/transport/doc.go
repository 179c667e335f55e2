// Package transport accepts client websocket connections and drives a
// session.Session from each one.
//
// Each connection runs a read loop (inbound commands) and a ping loop
// (keepalive). The read deadline is extended on every pong; a missed
// pong ends the read loop and closes the session.
package transport
