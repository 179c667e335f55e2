package registry

import (
	"errors"

	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/subscription"
)

var (
	ErrUnknownClient = errors.New("registry: unknown client")
	ErrClientExists  = errors.New("registry: client already registered")
)

// Handle is a single client registration on the source. Events are
// delivered on the channel returned by Events until the handle is
// cancelled or its subscription is replaced, at which point the channel
// is closed.
type Handle interface {
	// Key identifies what the handle carries, e.g. "TICKER" or
	// "TICKER:kraken/BTC/USD".
	Key() string

	// Events returns the receive side of the handle's mailbox.
	Events() <-chan model.Event

	// Cancel removes the handle and closes its channel. Idempotent.
	Cancel()
}

// Source is the collaborator a client session binds against.
type Source interface {
	// RegisterClient adds a client with an empty subscription set.
	RegisterClient(clientID string) error

	// UnregisterClient removes the client and closes all of its handles.
	UnregisterClient(clientID string) error

	// ChangeSubscriptions replaces the client's subscription set wholesale.
	// Market handles opened under the previous set are closed.
	ChangeSubscriptions(clientID string, set subscription.Set) error

	// Stream opens one handle for every subscribed instrument of a type.
	Stream(clientID string, t model.DataType) (Handle, error)

	// StreamSplit opens one handle per subscribed instrument of a type.
	StreamSplit(clientID string, t model.DataType) ([]Handle, error)

	// Control opens a handle carrying notifications and status updates.
	Control(clientID string) (Handle, error)
}
