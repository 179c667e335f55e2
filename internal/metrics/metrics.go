package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for EventsDropped.
const (
	ReasonNotReady  = "not_ready"
	ReasonThrottled = "throttled"
	ReasonFiltered  = "filtered"
)

// Session metrics
var (
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "marketstream_sessions_active",
		Help: "Current number of open client sessions.",
	})

	Rebinds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketstream_rebinds_total",
		Help: "Total number of UPDATE_SUBSCRIPTIONS rebinds.",
	})

	ProtocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketstream_protocol_errors_total",
			Help: "Inbound frames answered with an ERROR frame, by cause.",
		},
		[]string{"cause"},
	)

	FramesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketstream_frames_sent_total",
			Help: "Outbound frames written to client transports, by nature.",
		},
		[]string{"nature"},
	)

	WriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketstream_write_failures_total",
		Help: "Outbound frame writes that failed and were swallowed.",
	})
)

// Stream metrics
var (
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketstream_events_dropped_total",
			Help: "Events dropped before delivery, by nature and reason.",
		},
		[]string{"nature", "reason"},
	)

	MailboxDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketstream_mailbox_dropped_total",
			Help: "Oldest events evicted from full per-client registry mailboxes, by stream type.",
		},
		[]string{"type"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketstream_events_published_total",
			Help: "Events published into the registry, by stream type.",
		},
		[]string{"type"},
	)
)

// Feed and sink metrics
var (
	FeedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketstream_feed_messages_total",
			Help: "Upstream feed messages received, by result.",
		},
		[]string{"result"},
	)

	NotificationsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketstream_notifications_persisted_total",
		Help: "Control events written to the notification history.",
	})

	NotificationsRelayed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marketstream_notifications_relayed_total",
		Help: "Notifications forwarded to Telegram.",
	})
)

func init() {
	prometheus.MustRegister(ActiveSessions, Rebinds, ProtocolErrors, FramesSent, WriteFailures)
	prometheus.MustRegister(EventsDropped, MailboxDropped, EventsPublished)
	prometheus.MustRegister(FeedMessages, NotificationsPersisted, NotificationsRelayed)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
