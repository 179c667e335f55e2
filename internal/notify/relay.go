package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rickgao/marketstream/internal/metrics"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/registry"
)

// ClientIDPrefix prefixes the relay's registry client id.
const ClientIDPrefix = "notify/"

// DefaultSendRate is the per-chat message rate Telegram tolerates.
const DefaultSendRate = 1.0

// Sender delivers one Telegram message. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config configures a Relay.
type Config struct {
	ChatID   int64
	MinLevel model.NotificationLevel
	SendRate float64 // messages per second; 0 uses DefaultSendRate
}

// NewBot connects to the Telegram Bot API.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return api, nil
}

// Relay forwards notifications to a chat.
type Relay struct {
	cfg      Config
	sender   Sender
	source   registry.Source
	logger   *slog.Logger
	clientID string
	limiter  *rate.Limiter

	handle registry.Handle
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay creates a relay. It does nothing until Start.
func NewRelay(cfg Config, sender Sender, source registry.Source, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinLevel == "" {
		cfg.MinLevel = model.LevelAlert
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = DefaultSendRate
	}

	return &Relay{
		cfg:      cfg,
		sender:   sender,
		source:   source,
		logger:   logger,
		clientID: ClientIDPrefix + uuid.NewString(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.SendRate), 1),
	}
}

// Start registers with the source and begins relaying.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.source.RegisterClient(r.clientID); err != nil {
		return fmt.Errorf("register notification relay: %w", err)
	}
	handle, err := r.source.Control(r.clientID)
	if err != nil {
		r.source.UnregisterClient(r.clientID)
		return fmt.Errorf("open control stream: %w", err)
	}
	r.handle = handle

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info("notification relay started",
		"client_id", r.clientID,
		"chat_id", r.cfg.ChatID,
		"min_level", r.cfg.MinLevel,
	)
	return nil
}

// Stop unregisters and waits for the relay to exit or ctx to expire.
func (r *Relay) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.handle != nil {
		if err := r.source.UnregisterClient(r.clientID); err != nil && !errors.Is(err, registry.ErrUnknownClient) {
			r.logger.Warn("failed to unregister notification relay", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("notification relay stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()

	events := r.handle.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n, ok := ev.(model.Notification)
			if !ok || n.Level.Rank() < r.cfg.MinLevel.Rank() {
				continue
			}
			r.relay(ctx, n)
		}
	}
}

func (r *Relay) relay(ctx context.Context, n model.Notification) {
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}

	msg := tgbotapi.NewMessage(r.cfg.ChatID, Format(n))
	if _, err := r.sender.Send(msg); err != nil {
		r.logger.Warn("failed to relay notification", "level", n.Level, "error", err)
		return
	}
	metrics.NotificationsRelayed.Inc()
}

// Format renders a notification as chat text.
func Format(n model.Notification) string {
	return fmt.Sprintf("[%s] %s", n.Level, n.Message)
}
