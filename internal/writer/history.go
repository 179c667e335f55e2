package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/marketstream/internal/metrics"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/registry"
)

// ClientIDPrefix prefixes the writer's registry client id.
const ClientIDPrefix = "writer/"

// Row kinds.
const (
	KindNotification = "notification"
	KindStatusUpdate = "status_update"
)

// HistoryWriter consumes control events and writes them to notification_history.
type HistoryWriter struct {
	cfg      WriterConfig
	logger   *slog.Logger
	clientID string

	// Input from the event source
	source registry.Source
	handle registry.Handle

	// Database
	db BatchSender

	// Batching
	batch       []historyRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics

	now func() time.Time
}

// NewHistoryWriter creates a new HistoryWriter.
func NewHistoryWriter(
	cfg WriterConfig,
	source registry.Source,
	db BatchSender,
	logger *slog.Logger,
) *HistoryWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}

	return &HistoryWriter{
		cfg:      cfg,
		clientID: ClientIDPrefix + uuid.NewString(),
		source:   source,
		db:       db,
		logger:   logger,
		batch:    make([]historyRow, 0, cfg.BatchSize),
		now:      time.Now,
	}
}

// Start registers with the source and begins consuming control events.
func (w *HistoryWriter) Start(ctx context.Context) error {
	if err := w.source.RegisterClient(w.clientID); err != nil {
		return fmt.Errorf("register history writer: %w", err)
	}
	handle, err := w.source.Control(w.clientID)
	if err != nil {
		w.source.UnregisterClient(w.clientID)
		return fmt.Errorf("open control stream: %w", err)
	}
	w.handle = handle

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("history writer started",
		"client_id", w.clientID,
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer and flushes what is buffered.
func (w *HistoryWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping history writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	if w.handle != nil {
		if err := w.source.UnregisterClient(w.clientID); err != nil && !errors.Is(err, registry.ErrUnknownClient) {
			w.logger.Warn("failed to unregister history writer", "error", err)
		}
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("history writer stopped")
	case <-ctx.Done():
		w.logger.Warn("history writer stop timed out")
	}

	// Final flush
	w.flushWith(ctx)

	return nil
}

// Stats returns current metrics.
func (w *HistoryWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads control events and accumulates batches.
func (w *HistoryWriter) consumeLoop() {
	defer w.wg.Done()

	events := w.handle.Events()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				w.logger.Info("control stream closed")
				return
			}
			w.handleEvent(ev)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *HistoryWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// handleEvent transforms and adds an event to the batch.
func (w *HistoryWriter) handleEvent(ev model.Event) {
	row, ok := w.transform(ev)
	if !ok {
		w.batchMu.Lock()
		w.metrics.Skipped++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// transform converts a control event to a historyRow.
func (w *HistoryWriter) transform(ev model.Event) (historyRow, bool) {
	receivedAt := w.now().UTC()

	switch e := ev.(type) {
	case model.Notification:
		level := string(e.Level)
		msg := e.Message
		return historyRow{
			ID:         uuid.NewString(),
			Kind:       KindNotification,
			Level:      &level,
			Message:    &msg,
			EventTs:    eventTime(e.Timestamp, receivedAt),
			ReceivedAt: receivedAt,
		}, true

	case model.StatusUpdate:
		requestID := e.RequestID
		status := string(e.Status)
		var payload []byte
		if e.Payload != nil {
			b, err := json.Marshal(e.Payload)
			if err != nil {
				w.logger.Warn("failed to encode status payload", "request_id", e.RequestID, "error", err)
			} else {
				payload = b
			}
		}
		return historyRow{
			ID:         uuid.NewString(),
			Kind:       KindStatusUpdate,
			RequestID:  &requestID,
			Status:     &status,
			Payload:    payload,
			EventTs:    eventTime(e.Timestamp, receivedAt),
			ReceivedAt: receivedAt,
		}, true
	}

	return historyRow{}, false
}

func eventTime(ts, fallback time.Time) time.Time {
	if ts.IsZero() {
		return fallback
	}
	return ts.UTC()
}

func (w *HistoryWriter) flush() {
	w.flushWith(w.ctx)
}

// flushWith writes the current batch to the database.
func (w *HistoryWriter) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]historyRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	inserted := len(batch) - conflicts
	metrics.NotificationsPersisted.Add(float64(inserted))

	w.batchMu.Lock()
	w.metrics.Inserts += int64(inserted)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed notification history",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *HistoryWriter) batchInsert(ctx context.Context, rows []historyRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO notification_history (id, instance_id, kind, level, request_id, status, message, payload, event_ts, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, w.cfg.InstanceID, r.Kind, r.Level, r.RequestID, r.Status, r.Message, r.Payload, r.EventTs, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
