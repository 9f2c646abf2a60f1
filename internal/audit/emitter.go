package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/internal/metrics"
	"go.uber.org/zap"
)

// ErrEmitterClosed is returned by Close when called twice
var ErrEmitterClosed = errors.New("audit: emitter closed")

// Sink delivers an event to the external audit collaborator
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// EmitterConfig holds emitter settings
type EmitterConfig struct {
	BufferSize     int
	MaxRetries     int
	RetryBackoff   time.Duration
	PublishTimeout time.Duration
}

// Emitter hands events to a Sink from a background goroutine. Emit never blocks:
// when the buffer is full the event is logged locally and dropped.
type Emitter struct {
	sink    Sink
	cfg     EmitterConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	events chan Event
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// NewEmitter creates an emitter; call Start to begin delivery
func NewEmitter(sink Sink, cfg EmitterConfig, logger *zap.Logger, m *metrics.Metrics) *Emitter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	return &Emitter{
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		events:  make(chan Event, cfg.BufferSize),
		done:    make(chan struct{}),
	}
}

// Emit queues an event for delivery. It fills in ID and OccurredAt when unset.
func (e *Emitter) Emit(ev Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.logDropped(ev, "emitter closed")
		return
	}

	select {
	case e.events <- ev:
	default:
		e.logDropped(ev, "buffer full")
	}
}

// Start launches the delivery goroutine
func (e *Emitter) Start() {
	e.once.Do(func() {
		go e.run()
	})
}

// Close stops accepting events and waits for the queue to drain or ctx to end
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEmitterClosed
	}
	e.closed = true
	close(e.events)
	e.mu.Unlock()

	// Close without Start still has to drain
	e.Start()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for ev := range e.events {
		e.deliver(ev)
	}
}

func (e *Emitter) deliver(ev Event) {
	var err error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(e.cfg.RetryBackoff * time.Duration(attempt))
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PublishTimeout)
		err = e.sink.Publish(ctx, ev)
		cancel()
		if err == nil {
			return
		}

		e.logger.Warn("audit publish failed",
			zap.String("event_id", ev.ID.String()),
			zap.String("action", string(ev.Action)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	e.metrics.IncAuditFailed()
	// the local log line is the record of last resort
	e.logger.Error("audit event undeliverable",
		zap.Error(err),
		zap.Any("event", ev),
	)
}

func (e *Emitter) logDropped(ev Event, why string) {
	e.metrics.IncAuditDropped()
	e.logger.Warn("audit event dropped",
		zap.String("why", why),
		zap.Any("event", ev),
	)
}
