// Package audit records sensitive actions without delaying the request that
// triggered them.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/atinyakov/credvault/internal/metrics"
	"github.com/atinyakov/credvault/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single append.
const DefaultTimeout = 5 * time.Second

// Store is the append-only backing store.
type Store interface {
	Append(ctx context.Context, e models.AuditLogEntry) error
}

// Recorder appends reveal entries on detached goroutines. Append failures are
// logged and counted, never returned.
type Recorder struct {
	store   Store
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.timeout = d }
}

// WithMetrics counts dropped entries on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Store, log *zap.Logger, opts ...Option) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		store:   store,
		log:     log,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record schedules a reveal entry and returns immediately. The append outlives
// cancellation of ctx.
func (r *Recorder) Record(ctx context.Context, credentialID, userID, ip string) {
	entry := models.AuditLogEntry{
		ID:           uuid.NewString(),
		CredentialID: credentialID,
		UserID:       userID,
		Action:       models.ActionReveal,
		Timestamp:    r.now().UTC(),
		IPAddress:    ip,
	}

	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()

		if err := r.store.Append(ctx, entry); err != nil {
			r.metrics.RecordAuditFailure()
			r.log.Error("failed to append audit entry",
				zap.String("action", string(entry.Action)),
				zap.String("credential_id", entry.CredentialID),
				zap.String("user_id", entry.UserID),
				zap.Error(err),
			)
		}
	}()
}

// Close waits for in-flight appends to finish.
func (r *Recorder) Close() {
	r.wg.Wait()
}
