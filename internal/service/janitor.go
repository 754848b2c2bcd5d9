package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/awolfe89/sds-shopify/internal/repository"
)

// Janitor periodically deletes handshake state and token-less sessions that
// never completed an exchange. It never touches tenants or users.
type Janitor struct {
	handshakes repository.HandshakeStore
	sessions   repository.SessionRepository
	interval   time.Duration
	retention  time.Duration
	logger     *zap.Logger
}

// NewJanitor constructs the background sweeper.
func NewJanitor(handshakes repository.HandshakeStore, sessions repository.SessionRepository, interval, retention time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Janitor{
		handshakes: handshakes,
		sessions:   sessions,
		interval:   interval,
		retention:  retention,
		logger:     logger,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled. A failed sweep is
// logged and retried on the next tick; it is never fatal.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep performs one cleanup pass. The two sweeps run independently so a
// failing store cannot block the other; the completion event is only emitted
// when both succeeded, a partial pass logs its failures instead.
func (j *Janitor) Sweep(ctx context.Context) {
	clean := true

	handshakes, err := j.handshakes.SweepExpired(ctx, j.retention)
	if err != nil {
		j.logger.Warn("handshake_sweep_failed", zap.Error(err))
		clean = false
	}

	sessions, err := j.sessions.DeleteStale(ctx, time.Now().UTC().Add(-j.retention))
	if err != nil {
		j.logger.Warn("session_sweep_failed", zap.Error(err))
		clean = false
	}

	if !clean {
		return
	}

	j.logger.Info("sweep_completed",
		zap.Int64("handshakes_deleted", handshakes),
		zap.Int64("sessions_deleted", sessions),
	)
}
