// Package expirysweeper runs the background loop that notices timed-out
// sessions, notifies their subscribers, and reclaims terminal sessions after
// the grace period.
package expirysweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lazysuperheroes/hedera-multisig-sub001/metrics"
	"github.com/lazysuperheroes/hedera-multisig-sub001/protocol"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sessionstore"
)

// defaultInterval is the sweep period. Expiry is also checked lazily on every
// store access, so the sweeper only bounds how late the broadcast can be.
const defaultInterval = 60 * time.Second

// Sweeper periodically expires and reclaims sessions.
type Sweeper struct {
	store    *sessionstore.Store
	logger   zerolog.Logger
	interval time.Duration
}

// Option configures the sweeper.
type Option func(*Sweeper)

// WithInterval overrides the sweep period.
func WithInterval(d time.Duration) Option {
	return func(sw *Sweeper) {
		if d > 0 {
			sw.interval = d
		}
	}
}

// New creates a sweeper over the given store.
func New(store *sessionstore.Store, logger zerolog.Logger, opts ...Option) *Sweeper {
	sw := &Sweeper{
		store:    store,
		logger:   logger.With().Str("component", "expiry_sweeper").Logger(),
		interval: defaultInterval,
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info().Dur("interval", sw.interval).Msg("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			sw.logger.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			sw.Sweep()
		}
	}
}

// Sweep performs one pass: expiry broadcasts first, then grace-period
// reclamation, then the active-sessions gauge.
func (sw *Sweeper) Sweep() {
	expired := sw.store.CollectExpired()
	for _, es := range expired {
		metrics.SessionsTerminal.WithLabelValues(string(sessionstore.StatusExpired)).Inc()
		sw.logger.Info().Str("session_id", es.SessionID).Msg("session expired")

		frame := protocol.MustEncode(protocol.MsgSessionExpired, nil)
		for _, sub := range es.Subscriptions {
			if err := sub.Send(frame); err != nil {
				sub.Close()
			}
		}
	}

	for _, id := range sw.store.ReclaimDeleted() {
		sw.logger.Debug().Str("session_id", id).Msg("session reclaimed")
	}

	metrics.ActiveSessions.Set(float64(len(sw.store.ListActive())))
}
