package escalation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/whisper/guardbot/internal/metrics"
)

// SnapshotStore persists ledger records outside the process.
type SnapshotStore interface {
	Save(ctx context.Context, records []Record) error
	Load(ctx context.Context) ([]Record, error)
}

// StartDecay runs the decay sweep every interval until ctx is cancelled. When
// store is non-nil the ledger is snapshotted after each sweep and once more on
// shutdown. Extra hooks run after each sweep with the sweep time.
func StartDecay(ctx context.Context, ledger *Ledger, interval time.Duration, store SnapshotStore, hooks ...func(now time.Time)) {
	if interval <= 0 {
		interval = DefaultDecayInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.With().Str("component", "escalation").Logger()

	for {
		select {
		case <-ctx.Done():
			if store != nil {
				// the parent context is already done
				saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				saveSnapshot(saveCtx, ledger, store)
				cancel()
			}
			logger.Info().Msg("decay loop stopped")
			return
		case now := <-ticker.C:
			if n := ledger.Sweep(now); n > 0 {
				metrics.DecayResets.Add(float64(n))
				logger.Info().Int("reset", n).Msg("decay sweep reset stale records")
			}
			for _, h := range hooks {
				h(now)
			}
			if store != nil {
				saveSnapshot(ctx, ledger, store)
			}
		}
	}
}

// RestoreSnapshot loads the stored records into ledger.
func RestoreSnapshot(ctx context.Context, ledger *Ledger, store SnapshotStore, now time.Time) (int, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return 0, err
	}
	return ledger.Restore(records, now), nil
}

func saveSnapshot(ctx context.Context, ledger *Ledger, store SnapshotStore) {
	records := ledger.Snapshot()
	if err := store.Save(ctx, records); err != nil {
		log.Error().Err(err).Str("component", "escalation").Msg("snapshot save failed")
		return
	}
	log.Debug().Str("component", "escalation").Int("records", len(records)).Msg("snapshot saved")
}
