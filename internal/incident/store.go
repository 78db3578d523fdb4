// Package incident provides PostgreSQL-backed storage for moderation
// incidents. Each incident records who was actioned in which chat, why, and
// what the bot did, for later review by chat admins.
package incident

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/whisper/guardbot/internal/engine"
	"github.com/whisper/guardbot/internal/platform"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// validReasons matches the CHECK constraint on moderation_incidents.
var validReasons = map[string]bool{
	"abusive_language": true,
	"disallowed_link":  true,
}

// Store manages incidents in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open applies pending migrations, then connects to databaseURL.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := Migrate(databaseURL); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("incident: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("incident: ping: %w", err)
	}
	return NewStore(db), nil
}

// Migrate brings the schema at databaseURL up to date.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("incident: migrations source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("incident: migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("incident: migrate up: %w", err)
	}
	v, _, _ := m.Version()
	log.Info().Str("component", "incident").Uint("version", v).Msg("schema ready")
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Emit inserts ev. It implements engine.EventSink.
func (s *Store) Emit(ctx context.Context, ev engine.Event) error {
	if !validReasons[ev.Reason] {
		return fmt.Errorf("incident: invalid reason %q", ev.Reason)
	}
	if ev.ID == "" {
		return errors.New("incident: missing event id")
	}

	const query = `
		INSERT INTO moderation_incidents
			(id, chat_id, user_id, user_name, reason, term, tier, action, duration_seconds, deleted, failed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		int64(ev.ChatID),
		int64(ev.User.ID),
		ev.User.FullName(),
		ev.Reason,
		ev.Term,
		ev.Tier,
		ev.Action,
		int(ev.Duration/time.Second),
		ev.Deleted,
		ev.Failed,
		at,
	)
	if err != nil {
		return fmt.Errorf("incident: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of incidents for a user in a chat within
// window.
func (s *Store) CountRecent(ctx context.Context, chatID platform.ChatID, userID platform.UserID, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_incidents
		WHERE chat_id = $1
		  AND user_id = $2
		  AND created_at >= $3`

	var count int
	err := s.db.QueryRowContext(ctx, query, int64(chatID), int64(userID), time.Now().Add(-window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incident: count recent: %w", err)
	}
	return count, nil
}
