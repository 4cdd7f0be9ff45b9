// Package indexdb keeps a queryable index of finished episodes. SQLite is
// the default; Postgres is supported for shared deployments.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an episode is not indexed.
var ErrNotFound = errors.New("episode not found")

// Episode summarises one finished episode.
type Episode struct {
	EpisodeID        string    `json:"episode_id"`
	ActorID          string    `json:"actor_id"`
	EnvID            string    `json:"env_id"`
	DelayMode        string    `json:"delay_mode"`
	Seed             int64     `json:"seed"`
	Steps            int       `json:"steps"`
	TotalReward      float64   `json:"total_reward"`
	Truncated        bool      `json:"truncated"`
	MeanObsDelay     float64   `json:"mean_observation_delay"`
	MeanActDelay     float64   `json:"mean_action_delay"`
	DroppedActions   int       `json:"dropped_actions"`
	HeldObservations int       `json:"held_observations"`
	SnapshotPath     string    `json:"snapshot_path,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
}

// Index stores episode summaries.
type Index struct {
	db     *sql.DB
	driver string
}

// Open connects to driver ("sqlite" or "postgres"). For sqlite the dsn is
// a file path whose parent directory is created.
func Open(driver, dsn string) (*Index, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty index dsn")
	}
	switch driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported index driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if err := initPragmas(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Index{db: db, driver: driver}, nil
}

func initPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS episodes (
			episode_id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			env_id TEXT NOT NULL,
			delay_mode TEXT NOT NULL,
			seed BIGINT NOT NULL,
			steps INTEGER NOT NULL,
			total_reward DOUBLE PRECISION NOT NULL,
			truncated BOOLEAN NOT NULL,
			mean_obs_delay DOUBLE PRECISION NOT NULL,
			mean_act_delay DOUBLE PRECISION NOT NULL,
			dropped_actions INTEGER NOT NULL,
			held_observations INTEGER NOT NULL,
			snapshot_path TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			ended_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS episodes_actor_idx ON episodes(actor_id, ended_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// bind rewrites ? placeholders into the driver's syntax.
func (x *Index) bind(query string) string {
	if x.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const episodeColumns = `episode_id, actor_id, env_id, delay_mode, seed, steps, total_reward, truncated,
	mean_obs_delay, mean_act_delay, dropped_actions, held_observations, snapshot_path, started_at, ended_at`

// RecordEpisode inserts or replaces an episode summary.
func (x *Index) RecordEpisode(ctx context.Context, e Episode) error {
	q := x.bind(`INSERT INTO episodes (` + episodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (episode_id) DO UPDATE SET
			steps = excluded.steps,
			total_reward = excluded.total_reward,
			truncated = excluded.truncated,
			mean_obs_delay = excluded.mean_obs_delay,
			mean_act_delay = excluded.mean_act_delay,
			dropped_actions = excluded.dropped_actions,
			held_observations = excluded.held_observations,
			snapshot_path = excluded.snapshot_path,
			ended_at = excluded.ended_at`)
	_, err := x.db.ExecContext(ctx, q,
		e.EpisodeID, e.ActorID, e.EnvID, e.DelayMode, e.Seed, e.Steps, e.TotalReward, e.Truncated,
		e.MeanObsDelay, e.MeanActDelay, e.DroppedActions, e.HeldObservations, e.SnapshotPath,
		e.StartedAt.UnixMilli(), e.EndedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record episode %s: %w", e.EpisodeID, err)
	}
	return nil
}

// GetEpisode looks up one episode.
func (x *Index) GetEpisode(ctx context.Context, id string) (Episode, error) {
	row := x.db.QueryRowContext(ctx, x.bind(`SELECT `+episodeColumns+` FROM episodes WHERE episode_id = ?`), id)
	e, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Episode{}, ErrNotFound
	}
	return e, err
}

// ListEpisodes returns the most recent episodes of an actor, newest first.
// An empty actorID lists every actor.
func (x *Index) ListEpisodes(ctx context.Context, actorID string, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + episodeColumns + ` FROM episodes`
	args := []any{}
	if actorID != "" {
		q += ` WHERE actor_id = ?`
		args = append(args, actorID)
	}
	q += ` ORDER BY ended_at DESC, episode_id LIMIT ?`
	args = append(args, limit)

	rows, err := x.db.QueryContext(ctx, x.bind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEpisode(s scanner) (Episode, error) {
	var e Episode
	var started, ended int64
	err := s.Scan(&e.EpisodeID, &e.ActorID, &e.EnvID, &e.DelayMode, &e.Seed, &e.Steps, &e.TotalReward, &e.Truncated,
		&e.MeanObsDelay, &e.MeanActDelay, &e.DroppedActions, &e.HeldObservations, &e.SnapshotPath, &started, &ended)
	if err != nil {
		return Episode{}, err
	}
	e.StartedAt = time.UnixMilli(started).UTC()
	e.EndedAt = time.UnixMilli(ended).UTC()
	return e, nil
}

// Close closes the database.
func (x *Index) Close() error { return x.db.Close() }
