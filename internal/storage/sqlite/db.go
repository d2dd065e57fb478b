// Package sqlite persists generated digests and the per-message
// classifications behind them.
package sqlite

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"slackdigest/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS digest_runs (
		id           TEXT PRIMARY KEY,
		channel_id   TEXT NOT NULL,
		channel_name TEXT DEFAULT '',
		range_start  DATETIME NOT NULL,
		range_end    DATETIME NOT NULL,
		total        INTEGER NOT NULL DEFAULT 0,
		content      TEXT NOT NULL,
		created_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_digest_runs_channel ON digest_runs(channel_id, created_at);

	CREATE TABLE IF NOT EXISTS message_classifications (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id         TEXT NOT NULL,
		message_ts     TEXT NOT NULL,
		requester_id   TEXT DEFAULT '',
		workflow       TEXT NOT NULL,
		severity       TEXT NOT NULL,
		is_question    INTEGER NOT NULL DEFAULT 0,
		ticket_ids     TEXT DEFAULT '',
		has_thread     INTEGER NOT NULL DEFAULT 0,
		reaction_count INTEGER NOT NULL DEFAULT 0,
		confidence     REAL NOT NULL,
		classified_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mc_run ON message_classifications(run_id);
	CREATE INDEX IF NOT EXISTS idx_mc_date ON message_classifications(classified_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// InsertDigestRun stores run and its classified messages in one transaction
// and returns the run id, generating one when run.ID is empty.
func InsertDigestRun(db *sql.DB, run domain.DigestRun, msgs []domain.ClassifiedMessage) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	createdAt := run.CreatedAt.UTC()

	tx, err := db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO digest_runs (id, channel_id, channel_name, range_start, range_end, total, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ChannelID, run.ChannelName, run.Range.Start.UTC(), run.Range.End.UTC(),
		run.Total, run.Content, createdAt,
	)
	if err != nil {
		return "", err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO message_classifications (run_id, message_ts, requester_id, workflow, severity, is_question, ticket_ids, has_thread, reaction_count, confidence, classified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for _, m := range msgs {
		c := m.Classification
		_, err := stmt.Exec(
			run.ID, m.Message.TS, m.RequesterID(), string(c.Workflow), string(c.Severity),
			c.IsQuestion, strings.Join(c.JiraTickets, ","), c.HasThread, c.ReactionCount,
			c.ResolutionConfidence, createdAt,
		)
		if err != nil {
			return "", err
		}
	}

	return run.ID, tx.Commit()
}

// GetLatestDigestRun returns the newest run for channelID, or sql.ErrNoRows.
func GetLatestDigestRun(db *sql.DB, channelID string) (domain.DigestRun, error) {
	row := db.QueryRow(
		`SELECT id, channel_id, channel_name, range_start, range_end, total, content, created_at
		 FROM digest_runs WHERE channel_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		channelID,
	)
	return scanRun(row)
}

func ListDigestRuns(db *sql.DB, since time.Time) ([]domain.DigestRun, error) {
	rows, err := db.Query(
		`SELECT id, channel_id, channel_name, range_start, range_end, total, content, created_at
		 FROM digest_runs WHERE created_at >= ? ORDER BY created_at, rowid`,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.DigestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (domain.DigestRun, error) {
	var run domain.DigestRun
	err := s.Scan(
		&run.ID, &run.ChannelID, &run.ChannelName, &run.Range.Start, &run.Range.End,
		&run.Total, &run.Content, &run.CreatedAt,
	)
	return run, err
}

type ClassificationStats struct {
	Runs                 int
	TotalClassifications int
	AvgConfidence        float64
	Resolved             int
	Likely               int
	NeedsAttention       int
	Questions            int
	Workflows            []domain.Count
}

func GetClassificationStats(db *sql.DB, since time.Time) (ClassificationStats, error) {
	since = since.UTC()
	var s ClassificationStats
	err := db.QueryRow(
		`SELECT COUNT(*), COALESCE(AVG(confidence), 0),
		        COALESCE(SUM(CASE WHEN confidence >= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence >= ? AND confidence < ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN confidence < ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(is_question), 0)
		 FROM message_classifications WHERE classified_at >= ?`,
		domain.ResolvedThreshold,
		domain.LikelyThreshold, domain.ResolvedThreshold,
		domain.LikelyThreshold,
		since,
	).Scan(&s.TotalClassifications, &s.AvgConfidence, &s.Resolved, &s.Likely, &s.NeedsAttention, &s.Questions)
	if err != nil {
		return s, err
	}

	if err := db.QueryRow(`SELECT COUNT(*) FROM digest_runs WHERE created_at >= ?`, since).Scan(&s.Runs); err != nil {
		return s, err
	}

	rows, err := db.Query(
		`SELECT workflow, COUNT(*) as cnt
		 FROM message_classifications
		 WHERE classified_at >= ?
		 GROUP BY workflow
		 ORDER BY cnt DESC, workflow`,
		since,
	)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.Count
		if err := rows.Scan(&c.Key, &c.N); err != nil {
			return s, err
		}
		s.Workflows = append(s.Workflows, c)
	}
	return s, rows.Err()
}

// Store adapts the package functions to the digest runner.
type Store struct {
	DB *sql.DB
}

func (s Store) SaveDigestRun(run domain.DigestRun, msgs []domain.ClassifiedMessage) (string, error) {
	return InsertDigestRun(s.DB, run, msgs)
}

func (s Store) ClassificationStats(since time.Time) (ClassificationStats, error) {
	return GetClassificationStats(s.DB, since)
}

func (s Store) DigestRuns(since time.Time) ([]domain.DigestRun, error) {
	return ListDigestRuns(s.DB, since)
}

// LatestDigestRun reports false when channelID has no stored digest.
func (s Store) LatestDigestRun(channelID string) (domain.DigestRun, bool, error) {
	run, err := GetLatestDigestRun(s.DB, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DigestRun{}, false, nil
	}
	if err != nil {
		return domain.DigestRun{}, false, err
	}
	return run, true, nil
}
