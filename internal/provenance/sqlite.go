package provenance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/knowledgenet/datagate/internal/models"
)

// SQLiteLog is a persistent append-only EventLog. Rows are only ever
// inserted; the chain survives process restarts.
type SQLiteLog struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteLog opens (or creates) the provenance database at the given path.
func NewSQLiteLog(path string, logger zerolog.Logger) (*SQLiteLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create provenance directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open provenance database: %w", err)
	}

	l := &SQLiteLog{
		db:     db,
		logger: logger.With().Str("component", "provenance_log").Logger(),
	}

	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate provenance database: %w", err)
	}

	l.logger.Info().Str("path", path).Msg("provenance log initialized")
	return l, nil
}

func (l *SQLiteLog) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS provenance_events (
			id TEXT PRIMARY KEY,
			dataset_id TEXT NOT NULL,
			hash TEXT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			metadata TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_provenance_events_dataset ON provenance_events(dataset_id, timestamp);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Append inserts one event row.
func (l *SQLiteLog) Append(ctx context.Context, datasetID string, link models.ProvenanceLink) error {
	var metaJSON sql.NullString
	if len(link.Metadata) > 0 {
		data, err := json.Marshal(link.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO provenance_events (id, dataset_id, hash, action, actor, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query,
		uuid.NewString(),
		datasetID,
		link.Hash,
		string(link.Action),
		link.Actor,
		link.Timestamp.UTC().Format(time.RFC3339Nano),
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("insert provenance event: %w", err)
	}
	return nil
}

// Events returns all events for a dataset in insertion/timestamp order.
func (l *SQLiteLog) Events(ctx context.Context, datasetID string) ([]models.ProvenanceLink, error) {
	query := `
		SELECT hash, action, actor, timestamp, metadata
		FROM provenance_events
		WHERE dataset_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`
	rows, err := l.db.QueryContext(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("query provenance events: %w", err)
	}
	defer rows.Close()

	var events []models.ProvenanceLink
	for rows.Next() {
		var (
			link     models.ProvenanceLink
			action   string
			ts       string
			metaJSON sql.NullString
		)
		if err := rows.Scan(&link.Hash, &action, &link.Actor, &ts, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan provenance event: %w", err)
		}
		link.Action = models.ProvenanceAction(action)
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		link.Timestamp = parsed
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &link.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		events = append(events, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance events: %w", err)
	}
	return events, nil
}

// Close closes the underlying database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
