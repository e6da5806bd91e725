package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proculyze/analyzer/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore is the production Store, backed by a pgx/v5 connection
// pool. Schema is managed with golang-migrate against embedded SQL files,
// following the teacher's embed-and-auto-apply-on-startup pattern.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, applies pending migrations, and
// returns a ready Store.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// runMigrations applies embedded SQL migrations using golang-migrate's
// source/iofs driver against dsn, following the teacher's
// embed-and-auto-apply-on-startup pattern (pkg/database/migrations.go).
func runMigrations(dsn string) error {
	driver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	reportJSON, err := json.Marshal(a.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	qaJSON, err := json.Marshal(a.QA)
	if err != nil {
		return fmt.Errorf("failed to marshal qa score: %w", err)
	}
	docsJSON, err := json.Marshal(a.Documents)
	if err != nil {
		return fmt.Errorf("failed to marshal documents: %w", err)
	}
	metricsJSON, err := json.Marshal(a.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO analyses (id, created_at, status, model, documents, report, qa_score, metrics, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.CreatedAt, string(a.Status), a.Model, docsJSON, reportJSON, qaJSON, metricsJSON, a.Error)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*models.Analysis, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, created_at, completed_at, status, model, documents, report, qa_score, metrics, error_message
		FROM analyses WHERE id = $1
	`, id)

	a := &models.Analysis{}
	var docsJSON, reportJSON, qaJSON, metricsJSON []byte
	err := row.Scan(&a.ID, &a.CreatedAt, &a.CompletedAt, &a.Status, &a.Model, &docsJSON, &reportJSON, &qaJSON, &metricsJSON, &a.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}

	if err := json.Unmarshal(docsJSON, &a.Documents); err != nil {
		return nil, fmt.Errorf("failed to unmarshal documents: %w", err)
	}
	if len(reportJSON) > 0 {
		if err := json.Unmarshal(reportJSON, &a.Report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
	}
	if len(qaJSON) > 0 {
		if err := json.Unmarshal(qaJSON, &a.QA); err != nil {
			return nil, fmt.Errorf("failed to unmarshal qa score: %w", err)
		}
	}
	if err := json.Unmarshal(metricsJSON, &a.Metrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAnalysis(ctx context.Context, a *models.Analysis) error {
	reportJSON, err := json.Marshal(a.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	qaJSON, err := json.Marshal(a.QA)
	if err != nil {
		return fmt.Errorf("failed to marshal qa score: %w", err)
	}
	docsJSON, err := json.Marshal(a.Documents)
	if err != nil {
		return fmt.Errorf("failed to marshal documents: %w", err)
	}
	metricsJSON, err := json.Marshal(a.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE analyses
		SET completed_at = $2, status = $3, documents = $4, report = $5, qa_score = $6, metrics = $7, error_message = $8
		WHERE id = $1
	`, a.ID, a.CompletedAt, string(a.Status), docsJSON, reportJSON, qaJSON, metricsJSON, a.Error)
	if err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAnalysis(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, limit, offset int) ([]*models.Analysis, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at, completed_at, status, model, documents, report, qa_score, metrics, error_message
		FROM analyses ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var out []*models.Analysis
	for rows.Next() {
		a := &models.Analysis{}
		var docsJSON, reportJSON, qaJSON, metricsJSON []byte
		if err := rows.Scan(&a.ID, &a.CreatedAt, &a.CompletedAt, &a.Status, &a.Model, &docsJSON, &reportJSON, &qaJSON, &metricsJSON, &a.Error); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		_ = json.Unmarshal(docsJSON, &a.Documents)
		_ = json.Unmarshal(reportJSON, &a.Report)
		_ = json.Unmarshal(qaJSON, &a.QA)
		_ = json.Unmarshal(metricsJSON, &a.Metrics)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, analysisID string, evt models.Event) (models.Event, error) {
	dataJSON, err := json.Marshal(evt.Data)
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO analysis_events (analysis_id, idx, event_type, created_at, data)
		VALUES ($1, (SELECT COALESCE(MAX(idx), -1) + 1 FROM analysis_events WHERE analysis_id = $1), $2, $3, $4)
		RETURNING idx
	`, analysisID, string(evt.Type), evt.Timestamp, dataJSON)

	var idx int64
	if err := row.Scan(&idx); err != nil {
		return models.Event{}, fmt.Errorf("failed to insert event: %w", err)
	}
	evt.Index = uint32(idx)
	return evt, nil
}

func (s *PostgresStore) ReadEventsFrom(ctx context.Context, analysisID string, sinceIndex uint32) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT idx, event_type, created_at, data
		FROM analysis_events WHERE analysis_id = $1 AND idx >= $2 ORDER BY idx ASC
	`, analysisID, sinceIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var evt models.Event
		var idx int64
		var dataJSON []byte
		if err := rows.Scan(&idx, &evt.Type, &evt.Timestamp, &dataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		evt.Index = uint32(idx)
		if err := json.Unmarshal(dataJSON, &evt.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendChatMessage(ctx context.Context, analysisID string, msg ChatMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (analysis_id, role, content, created_at) VALUES ($1, $2, $3, $4)
	`, analysisID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChatMessages(ctx context.Context, analysisID string, limit int) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content, created_at FROM chat_messages
		WHERE analysis_id = $1 ORDER BY created_at ASC
	`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
