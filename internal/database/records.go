package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/cosmetics-harvester/internal/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS product_records (
		run_id       TEXT        NOT NULL,
		product_id   BIGINT      NOT NULL,
		price        BIGINT      NOT NULL,
		rating       DOUBLE PRECISION NOT NULL,
		review_count INTEGER     NOT NULL,
		composition  TEXT        NOT NULL,
		position     INTEGER     NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, product_id)
	)`

const upsertRecord = `
	INSERT INTO product_records (run_id, product_id, price, rating, review_count, composition, position)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (run_id, product_id) DO UPDATE SET
		price = EXCLUDED.price,
		rating = EXCLUDED.rating,
		review_count = EXCLUDED.review_count,
		composition = EXCLUDED.composition,
		position = EXCLUDED.position`

// RecordSink stores each run's records in the product_records table.
type RecordSink struct {
	db     *DB
	logger *slog.Logger
}

func NewRecordSink(db *DB, logger *slog.Logger) *RecordSink {
	return &RecordSink{db: db, logger: logger.With("component", "postgres_sink")}
}

func (s *RecordSink) Name() string { return "postgres" }

func (s *RecordSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create product_records: %w", err)
	}
	return nil
}

// Write upserts records in one transaction. A product listed twice in a run
// keeps its last position.
func (s *RecordSink) Write(ctx context.Context, runID string, records []models.ProductRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := buildBatch(runID, records)

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("failed to upsert record %d: %w", records[i].ProductID, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return err
	}

	s.logger.Info("records stored", "run_id", runID, "count", len(records))
	return nil
}

// CountRun returns how many records a run stored.
func (s *RecordSink) CountRun(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM product_records WHERE run_id = $1`, runID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func buildBatch(runID string, records []models.ProductRecord) *pgx.Batch {
	batch := &pgx.Batch{}
	for i, r := range records {
		batch.Queue(upsertRecord, runID, r.ProductID, r.Price, r.Rating, r.ReviewCount, r.Composition, i)
	}
	return batch
}
