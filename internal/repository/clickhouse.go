package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"QRKot/internal/model"
)

// ClickhouseRepo пишет журнал распределения средств в ClickHouse
type ClickhouseRepo struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewClickhouseRepo создаёт репозиторий для ClickHouse
func NewClickhouseRepo(db *sql.DB, log zerolog.Logger) *ClickhouseRepo {
	return &ClickhouseRepo{db: db, log: log}
}

// BatchInsertEvents записывает пакет событий в investment_log одним блоком.
// clickhouse-go собирает все Exec подготовленного запроса и отправляет их при Commit.
func (r *ClickhouseRepo) BatchInsertEvents(ctx context.Context, events []model.InvestmentEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clickhouse batch: %w", err)
	}
	query := `INSERT INTO investment_log (ProjectId, DonationId, Amount, ProjectClosed, DonationClosed, EventTime) VALUES (?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare clickhouse batch: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			uint64(e.ProjectID), uint64(e.DonationID), uint64(e.Amount),
			boolToUInt8(e.ProjectClosed), boolToUInt8(e.DonationClosed),
			e.CreatedAt,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to append event to clickhouse batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clickhouse batch: %w", err)
	}
	r.log.Debug().Int("events", len(events)).Msg("investment events written to clickhouse")
	return nil
}

// boolToUInt8 конвертирует bool в UInt8 (0/1)
func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
