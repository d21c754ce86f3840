package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rail-service/custody_service/internal/domain/entities"
)

// FundingRepository persists native gas top-ups
type FundingRepository struct {
	db *sqlx.DB
}

// NewFundingRepository creates a new funding repository
func NewFundingRepository(db *sqlx.DB) *FundingRepository {
	return &FundingRepository{db: db}
}

// Create creates a new funding record
func (r *FundingRepository) Create(ctx context.Context, record *entities.FundingRecord) error {
	query := `
		INSERT INTO native_fundings (` + transferColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		record.Address,
		record.Status,
		record.Amount,
		record.Currency,
		record.FeeAmount,
		record.TxID,
		record.BatchID,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create funding record: %w", err)
	}

	return nil
}
