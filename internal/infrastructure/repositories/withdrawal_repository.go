package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/rail-service/custody_service/internal/domain/entities"
)

const transferColumns = `id, user_id, address, status, amount, currency, fee_amount, tx_id, batch_id, created_at`

// WithdrawalRepository persists token sweeps
type WithdrawalRepository struct {
	db *sqlx.DB
}

// NewWithdrawalRepository creates a new withdrawal repository
func NewWithdrawalRepository(db *sqlx.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

// Create creates a new withdrawal record
func (r *WithdrawalRepository) Create(ctx context.Context, record *entities.WithdrawalRecord) error {
	query := `
		INSERT INTO custody_withdrawals (` + transferColumns + `)
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
		return fmt.Errorf("failed to create withdrawal record: %w", err)
	}

	return nil
}

// List returns withdrawal records matching filter, ordered by created_at.
func (r *WithdrawalRepository) List(ctx context.Context, filter entities.WithdrawalFilter) ([]*entities.WithdrawalRecord, error) {
	query, args := buildWithdrawalQuery(filter)

	records := []*entities.WithdrawalRecord{}
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list withdrawal records: %w", err)
	}
	return records, nil
}

func buildWithdrawalQuery(filter entities.WithdrawalFilter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	query := `SELECT ` + transferColumns + ` FROM custody_withdrawals`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	order := "DESC"
	if strings.EqualFold(filter.OrderBy, "asc") {
		order = "ASC"
	}
	query += " ORDER BY created_at " + order

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return query, args
}
