package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DepositRepository reads the deposits table
type DepositRepository struct {
	db *sqlx.DB
}

// NewDepositRepository creates a new deposit repository
func NewDepositRepository(db *sqlx.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

// DistinctAddresses returns every custodial address that ever received a deposit,
// oldest first, compared case-insensitively.
func (r *DepositRepository) DistinctAddresses(ctx context.Context) ([]string, error) {
	query := `
		SELECT address FROM (
			SELECT DISTINCT ON (LOWER(address)) address, created_at
			FROM deposits
			ORDER BY LOWER(address), created_at
		) d
		ORDER BY created_at
	`

	var addresses []string
	if err := r.db.SelectContext(ctx, &addresses, query); err != nil {
		return nil, fmt.Errorf("failed to list deposit addresses: %w", err)
	}
	return addresses, nil
}
