package repositories

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/rail-service/custody_service/internal/domain/entities"
)

func TestBuildWithdrawalQuery(t *testing.T) {
	userID := uuid.New()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	tests := []struct {
		name      string
		filter    entities.WithdrawalFilter
		contains  []string
		argsCount int
	}{
		{
			name:      "no filter defaults to newest first",
			filter:    entities.WithdrawalFilter{},
			contains:  []string{"FROM custody_withdrawals ORDER BY created_at DESC"},
			argsCount: 0,
		},
		{
			name:      "user and range ascending",
			filter:    entities.WithdrawalFilter{UserID: &userID, StartDate: &start, EndDate: &end, OrderBy: "ASC"},
			contains:  []string{"user_id = $1", "created_at >= $2", "created_at <= $3", "ORDER BY created_at ASC"},
			argsCount: 3,
		},
		{
			name:      "limit is positional",
			filter:    entities.WithdrawalFilter{EndDate: &end, Limit: 50},
			contains:  []string{"WHERE created_at <= $1", "LIMIT $2"},
			argsCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildWithdrawalQuery(tt.filter)
			for _, fragment := range tt.contains {
				assert.Contains(t, query, fragment)
			}
			assert.Len(t, args, tt.argsCount)
		})
	}
}
