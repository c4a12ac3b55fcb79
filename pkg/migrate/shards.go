package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
)

// EnsurePlatformShards creates the root shard and shards 1..n when missing.
// Existing rows keep their balances.
func EnsurePlatformShards(ctx context.Context, conn *gorm.DB, n int) (int64, error) {
	if n < 1 {
		return 0, fmt.Errorf("platform shard count must be at least 1, got %d", n)
	}
	rows := make([]models.PlatformShard, 0, n+1)
	for id := 0; id <= n; id++ {
		rows = append(rows, models.PlatformShard{ID: id})
	}
	res := conn.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("seed platform shards: %w", res.Error)
	}
	return res.RowsAffected, nil
}
