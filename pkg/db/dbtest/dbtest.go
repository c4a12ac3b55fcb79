// Package dbtest opens throwaway sqlite databases carrying the ledger schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketledger-backend/pkg/db"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
)

// Models lists every table the services touch, in creation order.
var Models = []any{
	&models.Account{},
	&models.PlatformShard{},
	&models.WalletTransaction{},
	&models.Order{},
	&models.OrderStatusEvent{},
	&models.DeliveryRequest{},
	&models.OrderSettlement{},
	&models.CommissionRule{},
	&models.Notification{},
	&models.OutboxEvent{},
	&models.OutboxDLQ{},
}

// Open returns a client over a private in-memory database. The pool is capped
// at one connection, so code inside a transaction must only use the tx handle
// and concurrent callers run one transaction at a time. Lost-update paths are
// reached by serving stale snapshots from a wrapped repository instead.
func Open(t *testing.T, opts ...dbpkg.Option) *dbpkg.Client {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_") + "_" + uuid.NewString()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(Models...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return dbpkg.Wrap(conn, opts...)
}

// SeedShards creates the root shard plus n platform shards at zero.
func SeedShards(t *testing.T, client *dbpkg.Client, n int) {
	t.Helper()
	for i := 0; i <= n; i++ {
		if err := client.DB().Create(&models.PlatformShard{ID: i}).Error; err != nil {
			t.Fatalf("seed shard %d: %v", i, err)
		}
	}
}
