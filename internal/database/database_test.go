package database

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gold-exchange-go/internal/config"
	"gold-exchange-go/internal/models"
)

func TestNewDatabase(t *testing.T) {
	t.Run("SQLite is migrated", func(t *testing.T) {
		dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "gold.db"))

		db, err := NewDatabase(config.Database{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1}, zap.NewNop())
		require.NoError(t, err)
		sqlDB, err := db.DB()
		require.NoError(t, err)
		defer sqlDB.Close()

		for _, model := range []any{&models.Order{}, &models.Trade{}, &models.Account{}, &models.LedgerEntry{}, &models.Job{}} {
			assert.True(t, db.Migrator().HasTable(model), "%T", model)
		}
		assert.True(t, db.Migrator().HasIndex(&models.Order{}, "idx_orders_user_idempotency"))
	})

	t.Run("Unknown driver", func(t *testing.T) {
		_, err := NewDatabase(config.Database{Driver: "oracle"}, zap.NewNop())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})
}
