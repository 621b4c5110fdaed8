// Package dbtest opens migrated in-memory sqlite databases for tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatflowers/stembill/internal/platform/db"
	"github.com/fatflowers/stembill/pkg/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// New returns a fresh database private to t.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	l := zap.NewNop().Sugar()
	gdb, err := db.Open(l, config.DBConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(l, gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
