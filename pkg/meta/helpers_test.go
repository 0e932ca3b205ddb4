package meta

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestRepo 构建隔离的测试环境 (每个测试一个内存库)
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(AllModels()...))
	t.Cleanup(func() { _ = metaDB.Close() })

	return NewRepository(metaDB)
}

// mustClaim 断言抢占结果
func mustClaim(t *testing.T, repo *Repository, pair string, id int64, session string, want bool, msgAndArgs ...any) {
	t.Helper()
	got, err := repo.ClaimItem(context.Background(), pair, id, session)
	require.NoError(t, err, msgAndArgs...)
	require.Equal(t, want, got, msgAndArgs...)
}

func mustFinish(t *testing.T, repo *Repository, pair string, id int64, status string) {
	t.Helper()
	require.NoError(t, repo.FinishItem(context.Background(), pair, id, status, ""))
}
