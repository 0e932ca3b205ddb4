package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chunkrelay/pkg/checkpoint"
	"chunkrelay/pkg/config"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/storage/disk"
	"chunkrelay/pkg/topicmap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.DiscardHandler)

// testSettings 返回一份全部落在临时目录里的配置
func testSettings(t *testing.T) config.Settings {
	t.Helper()
	dir := t.TempDir()
	return config.Settings{
		Platform: config.PlatformConfig{Addr: "localhost:1"},
		Source:   config.EndpointConfig{Container: -100},
		Target:   config.EndpointConfig{Container: -200, Topic: 3},
		Transfer: config.TransferConfig{
			ChunkSize:      512 * 1024,
			Parallel:       10,
			MinInterval:    time.Second,
			SmallThreshold: 10 << 20,
			PartAttempts:   5,
			RetryDelay:     time.Millisecond,
			ThrottleMargin: time.Second,
		},
		Checkpoint: config.CheckpointConfig{Backend: "file", Path: filepath.Join(dir, "checkpoint.txt")},
		Topics:     config.TopicsConfig{Backend: "file", Path: filepath.Join(dir, "topic_map.tsv"), AutoCreate: true},
		Database:   config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "relay.db")},
		Storage:    config.StorageConfig{Type: "disk", Path: filepath.Join(dir, "objects")},
		Log:        config.LogConfig{Level: "info"},
	}
}

func TestInitStore_Disk(t *testing.T) {
	s := testSettings(t)
	store, err := initStore(context.Background(), s.Storage, config.CacheConfig{}, quiet)
	require.NoError(t, err)
	assert.IsType(t, &disk.Adapter{}, store)
}

func TestInitStore_S3_MissingBucket(t *testing.T) {
	store, err := initStore(context.Background(), config.StorageConfig{Type: "s3"}, config.CacheConfig{}, quiet)
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestInitStore_UnknownType(t *testing.T) {
	store, err := initStore(context.Background(), config.StorageConfig{Type: "ftp"}, config.CacheConfig{}, quiet)
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "unsupported storage type")
}

func TestInitStore_BadCacheURL(t *testing.T) {
	s := testSettings(t)
	_, err := initStore(context.Background(), s.Storage, config.CacheConfig{RedisURL: "not a url"}, quiet)
	assert.Error(t, err)
}

func TestOpenLedger(t *testing.T) {
	ctx := context.Background()
	s := testSettings(t)

	l, c, err := OpenLedger(ctx, s, quiet)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.IsType(t, &checkpoint.FileLedger{}, l)

	s.Checkpoint.Backend = "db"
	s.Checkpoint.Session = "worker-1"
	l, c, err = OpenLedger(ctx, s, quiet)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Close()

	db, ok := l.(*checkpoint.DBLedger)
	require.True(t, ok)
	assert.Equal(t, "worker-1", db.Session())

	s.Checkpoint.Backend = "zookeeper"
	_, _, err = OpenLedger(ctx, s, quiet)
	assert.Error(t, err)
}

func TestOpenTopicStore(t *testing.T) {
	ctx := context.Background()
	s := testSettings(t)

	store, c, err := OpenTopicStore(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.IsType(t, &topicmap.FileStore{}, store)

	s.Topics.Backend = "none"
	store, _, err = OpenTopicStore(ctx, s)
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestNewRelay_WiresComponents(t *testing.T) {
	s := testSettings(t)

	// 连接在后台建立，组装阶段不需要 hub 在线
	r, err := NewRelay(context.Background(), s, quiet)
	require.NoError(t, err)
	defer r.Close()

	assert.NotNil(t, r.Client)
	assert.NotNil(t, r.Orchestrator)
	assert.NotNil(t, r.Topics)
	assert.IsType(t, &checkpoint.FileLedger{}, r.Ledger)
}

func TestNewRelay_NoTopicMap(t *testing.T) {
	s := testSettings(t)
	s.Topics.Backend = "none"
	s.Checkpoint.Backend = "db"

	r, err := NewRelay(context.Background(), s, quiet)
	require.NoError(t, err)
	defer r.Close()
	assert.Nil(t, r.Topics)
	assert.IsType(t, &checkpoint.DBLedger{}, r.Ledger)
}

func TestNewHub_SendAndRead(t *testing.T) {
	ctx := context.Background()
	s := testSettings(t)

	h, err := NewHub(ctx, s, quiet)
	require.NoError(t, err)
	defer h.Close()

	id, err := h.Hub.Send(ctx, platform.SendRequest{Container: -100, Text: "hello"})
	require.NoError(t, err)

	it, err := h.Hub.IterateItems(ctx, -100, 0)
	require.NoError(t, err)
	defer it.Close()
	item, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, "hello", item.Text)

	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestNewLogger_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	var console bytes.Buffer

	logger, closer, err := NewLogger(config.LogConfig{Level: "warn", File: path}, &console)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("throttled", "wait", 5*time.Second)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "throttled")
	assert.Contains(t, string(data), "wait=5s")

	_, _, err = NewLogger(config.LogConfig{Level: "chatty"}, &console)
	assert.Error(t, err)
}
