package hub

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chunkrelay/pkg/chunker"
	"chunkrelay/pkg/core"
	"chunkrelay/pkg/meta"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/storage"
	"chunkrelay/pkg/storage/disk"
	"chunkrelay/pkg/types"
	"chunkrelay/pkg/upload"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const container = types.ContainerID(-100)

func newTestRepo(t *testing.T) *meta.Repository {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:hub_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	metaDB := meta.NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(meta.AllModels()...))
	t.Cleanup(func() { _ = metaDB.Close() })
	return meta.NewRepository(metaDB)
}

func newTestHub(t *testing.T, opts Options) (*Hub, storage.Store) {
	t.Helper()
	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	return New(newTestRepo(t), store, opts), store
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func mustSendText(t *testing.T, h *Hub, c types.ContainerID, text string) types.ItemID {
	t.Helper()
	id, err := h.Send(context.Background(), platform.SendRequest{Container: c, Text: text})
	require.NoError(t, err)
	return id
}

func drain(t *testing.T, it platform.ItemIterator) []core.Item {
	t.Helper()
	defer it.Close()
	var out []core.Item
	for {
		item, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, item)
	}
}

func TestHub_IterateItemsPaged(t *testing.T) {
	h, _ := newTestHub(t, Options{PageSize: 2})
	for i := range 5 {
		mustSendText(t, h, container, fmt.Sprintf("msg %d", i+1))
	}
	mustSendText(t, h, -200, "other container")

	it, err := h.IterateItems(context.Background(), container, 1)
	require.NoError(t, err)
	items := drain(t, it)

	require.Len(t, items, 4)
	for i, item := range items {
		assert.Equal(t, types.ItemID(i+2), item.ID)
		assert.Equal(t, types.KindText, item.Kind)
		assert.Equal(t, container, item.Container)
		assert.Nil(t, item.Media)
	}
	assert.Equal(t, "msg 2", items[0].Text)
}

func TestHub_InlineMediaRoundTrip(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	ctx := context.Background()
	data := randomBytes(t, chunker.DefaultChunkSize*2+17)
	attrs := []core.Attribute{{Type: "video", Fields: map[string]string{"duration": "12"}}}

	id, err := h.Send(ctx, platform.SendRequest{
		Container: container,
		Text:      "clip",
		Media: &platform.MediaPayload{
			Kind:       types.KindVideo,
			Inline:     data,
			Name:       "clip.mp4",
			MimeType:   "video/mp4",
			Attributes: attrs,
		},
	})
	require.NoError(t, err)

	it, err := h.IterateItems(ctx, container, 0)
	require.NoError(t, err)
	items := drain(t, it)
	require.Len(t, items, 1)

	item := items[0]
	assert.Equal(t, id, item.ID)
	assert.Equal(t, types.KindVideo, item.Kind)
	require.NotNil(t, item.Media)
	assert.Equal(t, int64(len(data)), item.Media.Size)
	assert.Equal(t, "clip.mp4", item.Media.Name)
	assert.Equal(t, attrs, item.Media.Attributes)

	got, err := h.ReadSmallObject(ctx, item.Media.Ref)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	// 流式读，小 buffer 跨越分片边界
	rc, err := h.OpenObject(ctx, item.Media.Ref)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = io.CopyBuffer(&buf, struct{ io.Reader }{rc}, make([]byte, 1000))
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.True(t, bytes.Equal(data, buf.Bytes()))
}

func TestHub_EmptyDocument(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	ctx := context.Background()

	// 没有句柄、零字节内联：是一个真实的空文件
	_, err := h.Send(ctx, platform.SendRequest{
		Container: container,
		Media:     &platform.MediaPayload{Kind: types.KindDocument, Name: "empty.txt"},
	})
	require.NoError(t, err)

	it, err := h.IterateItems(ctx, container, 0)
	require.NoError(t, err)
	items := drain(t, it)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Media)
	assert.Zero(t, items[0].Media.Size)

	got, err := h.ReadSmallObject(ctx, items[0].Media.Ref)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHub_OpenUnknownObject(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	_, err := h.OpenObject(context.Background(), "not-a-hash")
	assert.ErrorIs(t, err, platform.ErrNotFound)

	_, err = h.OpenObject(context.Background(), core.MediaRef(strings.Repeat("ab", 32)))
	assert.ErrorIs(t, err, platform.ErrNotFound)
}

// uploadAll 用真实的 Upload Session 把 data 传到 hub
func uploadAll(t *testing.T, h *Hub, data []byte, chunk int) core.RemoteObjectHandle {
	t.Helper()
	ctx := context.Background()
	sess, err := upload.NewSession(ctx, h, int64(len(data)), upload.Options{ChunkSize: chunk, Parallel: 4})
	require.NoError(t, err)

	src, err := chunker.NewSource(bytes.NewReader(data), int64(len(data)), chunk)
	require.NoError(t, err)
	for {
		task, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, sess.Schedule(task.Index, task.Data))
	}
	require.NoError(t, sess.Wait())

	handle, err := sess.Finalize("big.bin")
	require.NoError(t, err)
	return handle
}

func TestHub_UploadSessionThenSend(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	ctx := context.Background()
	data := randomBytes(t, 10*1024+5)

	handle := uploadAll(t, h, data, 1024)
	assert.Equal(t, 11, handle.TotalParts)

	_, err := h.Send(ctx, platform.SendRequest{
		Container: container,
		Media:     &platform.MediaPayload{Kind: types.KindDocument, Handle: &handle, Name: handle.Name},
	})
	require.NoError(t, err)

	it, err := h.IterateItems(ctx, container, 0)
	require.NoError(t, err)
	items := drain(t, it)
	require.Len(t, items, 1)

	got, err := h.ReadSmallObject(ctx, items[0].Media.Ref)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
	assert.Equal(t, "big.bin", items[0].Media.Name)

	// 会话被消费后分片记录被清掉
	parts, err := h.repo.ListParts(ctx, handle.Session.String())
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestHub_SendRejectsBrokenHandles(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	ctx := context.Background()
	data := randomBytes(t, 3*1024)

	part := func(session types.SessionID, index int) {
		require.NoError(t, h.UploadPart(ctx, platform.PartRequest{
			Session: session, Index: index, TotalParts: 3, Data: data[index*1024 : (index+1)*1024],
		}))
	}
	send := func(handle core.RemoteObjectHandle) error {
		_, err := h.Send(ctx, platform.SendRequest{
			Container: container,
			Media:     &platform.MediaPayload{Kind: types.KindDocument, Handle: &handle},
		})
		return err
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	t.Run("missing part", func(t *testing.T) {
		part("s1", 0)
		part("s1", 2)
		err := send(core.RemoteObjectHandle{Session: "s1", TotalParts: 3, Size: 3072})
		assert.ErrorIs(t, err, ErrPartsMissing)
	})

	t.Run("size mismatch", func(t *testing.T) {
		for i := range 3 {
			part("s2", i)
		}
		err := send(core.RemoteObjectHandle{Session: "s2", TotalParts: 3, Size: 4096})
		assert.ErrorIs(t, err, ErrSizeMismatch)
	})

	t.Run("digest mismatch", func(t *testing.T) {
		for i := range 3 {
			part("s3", i)
		}
		err := send(core.RemoteObjectHandle{Session: "s3", TotalParts: 3, Size: 3072, Digest: strings.Repeat("0", 64)})
		assert.ErrorIs(t, err, ErrDigestMismatch)
	})

	t.Run("replayed part is idempotent", func(t *testing.T) {
		for _, i := range []int{2, 1, 0, 1} {
			part("s4", i)
		}
		err := send(core.RemoteObjectHandle{Session: "s4", TotalParts: 3, Size: 3072, Digest: digest})
		assert.NoError(t, err)
	})
}

func TestHub_UploadPartValidation(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	ctx := context.Background()

	tests := []platform.PartRequest{
		{Session: "", Index: 0, TotalParts: 1, Data: []byte("x")},
		{Session: "s", Index: 1, TotalParts: 1, Data: []byte("x")},
		{Session: "s", Index: -1, TotalParts: 1, Data: []byte("x")},
		{Session: "s", Index: 0, TotalParts: 1, Data: nil},
		{Session: "s", Index: 0, TotalParts: 1, Data: make([]byte, chunker.MaxChunkSize+1)},
	}
	for i, req := range tests {
		assert.ErrorIs(t, h.UploadPart(ctx, req), ErrInvalidPart, "case %d", i)
	}
}

func TestHub_SendValidation(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	ctx := context.Background()

	_, err := h.Send(ctx, platform.SendRequest{Container: container})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = h.Send(ctx, platform.SendRequest{Container: container, Text: "x", ReplyTo: 42})
	assert.ErrorIs(t, err, platform.ErrNotFound)

	_, err = h.Send(ctx, platform.SendRequest{
		Container: container,
		Media:     &platform.MediaPayload{Kind: types.KindNone, Inline: []byte("x")},
	})
	assert.ErrorIs(t, err, platform.ErrUnsupportedItem)
}

func TestHub_Topics(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	ctx := context.Background()

	id, err := h.CreateTopic(ctx, container, "  Movies ")
	require.NoError(t, err)

	_, err = h.CreateTopic(ctx, container, "   ")
	assert.ErrorIs(t, err, ErrEmptyTitle)

	topics, err := h.ListTopics(ctx, container)
	require.NoError(t, err)
	assert.Equal(t, []platform.Topic{{ID: id, Title: "Movies"}}, topics)

	// 发到话题里的消息带着话题 id 回来
	_, err = h.Send(ctx, platform.SendRequest{Container: container, Text: "in topic", ReplyTo: id})
	require.NoError(t, err)
	it, err := h.IterateItems(ctx, container, 0)
	require.NoError(t, err)
	items := drain(t, it)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].Topic)
}

func TestHub_FloodControl(t *testing.T) {
	h, _ := newTestHub(t, Options{FloodInterval: time.Hour})
	ctx := context.Background()

	mustSendText(t, h, container, "first")

	_, err := h.Send(ctx, platform.SendRequest{Container: container, Text: "second"})
	te, ok := platform.AsThrottle(err)
	require.True(t, ok, "expected throttle error, got %v", err)
	assert.Greater(t, te.Wait, 59*time.Minute)

	// 被拒绝的请求不消耗额度，topic 创建共用同一个限额
	_, err = h.CreateTopic(ctx, container, "t")
	_, ok = platform.AsThrottle(err)
	assert.True(t, ok)
}

// throttledStore 模拟后端降速
type throttledStore struct {
	storage.Store
}

func (throttledStore) Put(ctx context.Context, obj core.Object) error {
	return fmt.Errorf("put: %w", storage.ErrThrottled)
}

func TestHub_BackendThrottleBecomesWait(t *testing.T) {
	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	h := New(newTestRepo(t), throttledStore{store}, Options{BackendWait: 3 * time.Second})

	err = h.UploadPart(context.Background(), platform.PartRequest{Session: "s", Index: 0, TotalParts: 1, Data: []byte("x")})
	te, ok := platform.AsThrottle(err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, te.Wait)
}

func TestKindFromMIME(t *testing.T) {
	tests := map[string]types.MediaKind{
		"video/mp4":                 types.KindVideo,
		"image/png":                 types.KindPhoto,
		"audio/mpeg":                types.KindAudio,
		"audio/ogg":                 types.KindVoice,
		"application/pdf":           types.KindDocument,
		"text/plain; charset=utf-8": types.KindDocument,
	}
	for mime, want := range tests {
		assert.Equal(t, want, KindFromMIME(mime), mime)
	}
}

func TestHub_Seed(t *testing.T) {
	h, _ := newTestHub(t, Options{})
	ctx := context.Background()
	root := t.TempDir()

	png := append([]byte("\x89PNG\r\n\x1a\n"), randomBytes(t, 2048)...)
	files := map[string][]byte{
		"notes.txt":      []byte("hello world\n"),
		"pics/cat.png":   png,
		"empty.bin":      nil,
		"debug.log":      []byte("ignored by default rules"),
		"secret/key.pem": []byte("ignored by .relayignore"),
		".relayignore":   []byte("secret/\n"),
	}
	for rel, data := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, data, 0644))
	}

	res, err := h.Seed(ctx, root, SeedOptions{Container: container, Topic: "Imported"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Items)
	assert.Equal(t, 1, res.Skipped)
	assert.NotZero(t, res.Topic)

	it, err := h.IterateItems(ctx, container, 0)
	require.NoError(t, err)
	items := drain(t, it)
	require.Len(t, items, 2)

	// Walk 按相对路径排序
	assert.Equal(t, "notes.txt", items[0].Text)
	assert.Equal(t, types.KindDocument, items[0].Kind)
	assert.Equal(t, "pics/cat.png", items[1].Text)
	assert.Equal(t, types.KindPhoto, items[1].Kind)
	assert.Equal(t, "cat.png", items[1].Media.Name)
	assert.Equal(t, "image/png", items[1].Media.MimeType)
	assert.Equal(t, res.Topic, items[1].Topic)

	got, err := h.ReadSmallObject(ctx, items[1].Media.Ref)
	require.NoError(t, err)
	assert.Equal(t, png, got)
}
