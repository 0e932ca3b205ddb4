package meta

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

const pair = "-100->-200"

func TestRepository_ClaimLifecycle(t *testing.T) {
	repo := setupTestRepo(t)

	// 1. A 先抢到，B 抢不到
	mustClaim(t, repo, pair, 10, "session-a", true)
	mustClaim(t, repo, pair, 10, "session-b", false, "second claim must lose")

	// 2. 完成之后也不能再被抢
	mustFinish(t, repo, pair, 10, StatusDone)
	mustClaim(t, repo, pair, 10, "session-b", false)

	// 3. 不同 pair 互不影响
	mustClaim(t, repo, "-100->-300", 10, "session-b", true)

	var rec TransferRecord
	require.NoError(t, repo.db.GetConn().Where("pair = ? AND item_id = ?", pair, 10).First(&rec).Error)
	assert.Equal(t, StatusDone, rec.Status)
	assert.Equal(t, "session-a", rec.Session)
}

func TestRepository_ReclaimAbandoned(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	mustClaim(t, repo, pair, 5, "dead-session", true)

	// 还没过期：不会被释放
	n, err := repo.ReleaseStale(ctx, pair, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// 过期：变成 abandoned，可以被接管
	n, err = repo.ReleaseStale(ctx, pair, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mustClaim(t, repo, pair, 5, "new-session", true)
	mustClaim(t, repo, pair, 5, "third-session", false, "only one session may take over")
}

func TestRepository_SameSessionResumesOwnClaim(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// 1. worker 抢到 5 之后进程被杀，没有结论
	mustClaim(t, repo, pair, 5, "worker", true)

	// 2. 同名会话重启：续用自己的 claim；别的会话仍然拿不到
	mustClaim(t, repo, pair, 5, "worker", true, "own processing claim must be resumable")
	mustClaim(t, repo, pair, 5, "other", false)

	// 3. 释放只对持有者生效
	ok, err := repo.ReleaseItem(ctx, pair, 5, "other")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.ReleaseItem(ctx, pair, 5, "worker")
	require.NoError(t, err)
	assert.True(t, ok)

	// 4. 释放之后任何会话都能接管
	mustClaim(t, repo, pair, 5, "other", true)

	// 已完成的行不会被释放
	mustFinish(t, repo, pair, 5, StatusDone)
	ok, err = repo.ReleaseItem(ctx, pair, 5, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_FinishItem_InvalidStatus(t *testing.T) {
	repo := setupTestRepo(t)
	err := repo.FinishItem(context.Background(), pair, 1, StatusProcessing, "")
	assert.Error(t, err)
}

func TestRepository_LowWaterMark(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// 空表：没有位置
	_, ok, err := repo.LowWaterMark(ctx, pair)
	require.NoError(t, err)
	assert.False(t, ok)

	// 1, 2 完成；3 还在处理；4 失败
	for _, id := range []int64{1, 2, 3, 4} {
		mustClaim(t, repo, pair, id, "s", true)
	}
	mustFinish(t, repo, pair, 1, StatusDone)
	mustFinish(t, repo, pair, 2, StatusDone)
	mustFinish(t, repo, pair, 4, StatusFailed)

	lwm, ok, err := repo.LowWaterMark(ctx, pair)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), lwm, "must stop below the pending claim")

	// 3 结束之后水位线越过 4
	mustFinish(t, repo, pair, 3, StatusFailed)
	lwm, ok, err = repo.LowWaterMark(ctx, pair)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), lwm)
}

func TestRepository_CountByStatus(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	mustClaim(t, repo, pair, 1, "s", true)
	mustClaim(t, repo, pair, 2, "s", true)
	mustClaim(t, repo, pair, 3, "s", true)
	mustFinish(t, repo, pair, 1, StatusDone)
	mustFinish(t, repo, pair, 2, StatusFailed)

	counts, err := repo.CountByStatus(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		StatusDone:       1,
		StatusFailed:     1,
		StatusProcessing: 1,
	}, counts)
}

func TestRepository_Messages(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	attrs, err := json.Marshal([]map[string]any{{"type": "video", "fields": map[string]string{"duration": "12"}}})
	require.NoError(t, err)

	// 1. id 按容器单调分配
	var ids []int64
	for i := range 3 {
		m := &MessageModel{ContainerID: -100, Kind: "text", Text: "hello", Topic: int64(i % 2)}
		require.NoError(t, repo.SaveMessage(ctx, m))
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)

	other := &MessageModel{ContainerID: -999, Kind: "video", Attributes: datatypes.JSON(attrs), Size: 10}
	require.NoError(t, repo.SaveMessage(ctx, other))
	assert.Equal(t, int64(1), other.ID, "counters are per container")

	// 2. 按 id 升序分页
	msgs, err := repo.ListMessages(ctx, -100, 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].ID)
	assert.Equal(t, int64(3), msgs[1].ID)

	// 3. JSON 属性原样保存
	got, err := repo.GetMessage(ctx, -999, 1)
	require.NoError(t, err)
	assert.JSONEq(t, string(attrs), string(got.Attributes))

	_, err = repo.GetMessage(ctx, -999, 42)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestRepository_Topics(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	a, err := repo.CreateTopic(ctx, -100, "Movies")
	require.NoError(t, err)
	b, err := repo.CreateTopic(ctx, -100, "Music")
	require.NoError(t, err)
	assert.Less(t, a.ID, b.ID)

	topics, err := repo.ListTopics(ctx, -100)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "Movies", topics[0].Title)

	got, err := repo.GetTopic(ctx, -100, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Music", got.Title)

	_, err = repo.GetTopic(ctx, -100, 99)
	assert.ErrorIs(t, err, ErrTopicNotFound)
}

func TestRepository_Parts(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	// 乱序写入，重放同一个 index
	for _, idx := range []int{2, 0, 1, 2} {
		require.NoError(t, repo.SavePart(ctx, &PartModel{
			Session:    "sess",
			PartIndex:  idx,
			TotalParts: 3,
			Hash:       "h",
			Size:       10 + idx,
		}))
	}

	parts, err := repo.ListParts(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, parts, 3, "replayed part must not duplicate")
	for i, p := range parts {
		assert.Equal(t, i, p.PartIndex)
	}

	require.NoError(t, repo.DeleteParts(ctx, "sess"))
	parts, err = repo.ListParts(ctx, "sess")
	require.NoError(t, err)
	assert.Empty(t, parts)
}
