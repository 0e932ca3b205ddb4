package relay

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"chunkrelay/pkg/checkpoint"
	"chunkrelay/pkg/core"
	"chunkrelay/pkg/platform"
	"chunkrelay/pkg/types"
)

// fakePlatform 是内存版的远端平台
type fakePlatform struct {
	mu sync.Mutex

	items   []core.Item
	objects map[core.MediaRef][]byte

	minIDs []types.ItemID // 每次 IterateItems 的 minID

	parts       map[types.SessionID]map[int][]byte
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	sends     []platform.SendRequest
	sendTimes []time.Time
	nextID    types.ItemID

	readSmall    atomic.Int32
	opens        atomic.Int32
	readFailures atomic.Int32 // 前 N 次 ReadSmallObject 返回瞬时错误

	// 注入点
	sendHook   func(req platform.SendRequest, call int) error
	uploadHook func(ctx context.Context, req platform.PartRequest) error
	sendCalls  int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		objects: map[core.MediaRef][]byte{},
		parts:   map[types.SessionID]map[int][]byte{},
		nextID:  1000,
	}
}

// addText / addMedia 追加源消息，id 由调用方给出
func (f *fakePlatform) addText(id types.ItemID, text string, topic types.TopicID) {
	f.items = append(f.items, core.Item{ID: id, Kind: types.KindText, Text: text, Topic: topic})
}

func (f *fakePlatform) addMedia(id types.ItemID, kind types.MediaKind, data []byte) {
	ref := core.MediaRef("obj-" + id.String())
	f.objects[ref] = data
	f.items = append(f.items, core.Item{
		ID:   id,
		Kind: kind,
		Text: "caption " + id.String(),
		Media: &core.MediaDescriptor{
			Ref:      ref,
			Size:     int64(len(data)),
			Name:     "file-" + id.String() + ".bin",
			MimeType: "application/octet-stream",
		},
	})
}

type sliceIterator struct {
	items []core.Item
	pos   int
}

func (it *sliceIterator) Next(ctx context.Context) (core.Item, error) {
	if err := ctx.Err(); err != nil {
		return core.Item{}, err
	}
	if it.pos >= len(it.items) {
		return core.Item{}, io.EOF
	}
	item := it.items[it.pos]
	it.pos++
	return item, nil
}

func (it *sliceIterator) Close() error { return nil }

func (f *fakePlatform) IterateItems(ctx context.Context, c types.ContainerID, minID types.ItemID) (platform.ItemIterator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minIDs = append(f.minIDs, minID)
	var out []core.Item
	for _, it := range f.items {
		if it.ID > minID {
			out = append(out, it)
		}
	}
	return &sliceIterator{items: out}, nil
}

func (f *fakePlatform) ReadSmallObject(ctx context.Context, ref core.MediaRef) ([]byte, error) {
	f.readSmall.Add(1)
	if f.readFailures.Add(-1) >= 0 {
		return nil, platform.Transient(io.ErrUnexpectedEOF)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[ref]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (f *fakePlatform) OpenObject(ctx context.Context, ref core.MediaRef) (io.ReadCloser, error) {
	f.opens.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[ref]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakePlatform) UploadPart(ctx context.Context, req platform.PartRequest) error {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.maxInFlight.Load()
		if cur <= old || f.maxInFlight.CompareAndSwap(old, cur) {
			break
		}
	}
	if f.uploadHook != nil {
		if err := f.uploadHook(ctx, req); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.parts[req.Session] == nil {
		f.parts[req.Session] = map[int][]byte{}
	}
	f.parts[req.Session][req.Index] = req.Data
	return nil
}

func (f *fakePlatform) Send(ctx context.Context, req platform.SendRequest) (types.ItemID, error) {
	f.mu.Lock()
	f.sendCalls++
	call := f.sendCalls
	hook := f.sendHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(req, call); err != nil {
			return 0, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	f.sendTimes = append(f.sendTimes, time.Now())
	f.nextID++
	return f.nextID, nil
}

// reassemble 按 index 拼回一个会话上传的对象
func (f *fakePlatform) reassemble(h *core.RemoteObjectHandle) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	for i := range h.TotalParts {
		buf.Write(f.parts[h.Session][i])
	}
	return buf.Bytes()
}

// memLedger 是内存版 ledger，可以注入写失败
type memLedger struct {
	mu      sync.Mutex
	current types.ItemID
	has     bool
	saves   []types.ItemID
	outcome map[types.ItemID]string
	saveErr error
}

func (l *memLedger) Load(ctx context.Context) (types.ItemID, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.has, nil
}

func (l *memLedger) Save(ctx context.Context, id types.ItemID, outcome checkpoint.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.saveErr != nil {
		return l.saveErr
	}
	if l.outcome == nil {
		l.outcome = map[types.ItemID]string{}
	}
	l.current, l.has = id, true
	l.saves = append(l.saves, id)
	l.outcome[id] = string(outcome)
	return nil
}

// claimLedger 额外实现 Claimer
type claimLedger struct {
	memLedger
	taken    map[types.ItemID]bool // 已被其他会话抢走
	released []types.ItemID
}

func (l *claimLedger) Claim(ctx context.Context, id types.ItemID) (bool, error) {
	return !l.taken[id], nil
}

func (l *claimLedger) Release(ctx context.Context, id types.ItemID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, id)
	return nil
}

// recordingSleeper 记录限流等待
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}
