package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chunkrelay/pkg/types"
)

// FileLedger 把 checkpoint 存成一个十进制整数文件
// 文件不存在 = 从头开始
type FileLedger struct {
	path string

	mu      sync.Mutex
	current types.ItemID
	loaded  bool
}

func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

func (l *FileLedger) Path() string { return l.path }

func (l *FileLedger) Load(ctx context.Context) (types.ItemID, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		l.loaded = true
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		l.loaded = true
		return 0, false, nil
	}
	id, err := types.ParseItemID(text)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt checkpoint %s: %w", l.path, err)
	}
	l.current = id
	l.loaded = true
	return id, true, nil
}

// Save 原子写入：临时文件 + fsync + rename + fsync 目录
// 这样崩溃后要么是旧值，要么是新值，不会出现半个数字
func (l *FileLedger) Save(ctx context.Context, id types.ItemID, _ Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return errors.New("checkpoint not loaded")
	}
	if id < l.current {
		return fmt.Errorf("%w: %d < %d", ErrRegression, id, l.current)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(id.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	// rename 本身也要落盘，否则掉电后目录项可能还指向旧文件
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("failed to sync checkpoint dir: %w", err)
	}

	l.current = id
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
