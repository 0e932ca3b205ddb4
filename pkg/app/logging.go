package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"chunkrelay/pkg/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger 按 log.level 创建文本 logger；配置了 log.file 时同时追加写入文件
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		closer = f
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h), closer, nil
}
