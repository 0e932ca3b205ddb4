package ignore

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 是用户自定义忽略规则的文件名 (放在种子目录根部)
const FileName = ".relayignore"

// 这些规则强制生效：运行时状态和凭据绝不能被当成消息发出去
var defaultRules = []string{
	".relay",
	".git",
	FileName,
	"config.yaml",
	".env",
	"checkpoint.txt",
	"topic_map.tsv",
	"*.log",
	".DS_Store",
	"Thumbs.db",
}

// Matcher 判断种子目录里的文件是否应该被跳过
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 合并默认规则和 root/.relayignore
func NewMatcher(root string) (*Matcher, error) {
	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return &Matcher{ignorer: gitignore.CompileIgnoreLines(defaultRules...)}, nil
	}

	ignorer, err := gitignore.CompileIgnoreFileAndLines(path, defaultRules...)
	if err != nil {
		return nil, err
	}
	return &Matcher{ignorer: ignorer}, nil
}

// Matches 判断相对路径 (例如 "videos/a.mp4") 是否被忽略
func (m *Matcher) Matches(rel string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(filepath.ToSlash(rel))
}

// Entry 是 Walk 找到的一个文件
type Entry struct {
	Rel  string // 相对 root 的路径，'/' 分隔
	Path string // 绝对路径
	Size int64
}

// Walk 返回 root 下所有未被忽略的普通文件，按相对路径排序
// 被忽略的目录整个跳过
func (m *Matcher) Walk(root string) ([]Entry, error) {
	var out []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if m.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Entry{Rel: filepath.ToSlash(rel), Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out, nil
}
