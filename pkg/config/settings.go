package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MaxChunkSize 是平台允许的最大分片
const MaxChunkSize = 512 * 1024

var ErrInvalid = errors.New("invalid configuration")

// Settings 是 viper 的强类型快照，启动后不再变化
type Settings struct {
	Platform   PlatformConfig   `mapstructure:"platform"`
	Source     EndpointConfig   `mapstructure:"source"`
	Target     EndpointConfig   `mapstructure:"target"`
	Transfer   TransferConfig   `mapstructure:"transfer"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Topics     TopicsConfig     `mapstructure:"topics"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Hub        HubConfig        `mapstructure:"hub"`
	Log        LogConfig        `mapstructure:"log"`
}

type PlatformConfig struct {
	Addr string `mapstructure:"addr"`
}

// EndpointConfig 是一端的容器，Topic 为 0 表示不限话题
type EndpointConfig struct {
	Container int64 `mapstructure:"container"`
	Topic     int64 `mapstructure:"topic"`
}

type TransferConfig struct {
	ChunkSize      int           `mapstructure:"chunk_size"`
	Parallel       int           `mapstructure:"parallel"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	SmallThreshold int64         `mapstructure:"small_threshold"`
	PartAttempts   int           `mapstructure:"part_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay  time.Duration `mapstructure:"max_retry_delay"`
	ThrottleMargin time.Duration `mapstructure:"throttle_margin"`
}

type CheckpointConfig struct {
	Backend    string        `mapstructure:"backend"` // file | db
	Path       string        `mapstructure:"path"`
	Session    string        `mapstructure:"session"` // db 模式下的会话名，空则自动生成
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type TopicsConfig struct {
	Backend    string `mapstructure:"backend"` // none | file | redis
	Path       string `mapstructure:"path"`
	RedisURL   string `mapstructure:"redis_url"`
	AutoCreate bool   `mapstructure:"auto_create"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite | postgres
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Debug    bool   `mapstructure:"debug"`
}

type StorageConfig struct {
	Type string   `mapstructure:"type"` // disk | s3
	Path string   `mapstructure:"path"`
	S3   S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// CacheConfig 为空 RedisURL 时不启用缓存
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type HubConfig struct {
	Listen        string        `mapstructure:"listen"`
	FloodInterval time.Duration `mapstructure:"flood_interval"`
	FloodBurst    int           `mapstructure:"flood_burst"`
	BackendWait   time.Duration `mapstructure:"backend_wait"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Current 把当前的 viper 状态解码成 Settings
func Current() (Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	return s, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate 检查与运行模式无关的约束
func (s Settings) Validate() error {
	t := s.Transfer
	switch {
	case t.ChunkSize <= 0 || t.ChunkSize%1024 != 0:
		return invalid("transfer.chunk_size %d must be a positive multiple of 1024", t.ChunkSize)
	case t.ChunkSize > MaxChunkSize || MaxChunkSize%t.ChunkSize != 0:
		return invalid("transfer.chunk_size %d must divide %d", t.ChunkSize, MaxChunkSize)
	case t.Parallel < 1:
		return invalid("transfer.parallel must be >= 1")
	case t.MinInterval < 0:
		return invalid("transfer.min_interval must not be negative")
	case t.SmallThreshold < int64(t.ChunkSize):
		return invalid("transfer.small_threshold %d is below chunk size %d", t.SmallThreshold, t.ChunkSize)
	case t.PartAttempts < 1:
		return invalid("transfer.part_attempts must be >= 1")
	}

	if err := oneOf("checkpoint.backend", s.Checkpoint.Backend, "file", "db"); err != nil {
		return err
	}
	if err := oneOf("topics.backend", s.Topics.Backend, "none", "file", "redis"); err != nil {
		return err
	}
	if s.Topics.Backend == "redis" && s.Topics.RedisURL == "" {
		return invalid("topics.redis_url is required for the redis backend")
	}
	if err := oneOf("database.driver", s.Database.Driver, "sqlite", "postgres"); err != nil {
		return err
	}
	if err := oneOf("storage.type", s.Storage.Type, "disk", "s3"); err != nil {
		return err
	}
	if _, err := ParseLevel(s.Log.Level); err != nil {
		return err
	}
	return nil
}

// ValidateRun 额外检查 relay run 需要的源和目标
func (s Settings) ValidateRun() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Source.Container == 0 || s.Target.Container == 0 {
		return invalid("source.container and target.container are required")
	}
	if s.Source.Container == s.Target.Container {
		return invalid("source and target must differ")
	}
	return nil
}

func oneOf(key, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return invalid("%s %q must be one of %s", key, v, strings.Join(allowed, ", "))
}

// ParseLevel 解析 log.level
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, invalid("log.level %q", s)
	}
	return l, nil
}
