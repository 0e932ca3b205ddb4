package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀：transfer.chunk_size -> RELAY_TRANSFER_CHUNK_SIZE
const EnvPrefix = "RELAY"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.relay -> ~/.relay
		viper.AddConfigPath(".")
		viper.AddConfigPath(".relay")
		viper.AddConfigPath(filepath.Join(home, ".relay"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (RELAY_SOURCE_CONTAINER 等)
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没找到配置文件不算错 (可能全靠环境变量和 flag)
		// 但文件存在却解析失败就是错
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}
	return nil
}

// Used 返回实际加载的配置文件，没有则为空
func Used() string {
	return viper.ConfigFileUsed()
}

func setDefaults() {
	// 平台端点 (relay-hub)
	viper.SetDefault("platform.addr", "localhost:7070")

	// 源和目标 (0 表示未设置；也让 RELAY_SOURCE_CONTAINER 之类的环境变量能被解码)
	viper.SetDefault("source.container", 0)
	viper.SetDefault("source.topic", 0)
	viper.SetDefault("target.container", 0)
	viper.SetDefault("target.topic", 0)

	// 转发参数
	viper.SetDefault("transfer.chunk_size", 512*1024)
	viper.SetDefault("transfer.parallel", 10)
	viper.SetDefault("transfer.min_interval", "2.5s")
	viper.SetDefault("transfer.small_threshold", 10*1024*1024)
	viper.SetDefault("transfer.part_attempts", 5)
	viper.SetDefault("transfer.retry_delay", "500ms")
	viper.SetDefault("transfer.max_retry_delay", "30s")
	viper.SetDefault("transfer.throttle_margin", "1s")

	// 断点
	viper.SetDefault("checkpoint.backend", "file")
	viper.SetDefault("checkpoint.path", "checkpoint.txt")
	viper.SetDefault("checkpoint.session", "")
	viper.SetDefault("checkpoint.stale_after", "30m")

	// 话题映射
	viper.SetDefault("topics.backend", "file")
	viper.SetDefault("topics.path", "topic_map.tsv")
	viper.SetDefault("topics.redis_url", "")
	viper.SetDefault("topics.auto_create", true)

	// 数据库默认值
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", filepath.Join(".relay", "relay.db"))
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "relay")
	viper.SetDefault("database.sslmode", "disable")

	// 存储默认值 (hub)
	wd, _ := os.Getwd()
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(wd, ".relay", "objects"))
	viper.SetDefault("storage.s3.endpoint", "")
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.bucket", "")
	viper.SetDefault("storage.s3.prefix", "")
	viper.SetDefault("storage.s3.access_key", "")
	viper.SetDefault("storage.s3.secret_key", "")

	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.ttl", "24h")

	viper.SetDefault("hub.listen", ":7070")
	viper.SetDefault("hub.flood_interval", "0s")
	viper.SetDefault("hub.flood_burst", 1)
	viper.SetDefault("hub.backend_wait", "1s")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.file", "")
}
