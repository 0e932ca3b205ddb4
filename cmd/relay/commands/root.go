package commands

import (
	"fmt"
	"io"
	"log/slog"

	"chunkrelay/pkg/app"
	"chunkrelay/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// 全局状态，PersistentPreRunE 之后对所有子命令可用
	settings  config.Settings
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "chunkrelay: copy every message of one container into another",
	Long: `relay reads the messages of a source container in order and re-sends them into a
target container. Large media is streamed through a bounded parallel upload so memory stays
flat; progress is checkpointed after every message.`,
	SilenceUsage: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(cfgFile); err != nil {
			return err
		}
		s, err := config.Current()
		if err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			return err
		}

		l, c, err := app.NewLogger(s.Log, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		settings, logger, logCloser = s, l, c
		slog.SetDefault(l)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

// bindFlag 把 flag 绑定到 viper key，这样 yaml / 环境变量 / flag 三者任选其一
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func bindPersistentFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.relay/config.yaml)")

	pf.Int64("source-container", 0, "container to read from")
	pf.Int64("target-container", 0, "container to write into")
	pf.String("checkpoint", "", "checkpoint file (file backend)")
	pf.String("log-level", "", "debug | info | warn | error")
	pf.String("log-file", "", "also append logs to this file")

	bindPersistentFlag("source.container", "source-container")
	bindPersistentFlag("target.container", "target-container")
	bindPersistentFlag("checkpoint.path", "checkpoint")
	bindPersistentFlag("log.level", "log-level")
	bindPersistentFlag("log.file", "log-file")
}
