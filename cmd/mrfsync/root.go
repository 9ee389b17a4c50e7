package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gyeh/mrfsync/internal/config"
	"github.com/gyeh/mrfsync/internal/logging"
)

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:   "mrfsync",
	Short: "Hospital price transparency file sync",
	Long: "Discovers hospitals through the price transparency directory, downloads their " +
		"machine-readable price files and normalizes them into Postgres.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ConfigFile == "" {
			return nil
		}
		return cfg.LoadFromFile(cfg.ConfigFile)
	},
}

func init() {
	if err := config.LoadDotEnv(""); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.ConfigFile, "config", os.Getenv("MRFSYNC_CONFIG"), "YAML tuning file (or set MRFSYNC_CONFIG)")
	pf.StringVar(&cfg.StoreDriver, "store", envOr("MRFSYNC_STORE", cfg.StoreDriver), "Storage backend: postgres or sqlite")
	pf.StringVar(&cfg.DSN, "dsn", os.Getenv("MRFSYNC_DSN"), "Postgres connection string (or set MRFSYNC_DSN)")
	pf.StringVar(&cfg.SQLitePath, "sqlite-path", envOr("MRFSYNC_SQLITE_PATH", "mrfsync.db"), "SQLite database file for --store sqlite")
	pf.StringVar(&cfg.RedisAddr, "redis-addr", os.Getenv("MRFSYNC_REDIS_ADDR"), "Redis address host:port (or set MRFSYNC_REDIS_ADDR)")
	pf.StringVar(&cfg.RedisPassword, "redis-password", os.Getenv("MRFSYNC_REDIS_PASSWORD"), "Redis password")
	pf.IntVar(&cfg.RedisDB, "redis-db", envInt("MRFSYNC_REDIS_DB", 0), "Redis database number")
	pf.StringVar(&cfg.Directory.BaseURL, "directory-url", os.Getenv("MRFSYNC_DIRECTORY_URL"), "Directory API base URL (or set MRFSYNC_DIRECTORY_URL)")
	pf.StringVar(&cfg.Directory.Username, "directory-user", os.Getenv("MRFSYNC_DIRECTORY_USER"), "Directory API username")
	pf.StringVar(&cfg.Directory.Password, "directory-password", os.Getenv("MRFSYNC_DIRECTORY_PASSWORD"), "Directory API password")
	pf.StringVar(&cfg.WorkDir, "work-dir", envOr("MRFSYNC_WORK_DIR", cfg.WorkDir), "Directory for downloads and extraction")
	pf.StringVar(&cfg.LogFormat, "log-format", envOr("MRFSYNC_LOG_FORMAT", "text"), "Log format: text or json")
	pf.StringVar(&cfg.LogLevel, "log-level", envOr("MRFSYNC_LOG_LEVEL", "info"), "Log level")
}

func newLogger() zerolog.Logger {
	return logging.Setup(cfg.LogFormat, cfg.LogLevel)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
