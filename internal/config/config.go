package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8070"`
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false"`

	// Terminal session settings
	TmuxPrefix           string        `envconfig:"TMUX_PREFIX" default:"tw"`
	Shell                string        `envconfig:"SHELL_OVERRIDE" default:""`
	KeepDetachedSessions bool          `envconfig:"KEEP_DETACHED_SESSIONS" default:"false"`
	PendingBufferLimit   int           `envconfig:"PENDING_BUFFER_LIMIT" default:"10240"`
	HeartbeatInterval    time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatMaxMissed   int           `envconfig:"HEARTBEAT_MAX_MISSED" default:"3"`
	ResizeDebounce       time.Duration `envconfig:"RESIZE_DEBOUNCE" default:"100ms"`
	OrphanSweepSchedule  string        `envconfig:"ORPHAN_SWEEP_SCHEDULE" default:"@every 1h"`
	TokenTTL             time.Duration `envconfig:"TOKEN_TTL" default:"12h"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TERMWEAVE", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "termweave.db")
	}
	if Cfg.LogPath == "" {
		Cfg.LogPath = filepath.Join(Cfg.DataPath, "termweave.log")
	}
}
