package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the parksys
// server.
type Config struct {
	ListenAddr      string
	SQLiteDSN       string
	OplogPath       string
	AcceptTimeout   time.Duration
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load parses configuration values from the current process environment. A
// .env file in the working directory is merged first when present; real
// environment variables win over file entries.
//
// Optional fields fall back to defaults; invalid values are accumulated and
// reported together.
func Load() (Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:      "0.0.0.0:12321",
		SQLiteDSN:       "file:parksys.db",
		OplogPath:       "parksys.log",
		AcceptTimeout:   time.Second,
		ReadTimeout:     0,
		ShutdownTimeout: 10 * time.Second,
	}

	invalid := make([]string, 0, 2)

	if addr := strings.TrimSpace(os.Getenv("PARKSYS_LISTEN_ADDR")); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			invalid = append(invalid, "PARKSYS_LISTEN_ADDR")
		} else {
			cfg.ListenAddr = addr
		}
	}

	if dsn := strings.TrimSpace(os.Getenv("PARKSYS_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if path := strings.TrimSpace(os.Getenv("PARKSYS_OPLOG_PATH")); path != "" {
		cfg.OplogPath = path
	}

	loadDuration := func(name string, allowZero bool, dst *time.Duration) {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 || (!allowZero && d == 0) {
			invalid = append(invalid, name)
			return
		}
		*dst = d
	}

	loadDuration("PARKSYS_ACCEPT_TIMEOUT", false, &cfg.AcceptTimeout)
	loadDuration("PARKSYS_READ_TIMEOUT", true, &cfg.ReadTimeout)
	loadDuration("PARKSYS_SHUTDOWN_TIMEOUT", false, &cfg.ShutdownTimeout)

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configuration values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
