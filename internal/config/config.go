package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects the persistence backend. Chosen once at startup from the
// environment and immutable for the process lifetime.
type Mode string

const (
	// ModeRemote uses the relational store plus change notifications.
	ModeRemote Mode = "remote"
	// ModeLocal uses the on-device JSON snapshot, single device, no
	// cross-client sync beyond the in-process bus.
	ModeLocal Mode = "local"
)

type Config struct {
	Mode Mode

	// Remote mode.
	DatabaseDSN string

	// Local mode.
	DataFile        string
	SessionUserFile string
	PollInterval    time.Duration

	HTTPPort string

	// Fetch tuning.
	CacheWindow     time.Duration
	ActiveFetchMax  int
	FullFetchMax    int
	RefetchDebounce time.Duration
}

// Load reads configuration from the environment. A .env file next to the
// binary is honored when present. Presence of database settings selects
// remote mode; otherwise the process runs against the local snapshot.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DataFile:        envOr("DATA_FILE", "pedidos.json"),
		SessionUserFile: envOr("SESSION_USER_FILE", "pedidos_user.json"),
		HTTPPort:        envOr("HTTP_PORT", "9000"),
		PollInterval:    envDurationOr("POLL_INTERVAL", 15*time.Second),
		CacheWindow:     envDurationOr("CACHE_WINDOW", 5*time.Second),
		ActiveFetchMax:  envIntOr("ACTIVE_FETCH_MAX", 60),
		FullFetchMax:    envIntOr("FULL_FETCH_MAX", 200),
		RefetchDebounce: envDurationOr("REFETCH_DEBOUNCE", 250*time.Millisecond),
	}

	if dsn := databaseDSN(); dsn != "" {
		cfg.Mode = ModeRemote
		cfg.DatabaseDSN = dsn
	} else {
		cfg.Mode = ModeLocal
	}

	return cfg, nil
}

func databaseDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port, _ := strconv.Atoi(envOr("DB_PORT", "5432"))
	user := os.Getenv("DB_USER")
	password := os.Getenv("DB_PASSWORD")
	dbname := os.Getenv("DB_NAME")

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
