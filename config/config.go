package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Env          string
	BaseDir      string // users.db and chatrooms/ live here
	NodesDir     string // node mailbox root
	DBPath       string
	SocketPath   string
	StatusAddr   string // empty disables the status API
	LogLevel     string
	PollInterval int // milliseconds
	LedgerLimit  int
	ReadTimeout  int // seconds
	WriteTimeout int // seconds

	// Nodes maps node addresses to the local user that owns them; attached at start-up.
	Nodes map[string]string
}

// Load reads configuration from the environment, seeded from a .env file when
// one exists.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Env:          getEnv("NETCHAT_ENV", "development"),
		BaseDir:      getEnv("NETCHAT_BASE_DIR", "var"),
		NodesDir:     getEnv("NETCHAT_NODES_DIR", "_nodes"),
		SocketPath:   getEnv("NETCHAT_SOCKET", "/tmp/netchat.sock"),
		StatusAddr:   getEnv("NETCHAT_STATUS_ADDR", "127.0.0.1:8089"),
		LogLevel:     getEnv("NETCHAT_LOG_LEVEL", "info"),
		PollInterval: getEnvInt("NETCHAT_POLL_INTERVAL_MS", 500),
		LedgerLimit:  getEnvInt("NETCHAT_LEDGER_LIMIT", 100),
		ReadTimeout:  getEnvInt("NETCHAT_READ_TIMEOUT", 120),
		WriteTimeout: getEnvInt("NETCHAT_WRITE_TIMEOUT", 30),
		Nodes:        parseNodes(os.Getenv("NETCHAT_NODES")),
	}

	// "" is a valid value here and turns the API off
	if addr, ok := os.LookupEnv("NETCHAT_STATUS_ADDR"); ok {
		cfg.StatusAddr = addr
	}

	cfg.DBPath = getEnv("NETCHAT_DB_PATH", filepath.Join(cfg.BaseDir, "users.db"))

	return cfg
}

// ChatroomsDir is where chatroom records are kept.
func (c *Config) ChatroomsDir() string {
	return filepath.Join(c.BaseDir, "chatrooms")
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

// parseNodes reads "addr=owner,addr=owner". Entries without an owner are skipped.
func parseNodes(s string) map[string]string {
	nodes := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		addr, owner, ok := strings.Cut(strings.TrimSpace(entry), "=")
		addr, owner = strings.TrimSpace(addr), strings.TrimSpace(owner)
		if !ok || addr == "" || owner == "" {
			continue
		}
		nodes[addr] = owner
	}
	return nodes
}
