package config

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v2"

	"github.com/emberkv/emberkv/logger"
)

var log = logger.For("config")

// fileConfig is the YAML document shape; it mirrors Config's dotted key
// names from spec.md §6 so operators can hand-write a config file that
// reads the same as `CONFIG GET`/`CONFIG SET` arguments.
type fileConfig struct {
	Server struct {
		Host          string `yaml:"host"`
		Port          int    `yaml:"port"`
		MaxConnections int   `yaml:"max_connections"`
		MaxBatch      int    `yaml:"max_batch"`
		LogLevel      string `yaml:"log_level"`
		LogFormat     string `yaml:"log_format"`
	} `yaml:"server"`
	Security struct {
		RequirePass string `yaml:"requirepass"`
	} `yaml:"security"`
	Memory struct {
		OOM struct {
			MaxMemory       int64  `yaml:"maxmemory"`
			MaxMemoryPolicy string `yaml:"maxmemory_policy"`
			Samples         int    `yaml:"maxmemory_samples_count"`
		} `yaml:"oom"`
	} `yaml:"memory"`
	RDB struct {
		FilePath string `yaml:"file_path"`
	} `yaml:"rdb"`
	AOF struct {
		FilePath     string `yaml:"file_path"`
		AppendFsync  string `yaml:"append_fsync"`
	} `yaml:"aof"`
	TLS struct {
		Port     int    `yaml:"port"`
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`
}

// LoadFile merges a YAML config file's values onto cfg (file tier, above
// env/defaults, below the sqlite override tier).
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.Server.Host != "" {
		c.Host = fc.Server.Host
	}
	if fc.Server.Port != 0 {
		c.Port = fc.Server.Port
	}
	if fc.Server.MaxConnections != 0 {
		c.MaxConns = fc.Server.MaxConnections
	}
	if fc.Server.MaxBatch != 0 {
		c.MaxBatch = fc.Server.MaxBatch
	}
	if fc.Server.LogLevel != "" {
		c.LogLevel = fc.Server.LogLevel
	}
	if fc.Server.LogFormat != "" {
		c.LogFormat = fc.Server.LogFormat
	}
	if fc.Security.RequirePass != "" {
		c.RequirePass = fc.Security.RequirePass
	}
	if fc.Memory.OOM.MaxMemory != 0 {
		c.MaxMemory = fc.Memory.OOM.MaxMemory
	}
	if fc.Memory.OOM.MaxMemoryPolicy != "" {
		c.MaxMemoryPolicy = fc.Memory.OOM.MaxMemoryPolicy
	}
	if fc.Memory.OOM.Samples != 0 {
		c.MaxMemorySamples = fc.Memory.OOM.Samples
	}
	if fc.RDB.FilePath != "" {
		c.RDBFilePath = fc.RDB.FilePath
	}
	if fc.AOF.FilePath != "" {
		c.AOFFilePath = fc.AOF.FilePath
	}
	if fc.AOF.AppendFsync != "" {
		c.AOFAppendFsync = fc.AOF.AppendFsync
	}
	if fc.TLS.Port != 0 {
		c.TLSPort = fc.TLS.Port
	}
	if fc.TLS.CertFile != "" {
		c.TLSCertFile = fc.TLS.CertFile
	}
	if fc.TLS.KeyFile != "" {
		c.TLSKeyFile = fc.TLS.KeyFile
	}

	return nil
}

// Manager is the highest-priority tier: CONFIG SET overrides persisted to a
// small sqlite database so they survive a restart, the same role the
// teacher's entity-repository-backed config tier plays.
type Manager struct {
	mu   sync.RWMutex
	db   *sql.DB
	base *Config
}

// NewManager opens (creating if necessary) the override database under
// dataDir and replays any persisted overrides onto base.
func NewManager(dataDir string, base *Config) (*Manager, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "config-overrides.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("config: open override db: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS config_overrides (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("config: create override table: %w", err)
	}

	m := &Manager{db: db, base: base}
	if err := m.replay(); err != nil {
		return nil, err
	}
	return m, nil
}

// replay applies every persisted override row onto the base config.
func (m *Manager) replay() error {
	rows, err := m.db.Query(`SELECT key, value FROM config_overrides`)
	if err != nil {
		return fmt.Errorf("config: load overrides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if err := applyOverride(m.base, key, value); err != nil {
			log.Warn("dropping unrecognised persisted override " + key)
		}
	}
	return rows.Err()
}

// Set applies (and persists) a runtime CONFIG SET. key is the dotted
// spec.md §6 option name, e.g. "memory.oom.maxmemory".
func (m *Manager) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := applyOverride(m.base, key, value); err != nil {
		return err
	}

	_, err := m.db.Exec(
		`INSERT INTO config_overrides(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("config: persist override: %w", err)
	}
	log.Info("config override persisted: " + key + "=" + value)
	return nil
}

// Snapshot returns a read-locked copy of the live config for CONFIG GET.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.base
}

// Close releases the override database handle.
func (m *Manager) Close() error {
	return m.db.Close()
}
