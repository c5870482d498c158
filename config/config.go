// Package config provides centralized configuration for emberkv.
//
// Configuration follows a three-tier hierarchy, the same shape the
// teacher repository uses for its own config:
//
//  1. runtime CONFIG SET overrides, persisted to sqlite (highest priority)
//  2. a YAML config file
//  3. environment variables / compiled defaults (lowest priority)
//
// Every field below has a default and, where it maps onto a RESP
// CONFIG GET/SET key, that key is named in the doc comment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ACLRule is the allow/deny shape shared by security.default_ac and every
// security.acl.<user> entry.
type ACLRule struct {
	Enable             bool
	AllowCommands      []string
	DenyCommands       []string
	AllowCategory      []string
	DenyCategory       []string
	AllowKeyPatterns   []string
	DenyKeyPatterns    []string
	AllowWriteKeyPatterns []string
	DenyWriteKeyPatterns  []string
	AllowChannelPatterns  []string
	DenyChannelPatterns   []string
	Password           string // bcrypt hash; empty = no password required
}

// Config holds every recognised configuration option from spec.md §6.
type Config struct {
	// Server
	Host          string // server.host
	Port          int    // server.port
	MaxConns      int    // server.max_connections
	MaxBatch      int    // server.max_batch
	AdminHTTPAddr string // adminapi listen address (ambient, not in spec.md §6 command surface)
	LogLevel      string // server.log_level: trace|debug|info|warn|error
	LogFormat     string // server.log_format: console|json
	DataDir       string // root directory for persisted state (rdb/aof/config overrides)

	// Security
	RequirePass  string             // security.requirepass
	DefaultACL   ACLRule            // security.default_ac
	ACLUsers     map[string]ACLRule // security.acl.<user>

	// Replication posture (not implemented; only the config surface is kept)
	ReplicaReadOnly bool   // replica.read_only
	MaxReplica      int    // replica.max_replica
	ReplicaOf       string // replica.replicaof ("" = not a replica)

	// Memory / eviction
	ExpirationSampleCount int     // memory.expiration_evict.samples_count
	MaxMemory             int64   // memory.oom.maxmemory (bytes, 0 = unlimited)
	MaxMemoryPolicy       string  // memory.oom.maxmemory_policy
	MaxMemorySamples      int     // memory.oom.maxmemory_samples_count
	ExpireCheckInterval   time.Duration

	// RDB
	RDBFilePath      string // rdb.file_path
	RDBSaveSeconds   int    // rdb.save.seconds
	RDBSaveChanges   int    // rdb.save.changes
	RDBVersion       int    // rdb.version
	RDBEnableChecksum bool  // rdb.enable_checksum

	// AOF
	AOFUseRDBPreamble       bool   // aof.use_rdb_preamble
	AOFFilePath             string // aof.file_path
	AOFAppendFsync          string // aof.append_fsync: always|everysec|no
	AOFAutoRewriteMinSize   int64  // aof.auto_aof_rewrite_min_size

	// TLS
	TLSPort     int    // tls.port (0 = disabled)
	TLSCertFile string // tls.cert_file
	TLSKeyFile  string // tls.key_file
}

// Default returns the compiled-in baseline before env/file/db overrides.
func Default() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          6380,
		MaxConns:      10000,
		MaxBatch:      32,
		AdminHTTPAddr: "127.0.0.1:9180",
		LogLevel:      "info",
		LogFormat:     "console",
		DataDir:       "./var",

		DefaultACL: ACLRule{Enable: true},
		ACLUsers:   map[string]ACLRule{},

		ExpirationSampleCount: 20,
		MaxMemory:             0,
		MaxMemoryPolicy:       "noeviction",
		MaxMemorySamples:      5,
		ExpireCheckInterval:   time.Second,

		RDBFilePath:       "./var/dump.rdb",
		RDBSaveSeconds:    300,
		RDBSaveChanges:    100,
		RDBVersion:        1,
		RDBEnableChecksum: true,

		AOFUseRDBPreamble:     true,
		AOFFilePath:           "./var/emberkv.aof",
		AOFAppendFsync:        "everysec",
		AOFAutoRewriteMinSize: 64 * 1024 * 1024,

		TLSPort: 0,
	}
}

// ApplyEnv overlays recognised ENTITYDB-style environment variables (here
// prefixed EMBERKV_) onto cfg, lowest-priority tier above compiled defaults.
func (c *Config) ApplyEnv() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	num64 := func(key string, dst *int64) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}

	str("EMBERKV_HOST", &c.Host)
	num("EMBERKV_PORT", &c.Port)
	num("EMBERKV_MAX_CONNECTIONS", &c.MaxConns)
	num("EMBERKV_MAX_BATCH", &c.MaxBatch)
	str("EMBERKV_ADMIN_HTTP_ADDR", &c.AdminHTTPAddr)
	str("EMBERKV_LOG_LEVEL", &c.LogLevel)
	str("EMBERKV_LOG_FORMAT", &c.LogFormat)
	str("EMBERKV_DATA_DIR", &c.DataDir)
	str("EMBERKV_REQUIREPASS", &c.RequirePass)
	boolean("EMBERKV_REPLICA_READ_ONLY", &c.ReplicaReadOnly)
	num("EMBERKV_MAX_REPLICA", &c.MaxReplica)
	str("EMBERKV_REPLICAOF", &c.ReplicaOf)
	num("EMBERKV_EXPIRATION_EVICT_SAMPLES", &c.ExpirationSampleCount)
	num64("EMBERKV_MAXMEMORY", &c.MaxMemory)
	str("EMBERKV_MAXMEMORY_POLICY", &c.MaxMemoryPolicy)
	num("EMBERKV_MAXMEMORY_SAMPLES", &c.MaxMemorySamples)
	str("EMBERKV_RDB_FILE_PATH", &c.RDBFilePath)
	num("EMBERKV_RDB_SAVE_SECONDS", &c.RDBSaveSeconds)
	num("EMBERKV_RDB_SAVE_CHANGES", &c.RDBSaveChanges)
	boolean("EMBERKV_RDB_ENABLE_CHECKSUM", &c.RDBEnableChecksum)
	boolean("EMBERKV_AOF_USE_RDB_PREAMBLE", &c.AOFUseRDBPreamble)
	str("EMBERKV_AOF_FILE_PATH", &c.AOFFilePath)
	str("EMBERKV_AOF_APPEND_FSYNC", &c.AOFAppendFsync)
	num64("EMBERKV_AOF_AUTO_REWRITE_MIN_SIZE", &c.AOFAutoRewriteMinSize)
	num("EMBERKV_TLS_PORT", &c.TLSPort)
	str("EMBERKV_TLS_CERT_FILE", &c.TLSCertFile)
	str("EMBERKV_TLS_KEY_FILE", &c.TLSKeyFile)
}
