package config

import (
	"fmt"
	"strconv"
	"strings"
)

// applyOverride sets a single dotted spec.md §6 configuration key on cfg,
// parsing value according to the field's type. It serves the sqlite
// override tier (Manager.Set/replay), which only ever sees raw strings; the
// YAML file tier does not use it and maps its typed struct in LoadFile.
func applyOverride(cfg *Config, key, value string) error {
	switch strings.ToLower(key) {
	case "server.host":
		cfg.Host = value
	case "server.port":
		return setInt(&cfg.Port, value)
	case "server.max_connections":
		return setInt(&cfg.MaxConns, value)
	case "server.max_batch":
		return setInt(&cfg.MaxBatch, value)
	case "server.log_level":
		cfg.LogLevel = value
	case "server.log_format":
		cfg.LogFormat = value

	case "security.requirepass":
		cfg.RequirePass = value

	case "replica.read_only":
		return setBool(&cfg.ReplicaReadOnly, value)
	case "replica.max_replica":
		return setInt(&cfg.MaxReplica, value)
	case "replica.replicaof":
		cfg.ReplicaOf = value

	case "memory.expiration_evict.samples_count":
		return setInt(&cfg.ExpirationSampleCount, value)
	case "memory.oom.maxmemory":
		return setInt64(&cfg.MaxMemory, value)
	case "memory.oom.maxmemory_policy":
		cfg.MaxMemoryPolicy = value
	case "memory.oom.maxmemory_samples_count":
		return setInt(&cfg.MaxMemorySamples, value)

	case "rdb.file_path":
		cfg.RDBFilePath = value
	case "rdb.save.seconds":
		return setInt(&cfg.RDBSaveSeconds, value)
	case "rdb.save.changes":
		return setInt(&cfg.RDBSaveChanges, value)
	case "rdb.version":
		return setInt(&cfg.RDBVersion, value)
	case "rdb.enable_checksum":
		return setBool(&cfg.RDBEnableChecksum, value)

	case "aof.use_rdb_preamble":
		return setBool(&cfg.AOFUseRDBPreamble, value)
	case "aof.file_path":
		cfg.AOFFilePath = value
	case "aof.append_fsync":
		cfg.AOFAppendFsync = value
	case "aof.auto_aof_rewrite_min_size":
		return setInt64(&cfg.AOFAutoRewriteMinSize, value)

	case "tls.port":
		return setInt(&cfg.TLSPort, value)
	case "tls.cert_file":
		cfg.TLSCertFile = value
	case "tls.key_file":
		cfg.TLSKeyFile = value

	default:
		return fmt.Errorf("config: unrecognised key %q", key)
	}
	return nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("config: not an integer: %q", value)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, value string) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("config: not an integer: %q", value)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, value string) error {
	*dst = value == "1" || strings.EqualFold(value, "true")
	return nil
}
