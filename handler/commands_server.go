package handler

import (
	"strconv"

	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/eviction"
	"github.com/emberkv/emberkv/resp"
)

func (c *Connection) execServer(cmd *dispatch.Command, rest []string) (resp.Value, *dispatch.Err) {
	switch cmd.Name {
	case "INFO":
		return c.cmdInfo(), nil
	case "DBSIZE":
		return resp.Integer(int64(c.server.KeySpace.DBSize())), nil
	case "FLUSHDB":
		c.server.KeySpace.FlushAll()
		c.appendAOF([]string{"FLUSHDB"})
		return resp.SimpleString("OK"), nil
	case "CONFIG GET":
		return c.cmdConfigGet(rest)
	case "CONFIG SET":
		return c.cmdConfigSet(rest)
	case "SHUTDOWN":
		go c.server.Shutdown()
		return resp.SimpleString("OK"), nil
	default:
		return resp.Value{}, dispatch.ArgErr(cmd.Name)
	}
}

// cmdInfo renders Server.Info's fields as bulk "key:value" lines, the
// convention real Redis clients already parse INFO replies with.
func (c *Connection) cmdInfo() resp.Value {
	info := c.server.Info()
	out := ""
	for _, k := range []string{"dbsize", "used_memory", "connected_clients", "uptime_seconds", "maxmemory", "maxmemory_policy"} {
		v, ok := info[k]
		if !ok {
			continue
		}
		out += k + ":" + formatInfoValue(v) + "\r\n"
	}
	return resp.BulkString(out)
}

func formatInfoValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func (c *Connection) cmdConfigGet(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 1 {
		return resp.Value{}, dispatch.ArgErr("CONFIG GET")
	}
	key := rest[0]
	val, ok := c.configValue(key)
	if !ok {
		return resp.Array(), nil
	}
	return resp.Array(resp.BulkString(key), resp.BulkString(val)), nil
}

func (c *Connection) configValue(key string) (string, bool) {
	switch key {
	case "maxmemory":
		if c.server.Eviction != nil {
			return strconv.FormatInt(c.server.Eviction.MaxMemory(), 10), true
		}
		return strconv.FormatInt(c.server.Config.MaxMemory, 10), true
	case "maxmemory-policy":
		if c.server.Eviction != nil {
			return string(c.server.Eviction.PolicyValue()), true
		}
		return c.server.Config.MaxMemoryPolicy, true
	case "maxmemory-samples":
		return strconv.Itoa(c.server.Config.MaxMemorySamples), true
	case "requirepass":
		return c.server.requirePass, true
	case "max-batch":
		return strconv.Itoa(c.server.Config.MaxBatch), true
	default:
		return "", false
	}
}

// configDottedKeys maps the short CONFIG GET/SET parameter name onto the
// dotted spec.md §6 key the sqlite override tier persists under.
var configDottedKeys = map[string]string{
	"maxmemory":         "memory.oom.maxmemory",
	"maxmemory-policy":  "memory.oom.maxmemory_policy",
	"maxmemory-samples": "memory.oom.maxmemory_samples_count",
	"max-batch":         "server.max_batch",
}

// cmdConfigSet applies a runtime override to the live in-process state
// (eviction engine policy/limits, connection batching) and, when a
// ConfigMgr is wired, persists it so it survives a restart.
func (c *Connection) cmdConfigSet(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 2 {
		return resp.Value{}, dispatch.ArgErr("CONFIG SET")
	}
	key, value := rest[0], rest[1]

	switch key {
	case "maxmemory":
		bytes, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return resp.Value{}, dispatch.SyntaxErr()
		}
		c.server.Config.MaxMemory = bytes
		if c.server.Eviction != nil {
			c.server.Eviction.SetMaxMemory(bytes)
		}
	case "maxmemory-policy":
		policy := eviction.Policy(value)
		c.server.Config.MaxMemoryPolicy = value
		if c.server.Eviction != nil {
			c.server.Eviction.SetPolicy(policy)
		}
	case "maxmemory-samples":
		n, err := strconv.Atoi(value)
		if err != nil {
			return resp.Value{}, dispatch.SyntaxErr()
		}
		c.server.Config.MaxMemorySamples = n
		if c.server.Eviction != nil {
			c.server.Eviction.SetSamples(n)
		}
	case "max-batch":
		n, err := strconv.Atoi(value)
		if err != nil {
			return resp.Value{}, dispatch.SyntaxErr()
		}
		c.server.Config.MaxBatch = n
	default:
		return resp.Value{}, dispatch.NewErr(dispatch.KindArg, "unknown config parameter '%s'", key)
	}

	if c.server.ConfigMgr != nil {
		if dotted, ok := configDottedKeys[key]; ok {
			if err := c.server.ConfigMgr.Set(dotted, value); err != nil {
				return resp.Value{}, dispatch.NewErr(dispatch.KindArg, "%s", err.Error())
			}
		}
	}
	return resp.SimpleString("OK"), nil
}
