package handler

import (
	"strconv"
	"strings"

	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/resp"
)

func (c *Connection) execString(cmd *dispatch.Command, rest []string) (resp.Value, *dispatch.Err) {
	switch cmd.Name {
	case "GET":
		return c.cmdGet(rest)
	case "SET":
		return c.cmdSet(rest)
	case "INCR":
		return c.cmdIncrBy(rest[0], 1)
	case "DECR":
		return c.cmdIncrBy(rest[0], -1)
	case "APPEND":
		return c.cmdAppend(rest)
	case "STRLEN":
		return c.cmdStrlen(rest[0])
	case "MSET":
		return c.cmdMSet(rest)
	case "MGET":
		return c.cmdMGet(rest)
	default:
		return resp.Value{}, dispatch.ArgErr(cmd.Name)
	}
}

func stringBytes(e *keyspace.Entry) ([]byte, bool) {
	if e == nil || e.Value.Kind != keyspace.KindString || e.Value.Str == nil {
		return nil, false
	}
	return e.Value.Str.Bytes, true
}

func (c *Connection) cmdGet(rest []string) (resp.Value, *dispatch.Err) {
	key := rest[0]
	g := c.server.KeySpace.GetRead(key)
	if g == nil {
		c.server.Metrics.IncMiss("GET")
		return resp.NullBulkString(), nil
	}
	defer g.Release()

	if g.Entry().Value.Kind != keyspace.KindString {
		return resp.Value{}, dispatch.WrongType()
	}
	b, ok := stringBytes(g.Entry())
	if !ok {
		c.server.Metrics.IncMiss("GET")
		return resp.NullBulkString(), nil
	}
	c.server.Metrics.IncHit("GET")
	return resp.BulkString(string(b)), nil
}

func (c *Connection) cmdSet(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) < 2 {
		return resp.Value{}, dispatch.ArgErr("SET")
	}
	key, value := rest[0], rest[1]

	var expireAt int64
	var nx, xx bool
	for i := 2; i < len(rest); i++ {
		switch strings.ToUpper(rest[i]) {
		case "EX":
			if i+1 >= len(rest) {
				return resp.Value{}, dispatch.SyntaxErr()
			}
			secs, err := strconv.ParseInt(rest[i+1], 10, 64)
			if err != nil {
				return resp.Value{}, dispatch.SyntaxErr()
			}
			expireAt = nowMillis() + secs*1000
			i++
		case "PX":
			if i+1 >= len(rest) {
				return resp.Value{}, dispatch.SyntaxErr()
			}
			ms, err := strconv.ParseInt(rest[i+1], 10, 64)
			if err != nil {
				return resp.Value{}, dispatch.SyntaxErr()
			}
			expireAt = nowMillis() + ms
			i++
		case "NX":
			nx = true
		case "XX":
			xx = true
		default:
			return resp.Value{}, dispatch.SyntaxErr()
		}
	}

	if nx || xx {
		g := c.server.KeySpace.GetRead(key)
		exists := g != nil
		if g != nil {
			g.Release()
		}
		if nx && exists {
			return resp.NullBulkString(), nil
		}
		if xx && !exists {
			return resp.NullBulkString(), nil
		}
	}

	if err := c.reserveFor(int64(len(value))); err != nil {
		return resp.Value{}, err
	}

	if err := c.awaitWriteTurn(key); err != nil {
		return resp.Value{}, err
	}
	wasTarget := c.isLockTarget(key)
	c.server.KeySpace.Insert(key, keyspace.ObjectValue{Kind: keyspace.KindString, Str: keyspace.NewStringValue([]byte(value))}, expireAt, int64(len(value)))
	c.finalizeLock(key, wasTarget)
	c.fireMutation(key)
	c.appendAOF(append([]string{"SET", key, value}, rest[2:]...))
	return resp.SimpleString("OK"), nil
}

func (c *Connection) cmdIncrBy(key string, delta int64) (resp.Value, *dispatch.Err) {
	var result int64
	var oldSize, newSize int64
	_, cmdErr := c.mutateKey(key, func(g *keyspace.WriteGuard) (resp.Value, *dispatch.Err) {
		oldSize = keyspace.EntrySize(g.Entry())
		var cur int64
		if e := g.Entry(); e != nil {
			if e.Value.Kind != keyspace.KindString {
				return resp.Value{}, dispatch.WrongType()
			}
			if e.Value.Str != nil {
				if !e.Value.Str.IsInt {
					return resp.Value{}, dispatch.NewErr(dispatch.KindArg, "value is not an integer or out of range")
				}
				cur = e.Value.Str.Int
			}
		}
		result = cur + delta
		sv := keyspace.NewStringValue([]byte(strconv.FormatInt(result, 10)))
		if e := g.Entry(); e != nil {
			e.Value = keyspace.ObjectValue{Kind: keyspace.KindString, Str: sv}
		} else {
			g.Put(&keyspace.Entry{Key: []byte(key), Meta: keyspace.NewObjectMeta(0), Value: keyspace.ObjectValue{Kind: keyspace.KindString, Str: sv}})
		}
		newSize = keyspace.EntrySize(g.Entry())
		return resp.Integer(result), nil
	})
	if cmdErr != nil {
		return resp.Value{}, cmdErr
	}
	c.server.KeySpace.AdjustUsedMemory(newSize - oldSize)
	c.appendAOF([]string{incrVerb(delta > 0), key})
	return resp.Integer(result), nil
}

func incrVerb(positive bool) string {
	if positive {
		return "INCR"
	}
	return "DECR"
}

func (c *Connection) cmdAppend(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 2 {
		return resp.Value{}, dispatch.ArgErr("APPEND")
	}
	key, suffix := rest[0], rest[1]
	if err := c.reserveFor(int64(len(suffix))); err != nil {
		return resp.Value{}, err
	}

	var newLen int
	var oldSize, newSize int64
	val, cmdErr := c.mutateKey(key, func(g *keyspace.WriteGuard) (resp.Value, *dispatch.Err) {
		oldSize = keyspace.EntrySize(g.Entry())
		var existing []byte
		if e := g.Entry(); e != nil {
			if e.Value.Kind != keyspace.KindString {
				return resp.Value{}, dispatch.WrongType()
			}
			if e.Value.Str != nil {
				existing = e.Value.Str.Bytes
			}
		}
		merged := append(append([]byte{}, existing...), suffix...)
		newLen = len(merged)
		sv := keyspace.NewStringValue(merged)
		if e := g.Entry(); e != nil {
			e.Value = keyspace.ObjectValue{Kind: keyspace.KindString, Str: sv}
		} else {
			g.Put(&keyspace.Entry{Key: []byte(key), Meta: keyspace.NewObjectMeta(0), Value: keyspace.ObjectValue{Kind: keyspace.KindString, Str: sv}})
		}
		newSize = keyspace.EntrySize(g.Entry())
		return resp.Integer(int64(newLen)), nil
	})
	if cmdErr != nil {
		return resp.Value{}, cmdErr
	}
	c.server.KeySpace.AdjustUsedMemory(newSize - oldSize)
	c.appendAOF([]string{"APPEND", key, suffix})
	return val, nil
}

func (c *Connection) cmdStrlen(key string) (resp.Value, *dispatch.Err) {
	g := c.server.KeySpace.GetRead(key)
	if g == nil {
		return resp.Integer(0), nil
	}
	defer g.Release()
	if g.Entry().Value.Kind != keyspace.KindString {
		return resp.Value{}, dispatch.WrongType()
	}
	b, _ := stringBytes(g.Entry())
	return resp.Integer(int64(len(b))), nil
}

func (c *Connection) cmdMSet(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) == 0 || len(rest)%2 != 0 {
		return resp.Value{}, dispatch.ArgErr("MSET")
	}
	for i := 0; i < len(rest); i += 2 {
		if _, err := c.cmdSet(rest[i : i+2]); err != nil {
			return resp.Value{}, err
		}
	}
	return resp.SimpleString("OK"), nil
}

func (c *Connection) cmdMGet(rest []string) (resp.Value, *dispatch.Err) {
	items := make([]resp.Value, len(rest))
	for i, key := range rest {
		v, _ := c.cmdGet([]string{key})
		items[i] = v
	}
	return resp.Array(items...), nil
}
