package handler

import (
	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/resp"
)

func (c *Connection) execHash(cmd *dispatch.Command, rest []string) (resp.Value, *dispatch.Err) {
	switch cmd.Name {
	case "HSET":
		return c.cmdHSet(rest)
	case "HGET":
		return c.cmdHGet(rest)
	case "HDEL":
		return c.cmdHDel(rest)
	case "HGETALL":
		return c.cmdHGetAll(rest)
	default:
		return resp.Value{}, dispatch.ArgErr(cmd.Name)
	}
}

func hashValue(e *keyspace.Entry) (*keyspace.HashValue, bool) {
	if e == nil || e.Value.Kind != keyspace.KindHash || e.Value.Hash == nil {
		return nil, false
	}
	return e.Value.Hash, true
}

func (c *Connection) cmdHSet(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) < 3 || len(rest)%2 != 1 {
		return resp.Value{}, dispatch.ArgErr("HSET")
	}
	key := rest[0]
	pairs := rest[1:]

	var addedBytes int64
	for i := 0; i < len(pairs); i += 2 {
		addedBytes += int64(len(pairs[i]) + len(pairs[i+1]))
	}
	if err := c.reserveFor(addedBytes); err != nil {
		return resp.Value{}, err
	}

	var added int64
	var oldSize, newSize int64
	_, cmdErr := c.mutateKey(key, func(g *keyspace.WriteGuard) (resp.Value, *dispatch.Err) {
		oldSize = keyspace.EntrySize(g.Entry())
		var h *keyspace.HashValue
		if e := g.Entry(); e != nil {
			if e.Value.Kind != keyspace.KindHash {
				return resp.Value{}, dispatch.WrongType()
			}
			h = e.Value.Hash
		}
		if h == nil {
			h = keyspace.NewHashValue()
			g.Put(&keyspace.Entry{Key: []byte(key), Meta: keyspace.NewObjectMeta(0), Value: keyspace.ObjectValue{Kind: keyspace.KindHash, Hash: h}})
		}
		for i := 0; i < len(pairs); i += 2 {
			if h.Set(pairs[i], []byte(pairs[i+1])) {
				added++
			}
		}
		newSize = keyspace.EntrySize(g.Entry())
		return resp.Integer(added), nil
	})
	if cmdErr != nil {
		return resp.Value{}, cmdErr
	}
	c.server.KeySpace.AdjustUsedMemory(newSize - oldSize)
	c.appendAOF(append([]string{"HSET", key}, pairs...))
	return resp.Integer(added), nil
}

func (c *Connection) cmdHGet(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 2 {
		return resp.Value{}, dispatch.ArgErr("HGET")
	}
	key, field := rest[0], rest[1]
	g := c.server.KeySpace.GetRead(key)
	if g == nil {
		return resp.NullBulkString(), nil
	}
	defer g.Release()
	if g.Entry().Value.Kind != keyspace.KindHash {
		return resp.Value{}, dispatch.WrongType()
	}
	h, ok := hashValue(g.Entry())
	if !ok {
		return resp.NullBulkString(), nil
	}
	v, ok := h.Get(field)
	if !ok {
		return resp.NullBulkString(), nil
	}
	return resp.BulkString(string(v)), nil
}

func (c *Connection) cmdHDel(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) < 2 {
		return resp.Value{}, dispatch.ArgErr("HDEL")
	}
	key := rest[0]
	fields := rest[1:]

	var removed int64
	var oldSize, newSize int64
	_, cmdErr := c.mutateKey(key, func(g *keyspace.WriteGuard) (resp.Value, *dispatch.Err) {
		oldSize = keyspace.EntrySize(g.Entry())
		h, ok := hashValue(g.Entry())
		if g.Entry() != nil && !ok && g.Entry().Value.Kind != keyspace.KindHash {
			return resp.Value{}, dispatch.WrongType()
		}
		if !ok {
			return resp.Integer(0), nil
		}
		for _, f := range fields {
			if h.Del(f) {
				removed++
			}
		}
		if h.Len() == 0 {
			g.Delete()
		} else {
			newSize = keyspace.EntrySize(g.Entry())
		}
		return resp.Integer(removed), nil
	})
	if cmdErr != nil {
		return resp.Value{}, cmdErr
	}
	c.server.KeySpace.AdjustUsedMemory(newSize - oldSize)
	if removed > 0 {
		c.appendAOF(append([]string{"HDEL", key}, fields...))
	}
	return resp.Integer(removed), nil
}

func (c *Connection) cmdHGetAll(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 1 {
		return resp.Value{}, dispatch.ArgErr("HGETALL")
	}
	key := rest[0]
	g := c.server.KeySpace.GetRead(key)
	if g == nil {
		return resp.Map(), nil
	}
	defer g.Release()
	if g.Entry().Value.Kind != keyspace.KindHash {
		return resp.Value{}, dispatch.WrongType()
	}
	h, ok := hashValue(g.Entry())
	if !ok {
		return resp.Map(), nil
	}
	all := h.All()
	kv := make([]resp.Value, 0, len(all)*2)
	for field, v := range all {
		kv = append(kv, resp.BulkString(field), resp.BulkString(string(v)))
	}
	return resp.Map(kv...), nil
}
