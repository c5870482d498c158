package handler

import (
	"path"
	"strconv"

	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/resp"
)

func (c *Connection) execKeyspace(cmd *dispatch.Command, rest []string) (resp.Value, *dispatch.Err) {
	switch cmd.Name {
	case "DEL":
		return c.cmdDel(rest)
	case "EXISTS":
		return c.cmdExists(rest)
	case "EXPIRE":
		return c.cmdExpire(rest)
	case "PERSIST":
		return c.cmdPersist(rest)
	case "TTL":
		return c.cmdTTL(rest)
	case "TYPE":
		return c.cmdType(rest)
	case "KEYS":
		return c.cmdKeys(rest)
	case "SCAN":
		return c.cmdScan(rest)
	default:
		return resp.Value{}, dispatch.ArgErr(cmd.Name)
	}
}

func (c *Connection) cmdDel(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) == 0 {
		return resp.Value{}, dispatch.ArgErr("DEL")
	}
	var removed int64
	for _, key := range rest {
		if err := c.awaitWriteTurn(key); err != nil {
			return resp.Value{}, err
		}
		wasTarget := c.isLockTarget(key)
		ids, existed := c.server.KeySpace.Remove(key)
		if existed {
			removed++
			if len(ids) > 0 {
				c.server.deliverInvalidation(key, ids)
			}
		}
		c.finalizeLock(key, wasTarget)
	}
	if removed > 0 {
		c.appendAOF(append([]string{"DEL"}, rest...))
	}
	return resp.Integer(removed), nil
}

func (c *Connection) cmdExists(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) == 0 {
		return resp.Value{}, dispatch.ArgErr("EXISTS")
	}
	var count int64
	for _, key := range rest {
		g := c.server.KeySpace.GetRead(key)
		if g != nil {
			count++
			g.Release()
		}
	}
	return resp.Integer(count), nil
}

func (c *Connection) cmdExpire(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 2 {
		return resp.Value{}, dispatch.ArgErr("EXPIRE")
	}
	key := rest[0]
	secs, err := strconv.ParseInt(rest[1], 10, 64)
	if err != nil {
		return resp.Value{}, dispatch.SyntaxErr()
	}
	if err := c.awaitWriteTurn(key); err != nil {
		return resp.Value{}, err
	}
	wasTarget := c.isLockTarget(key)
	ok := c.server.KeySpace.SetExpire(key, nowMillis()+secs*1000)
	c.finalizeLock(key, wasTarget)
	if !ok {
		return resp.Integer(0), nil
	}
	c.appendAOF([]string{"EXPIRE", key, rest[1]})
	return resp.Integer(1), nil
}

func (c *Connection) cmdPersist(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 1 {
		return resp.Value{}, dispatch.ArgErr("PERSIST")
	}
	key := rest[0]
	if err := c.awaitWriteTurn(key); err != nil {
		return resp.Value{}, err
	}
	wasTarget := c.isLockTarget(key)
	ok := c.server.KeySpace.SetExpire(key, 0)
	c.finalizeLock(key, wasTarget)
	if !ok {
		return resp.Integer(0), nil
	}
	c.appendAOF([]string{"PERSIST", key})
	return resp.Integer(1), nil
}

func (c *Connection) cmdTTL(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 1 {
		return resp.Value{}, dispatch.ArgErr("TTL")
	}
	g := c.server.KeySpace.GetRead(rest[0])
	if g == nil {
		return resp.Integer(-2), nil
	}
	defer g.Release()
	expireAt := g.Entry().Meta.ExpireAt()
	if expireAt == 0 {
		return resp.Integer(-1), nil
	}
	remaining := expireAt - nowMillis()
	if remaining < 0 {
		remaining = 0
	}
	return resp.Integer(remaining / 1000), nil
}

func (c *Connection) cmdType(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 1 {
		return resp.Value{}, dispatch.ArgErr("TYPE")
	}
	g := c.server.KeySpace.GetRead(rest[0])
	if g == nil {
		return resp.SimpleString("none"), nil
	}
	defer g.Release()
	return resp.SimpleString(g.Entry().Value.Kind.String()), nil
}

func (c *Connection) cmdKeys(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 1 {
		return resp.Value{}, dispatch.ArgErr("KEYS")
	}
	pattern := rest[0]
	var matched []resp.Value
	c.server.KeySpace.ForEach(func(key string, e *keyspace.Entry) {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, resp.BulkString(key))
		}
	})
	return resp.Array(matched...), nil
}

func (c *Connection) cmdScan(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) == 0 {
		return resp.Value{}, dispatch.ArgErr("SCAN")
	}
	cursor, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		return resp.Value{}, dispatch.SyntaxErr()
	}
	count := 10
	for i := 1; i+1 < len(rest); i += 2 {
		if eqFold(rest[i], "COUNT") {
			n, convErr := strconv.Atoi(rest[i+1])
			if convErr != nil || n <= 0 {
				return resp.Value{}, dispatch.SyntaxErr()
			}
			count = n
		}
	}

	next, keys := c.server.KeySpace.Scan(cursor, count)
	items := make([]resp.Value, len(keys))
	for i, k := range keys {
		items[i] = resp.BulkString(k)
	}
	return resp.Array(resp.BulkString(strconv.FormatUint(next, 10)), resp.Array(items...)), nil
}
