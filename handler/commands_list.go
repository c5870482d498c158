package handler

import (
	"reflect"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/resp"
)

func (c *Connection) execList(cmd *dispatch.Command, rest []string) (resp.Value, *dispatch.Err) {
	switch cmd.Name {
	case "LPUSH":
		return c.cmdPush(rest, true)
	case "RPUSH":
		return c.cmdPush(rest, false)
	case "LPOP":
		return c.cmdPop(rest, true)
	case "RPOP":
		return c.cmdPop(rest, false)
	case "LRANGE":
		return c.cmdLRange(rest)
	case "LLEN":
		return c.cmdLLen(rest[0])
	case "BLPOP":
		return c.cmdBlockingPop(rest, true)
	case "BRPOP":
		return c.cmdBlockingPop(rest, false)
	case "NBLPOP":
		return c.cmdNonBlockingPop(rest)
	default:
		return resp.Value{}, dispatch.ArgErr(cmd.Name)
	}
}

func listValue(e *keyspace.Entry) (*keyspace.ListValue, bool) {
	if e == nil || e.Value.Kind != keyspace.KindList || e.Value.List == nil {
		return nil, false
	}
	return e.Value.List, true
}

// isPlaceholder reports whether e is the value-less entry KeySpace.EnsureEntry
// hangs on a missing key (for a parked blocking pop or an IntentionLock
// claim); the push and pop paths treat it as an absent key, not a string.
func isPlaceholder(e *keyspace.Entry) bool {
	return e.Value.Kind == keyspace.KindString && e.Value.Str == nil
}

func (c *Connection) cmdPush(rest []string, left bool) (resp.Value, *dispatch.Err) {
	if len(rest) < 2 {
		return resp.Value{}, dispatch.ArgErr("LPUSH")
	}
	key, items := rest[0], rest[1:]

	var addedBytes int64
	for _, item := range items {
		addedBytes += int64(len(item))
	}
	if err := c.reserveFor(addedBytes); err != nil {
		return resp.Value{}, err
	}

	var newLen int
	var oldSize, newSize int64
	_, cmdErr := c.mutateKey(key, func(g *keyspace.WriteGuard) (resp.Value, *dispatch.Err) {
		oldSize = keyspace.EntrySize(g.Entry())
		var list *keyspace.ListValue
		if e := g.Entry(); e != nil && !isPlaceholder(e) {
			if e.Value.Kind != keyspace.KindList {
				return resp.Value{}, dispatch.WrongType()
			}
			list = e.Value.List
		}
		if list == nil {
			list = keyspace.NewListValue()
			g.Put(&keyspace.Entry{Key: []byte(key), Meta: keyspace.NewObjectMeta(0), Value: keyspace.ObjectValue{Kind: keyspace.KindList, List: list}})
		}
		for _, item := range items {
			if left {
				list.PushLeft([]byte(item))
			} else {
				list.PushRight([]byte(item))
			}
		}
		newLen = list.Len()
		newSize = keyspace.EntrySize(g.Entry())
		return resp.Integer(int64(newLen)), nil
	})
	if cmdErr != nil {
		return resp.Value{}, cmdErr
	}
	c.server.KeySpace.AdjustUsedMemory(newSize - oldSize)
	verb := "RPUSH"
	if left {
		verb = "LPUSH"
	}
	c.appendAOF(append([]string{verb, key}, items...))
	return resp.Integer(int64(newLen)), nil
}

func (c *Connection) cmdPop(rest []string, left bool) (resp.Value, *dispatch.Err) {
	if len(rest) == 0 {
		return resp.Value{}, dispatch.ArgErr("LPOP")
	}
	key := rest[0]
	count := 1
	if len(rest) >= 2 {
		n, err := strconv.Atoi(rest[1])
		if err != nil || n < 0 {
			return resp.Value{}, dispatch.SyntaxErr()
		}
		count = n
	}

	var popped [][]byte
	var oldSize, newSize int64
	_, cmdErr := c.mutateKey(key, func(g *keyspace.WriteGuard) (resp.Value, *dispatch.Err) {
		oldSize = keyspace.EntrySize(g.Entry())
		list, ok := listValue(g.Entry())
		if g.Entry() != nil && !ok && g.Entry().Value.Kind != keyspace.KindList && !isPlaceholder(g.Entry()) {
			return resp.Value{}, dispatch.WrongType()
		}
		if !ok {
			return resp.NullBulkString(), nil
		}
		for i := 0; i < count; i++ {
			var v []byte
			var has bool
			if left {
				v, has = list.PopLeft()
			} else {
				v, has = list.PopRight()
			}
			if !has {
				break
			}
			popped = append(popped, v)
		}
		if list.Len() == 0 {
			g.Delete()
		} else {
			newSize = keyspace.EntrySize(g.Entry())
		}
		return resp.Value{}, nil
	})
	if cmdErr != nil {
		return resp.Value{}, cmdErr
	}
	c.server.KeySpace.AdjustUsedMemory(newSize - oldSize)
	if len(popped) == 0 {
		return resp.NullBulkString(), nil
	}
	verb := "RPOP"
	if left {
		verb = "LPOP"
	}
	c.appendAOF([]string{verb, key, strconv.Itoa(len(popped))})

	if len(rest) < 2 {
		return resp.BulkString(string(popped[0])), nil
	}
	items := make([]resp.Value, len(popped))
	for i, v := range popped {
		items[i] = resp.BulkString(string(v))
	}
	return resp.Array(items...), nil
}

func (c *Connection) cmdLRange(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) != 3 {
		return resp.Value{}, dispatch.ArgErr("LRANGE")
	}
	key := rest[0]
	start, err1 := strconv.Atoi(rest[1])
	stop, err2 := strconv.Atoi(rest[2])
	if err1 != nil || err2 != nil {
		return resp.Value{}, dispatch.SyntaxErr()
	}

	g := c.server.KeySpace.GetRead(key)
	if g == nil {
		return resp.Array(), nil
	}
	defer g.Release()
	if g.Entry().Value.Kind != keyspace.KindList {
		return resp.Value{}, dispatch.WrongType()
	}
	list, ok := listValue(g.Entry())
	if !ok {
		return resp.Array(), nil
	}
	n := list.Len()
	start, stop = resolveRange(start, stop, n)
	items := list.Range(start, stop)
	out := make([]resp.Value, len(items))
	for i, v := range items {
		out[i] = resp.BulkString(string(v))
	}
	return resp.Array(out...), nil
}

// resolveRange turns Redis-style (possibly negative) indices into bounds
// ListValue.Range accepts.
func resolveRange(start, stop, n int) (int, int) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

func (c *Connection) cmdLLen(key string) (resp.Value, *dispatch.Err) {
	g := c.server.KeySpace.GetRead(key)
	if g == nil {
		return resp.Integer(0), nil
	}
	defer g.Release()
	if g.Entry().Value.Kind != keyspace.KindList {
		return resp.Value{}, dispatch.WrongType()
	}
	list, ok := listValue(g.Entry())
	if !ok {
		return resp.Integer(0), nil
	}
	return resp.Integer(int64(list.Len())), nil
}

// tryPop attempts a single non-blocking pop against key, returning the
// popped value and whether one was available.
func (c *Connection) tryPop(key string, left bool) ([]byte, bool, *dispatch.Err) {
	var v []byte
	var ok bool
	var oldSize, newSize int64
	_, cmdErr := c.mutateKey(key, func(g *keyspace.WriteGuard) (resp.Value, *dispatch.Err) {
		oldSize = keyspace.EntrySize(g.Entry())
		list, has := listValue(g.Entry())
		if g.Entry() != nil && !has && g.Entry().Value.Kind != keyspace.KindList && !isPlaceholder(g.Entry()) {
			return resp.Value{}, dispatch.WrongType()
		}
		if !has {
			return resp.Value{}, nil
		}
		if left {
			v, ok = list.PopLeft()
		} else {
			v, ok = list.PopRight()
		}
		if ok && list.Len() == 0 {
			g.Delete()
		} else {
			newSize = keyspace.EntrySize(g.Entry())
		}
		return resp.Value{}, nil
	})
	if cmdErr == nil {
		c.server.KeySpace.AdjustUsedMemory(newSize - oldSize)
	}
	return v, ok, cmdErr
}

// blockingPop implements BLPOP/BRPOP/NBLPOP's shared wait loop: try every
// key in order, and if none has anything, park on every key's MayUpdate
// channel simultaneously until one fires or the timeout elapses.
func (c *Connection) blockingPop(keys []string, timeout time.Duration, left bool) (string, []byte, *dispatch.Err) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		for _, key := range keys {
			v, ok, err := c.tryPop(key, left)
			if err != nil {
				return "", nil, err
			}
			if ok {
				return key, v, nil
			}
		}

		cases := make([]reflect.SelectCase, 0, len(keys)+2)
		for _, key := range keys {
			g := c.server.KeySpace.EnsureEntry(key)
			hub := g.Entry().EventsOrCreate()
			ch := hub.Await()
			g.Release()
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
		}
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.closeCh)})
		if deadline != nil {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(deadline)})
		}

		chosen, _, _ := reflect.Select(cases)
		if chosen == len(keys) {
			return "", nil, dispatch.IOErr("connection closed while blocked")
		}
		if deadline != nil && chosen == len(keys)+1 {
			return "", nil, nil // timeout: nil key signals "no result"
		}
	}
}

func (c *Connection) cmdBlockingPop(rest []string, left bool) (resp.Value, *dispatch.Err) {
	if len(rest) < 2 {
		return resp.Value{}, dispatch.ArgErr("BLPOP")
	}
	keys := rest[:len(rest)-1]
	secs, err := strconv.ParseFloat(rest[len(rest)-1], 64)
	if err != nil || secs < 0 {
		return resp.Value{}, dispatch.SyntaxErr()
	}

	key, v, cmdErr := c.blockingPop(keys, time.Duration(secs*float64(time.Second)), left)
	if cmdErr != nil {
		return resp.Value{}, cmdErr
	}
	if key == "" {
		return resp.NullBulkString(), nil
	}
	verb := "RPOP"
	if left {
		verb = "LPOP"
	}
	c.appendAOF([]string{verb, key, "1"})
	return resp.Array(resp.BulkString(key), resp.BulkString(string(v))), nil
}

// cmdNonBlockingPop submits the blocking wait to the bounded worker pool and
// returns immediately; the eventual result is sent on the connection's
// async channel and written out as a Push frame (or on a REDIRECT target's
// async channel, if named).
func (c *Connection) cmdNonBlockingPop(rest []string) (resp.Value, *dispatch.Err) {
	if len(rest) < 2 {
		return resp.Value{}, dispatch.ArgErr("NBLPOP")
	}

	redirect := int64(0)
	args := rest
	if len(args) >= 2 && eqFold(args[len(args)-2], "REDIRECT") {
		id, err := strconv.ParseInt(args[len(args)-1], 10, 64)
		if err != nil {
			return resp.Value{}, dispatch.SyntaxErr()
		}
		redirect = id
		args = args[:len(args)-2]
	}
	if len(args) < 2 {
		return resp.Value{}, dispatch.ArgErr("NBLPOP")
	}

	keys := args[:len(args)-1]
	secs, err := strconv.ParseFloat(args[len(args)-1], 64)
	if err != nil || secs < 0 {
		return resp.Value{}, dispatch.SyntaxErr()
	}

	target := c
	if redirect != 0 {
		c.server.connMu.RLock()
		if rc, ok := c.server.connections[redirect]; ok {
			target = rc
		}
		c.server.connMu.RUnlock()
	}

	reqID := c.server.nextRequest()
	submitErr := c.server.Pool.Submit(func() {
		key, v, err := c.blockingPop(keys, time.Duration(secs*float64(time.Second)), true)
		res := asyncResult{requestID: reqID, key: key, value: v, found: key != "" && err == nil, err: err}
		select {
		case target.async <- res:
		default:
			log.Warn("dropping NBLPOP continuation: async channel full", zap.Int64("request_id", reqID))
		}
	})
	if submitErr != nil {
		return resp.Value{}, dispatch.IOErr(submitErr.Error())
	}
	return resp.BulkString(strconv.FormatInt(reqID, 10)), nil
}
