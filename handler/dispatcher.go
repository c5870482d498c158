package handler

import (
	"time"

	"go.uber.org/zap"

	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/eventhub"
	"github.com/emberkv/emberkv/eviction"
	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/persistence"
	"github.com/emberkv/emberkv/resp"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// handleRequest runs one decoded frame through ACL, arity, and execution,
// returning the RESP3 value to encode back to the client. It never panics
// on a malformed or disallowed command — every failure path is a RESP3
// error reply.
func (c *Connection) handleRequest(args []string) resp.Value {
	cmd, rest, ok := dispatch.Lookup(args)
	if !ok {
		return errValue(dispatch.ArgErr(args[0]))
	}
	if !cmd.CheckArity(len(args)) {
		return errValue(dispatch.ArgErr(cmd.Name))
	}

	if !c.authenticated && !isPreAuthCommand(cmd) {
		return errValue(dispatch.NoAuth())
	}

	if err := c.rule.CheckCommand(cmd); err != nil {
		return errValue(err)
	}

	keys := cmd.Keys(rest)
	for _, k := range keys {
		if err := c.rule.CheckKey(k, cmd.IsWrite); err != nil {
			return errValue(err)
		}
	}

	start := time.Now()
	val, cmdErr := c.execute(cmd, rest, keys)
	c.server.Metrics.ObserveCommandLatency(cmd.Name, time.Since(start).Seconds())

	if cmdErr != nil {
		return errValue(cmdErr)
	}
	return val
}

// isPreAuthCommand reports whether cmd may run before AUTH succeeds.
func isPreAuthCommand(cmd *dispatch.Command) bool {
	switch cmd.Name {
	case "AUTH", "HELLO", "PING", "QUIT", "RESET":
		return true
	default:
		return false
	}
}

func errValue(err *dispatch.Err) resp.Value {
	return resp.Error(err.Error())
}

// execute resolves cmd to its implementation. Category dispatch mirrors the
// table in dispatch.Command; within a category, commands are looked up by
// name.
func (c *Connection) execute(cmd *dispatch.Command, rest []string, keys []string) (resp.Value, *dispatch.Err) {
	switch cmd.Category {
	case dispatch.CategoryKeyspace:
		return c.execKeyspace(cmd, rest)
	case dispatch.CategoryString:
		return c.execString(cmd, rest)
	case dispatch.CategoryList:
		return c.execList(cmd, rest)
	case dispatch.CategoryHash:
		return c.execHash(cmd, rest)
	case dispatch.CategoryPubSub:
		return c.execPubSub(cmd, rest)
	case dispatch.CategoryScripting:
		return c.execScripting(cmd, rest)
	case dispatch.CategoryConnection:
		return c.execConnection(cmd, rest)
	case dispatch.CategoryServer:
		return c.execServer(cmd, rest)
	default:
		return resp.Value{}, dispatch.ArgErr(cmd.Name)
	}
}

// awaitWriteTurn is the single-key contention check at step 3 of the command
// loop (§4.5): if key is currently claimed by a script's IntentionLock
// targeting a different handler, park until the coordinator hands it off.
func (c *Connection) awaitWriteTurn(key string) *dispatch.Err {
	for {
		wait, contended := c.server.TxCoord.AwaitTurn(c.id, key)
		if !contended {
			return nil
		}
		select {
		case <-wait:
			continue
		case <-c.closeCh:
			c.server.TxCoord.CancelWaiter(c.id, key)
			return dispatch.IOErr("connection closed while waiting for key")
		}
	}
}

// isLockTarget reports whether c is the IntentionLock's current target for
// key. AwaitTurn only blocks a plain writer until the lock points at it; it
// never clears the lock itself (that is Commit's job, normally called by the
// script that owns it). A plain writer that finds itself the current target
// is the last handler to touch the key for this round, and since it has no
// script-side deferred Commit to rely on, it must finalize the handoff
// itself — otherwise the lock is never cleared and every future writer
// queues behind it forever.
func (c *Connection) isLockTarget(key string) bool {
	g := c.server.KeySpace.GetWrite(key)
	defer g.Release()
	e := g.Entry()
	if e == nil || e.Events == nil {
		return false
	}
	target, has := e.Events.TargetHandler()
	return has && target == c.id
}

// finalizeLock calls Commit for key if wasTarget — the same handoff-or-clear
// step runScript's deferred Commit performs for a script, applied by a plain
// writer that discovered it was itself the post-handoff target.
func (c *Connection) finalizeLock(key string, wasTarget bool) {
	if wasTarget {
		c.server.TxCoord.Commit([]string{key})
	}
}

// mutateKey acquires key's write guard (after any IntentionLock contention
// clears), runs fn, releases the guard, then fires MayUpdate/Track outside
// the lock and delivers invalidations — the shard lock never crosses fn's
// return into event delivery.
func (c *Connection) mutateKey(key string, fn func(g *keyspace.WriteGuard) (resp.Value, *dispatch.Err)) (resp.Value, *dispatch.Err) {
	if err := c.awaitWriteTurn(key); err != nil {
		return resp.Value{}, err
	}

	g := c.server.KeySpace.GetWrite(key)
	val, cmdErr := fn(g)

	var hub *eventhub.Hub
	var wasTarget bool
	if e := g.Entry(); e != nil {
		hub = e.Events
		if hub != nil {
			if target, has := hub.TargetHandler(); has && target == c.id {
				wasTarget = true
			}
		}
	}
	g.Release()

	c.finalizeLock(key, wasTarget)

	if cmdErr == nil && hub != nil {
		hub.FireMayUpdate()
		if ids := hub.FireTrack(); len(ids) > 0 {
			c.server.deliverInvalidation(key, ids)
		}
	}
	return val, cmdErr
}

// appendAOF enqueues a record for a successfully applied writer command and
// does not block the caller on the result (fire-and-forget from the
// connection's point of view; IO failures are logged by the sink itself).
func (c *Connection) appendAOF(args []string) {
	if c.server.AOF == nil {
		return
	}
	rec := &persistence.AofRecord{Args: args, Timestamp: time.Now()}
	if err := c.server.AOF.Enqueue(rec); err != nil {
		log.Warn("aof enqueue failed", zap.Error(err))
	}
}

// reserveFor runs the write-path memory admission check (§4.4) before a
// command admits roughly size bytes of new data; a nil Eviction engine
// (maxmemory=0 / disabled) always admits.
func (c *Connection) reserveFor(size int64) *dispatch.Err {
	if c.server.Eviction == nil {
		return nil
	}
	if err := c.server.Eviction.Reserve(size); err != nil {
		if err == eviction.ErrOOM {
			return dispatch.OOM()
		}
		return dispatch.IOErr(err.Error())
	}
	return nil
}

// fireMutation fires MayUpdate/Track for key's hub (if one exists) after a
// write performed via keyspace.Insert, which does not fire events itself.
func (c *Connection) fireMutation(key string) {
	g := c.server.KeySpace.GetRead(key)
	if g == nil {
		return
	}
	hub := g.Entry().Events
	g.Release()
	if hub == nil {
		return
	}
	hub.FireMayUpdate()
	if ids := hub.FireTrack(); len(ids) > 0 {
		c.server.deliverInvalidation(key, ids)
	}
}
