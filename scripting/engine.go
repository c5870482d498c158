// Package scripting defines the interface the core consumes to run a
// transactional script (spec.md §4.6 / §8 scenario 2) and ships a minimal
// interpreter behind it. A real Lua sandbox is explicitly out of scope
// (spec.md §1 Non-goals) and no Lua dependency exists anywhere in the
// retrieved example corpus, so the shipped Engine understands only
// sequences of `redis.call(...)` statements — just enough surface to drive
// the IntentionLock coordinator through a multi-command critical section
// without embedding a VM.
package scripting

import "github.com/emberkv/emberkv/resp"

// Caller is how a script invokes a core command; the core supplies the
// implementation (typically a handler bound to the connection's already-
// acquired IntentionLocks), the Engine never touches keyspace/txlock itself.
type Caller interface {
	Call(args []string) (resp.Value, error)
}

// Engine evaluates a script against KEYS/ARGV bindings, calling back into
// caller for every redis.call(...) statement and returning the value of the
// script's trailing return statement (or a RESP3 null if it has none).
type Engine interface {
	Eval(script string, keys []string, argv []string, caller Caller) (resp.Value, error)
}
