package dispatch

import "strings"

// Category groups commands for ACL allow/deny checks (security.default_ac,
// security.acl.<user> allow_category/deny_category).
type Category string

const (
	CategoryKeyspace Category = "keyspace"
	CategoryString   Category = "string"
	CategoryList     Category = "list"
	CategoryHash     Category = "hash"
	CategoryPubSub   Category = "pubsub"
	CategoryScripting Category = "scripting"
	CategoryConnection Category = "connection"
	CategoryServer   Category = "server"
)

// Command describes one entry in the dispatch table: enough metadata for
// the handler to do arity checking, ACL category checks, and decide whether
// a command mutates its keys (and therefore needs a write-lock + IntentionLock
// contention check) or may block awaiting a MayUpdate wakeup.
type Command struct {
	Name     string
	Category Category
	// Arity is the exact argument count including the command name itself;
	// a negative value means "at least -Arity" (variadic, e.g. MSET).
	Arity     int
	IsWrite   bool
	IsBlocking bool
	// FirstKey, LastKey and StepKey give the 1-based argument indices (name
	// itself is index 0) that name keys, used for shard-lock acquisition
	// ordering. A negative LastKey counts from the end: commands with a
	// variable key list (MSET, MGET, DEL) use -1 meaning "all remaining args
	// starting at FirstKey, step StepKey", and BLPOP-style commands use -2
	// to leave out the trailing timeout.
	FirstKey int
	LastKey  int
	StepKey  int
}

var table = map[string]*Command{
	"DEL":     {Name: "DEL", Category: CategoryKeyspace, Arity: -2, IsWrite: true, FirstKey: 1, LastKey: -1, StepKey: 1},
	"EXISTS":  {Name: "EXISTS", Category: CategoryKeyspace, Arity: -2, FirstKey: 1, LastKey: -1, StepKey: 1},
	"EXPIRE":  {Name: "EXPIRE", Category: CategoryKeyspace, Arity: 3, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"PERSIST": {Name: "PERSIST", Category: CategoryKeyspace, Arity: 2, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"TTL":     {Name: "TTL", Category: CategoryKeyspace, Arity: 2, FirstKey: 1, LastKey: 1, StepKey: 1},
	"TYPE":    {Name: "TYPE", Category: CategoryKeyspace, Arity: 2, FirstKey: 1, LastKey: 1, StepKey: 1},
	"KEYS":    {Name: "KEYS", Category: CategoryKeyspace, Arity: 2},
	"SCAN":    {Name: "SCAN", Category: CategoryKeyspace, Arity: -2},

	"GET":    {Name: "GET", Category: CategoryString, Arity: 2, FirstKey: 1, LastKey: 1, StepKey: 1},
	"SET":    {Name: "SET", Category: CategoryString, Arity: -3, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"INCR":   {Name: "INCR", Category: CategoryString, Arity: 2, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"DECR":   {Name: "DECR", Category: CategoryString, Arity: 2, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"APPEND": {Name: "APPEND", Category: CategoryString, Arity: 3, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"STRLEN": {Name: "STRLEN", Category: CategoryString, Arity: 2, FirstKey: 1, LastKey: 1, StepKey: 1},
	"MSET":   {Name: "MSET", Category: CategoryString, Arity: -3, IsWrite: true, FirstKey: 1, LastKey: -1, StepKey: 2},
	"MGET":   {Name: "MGET", Category: CategoryString, Arity: -2, FirstKey: 1, LastKey: -1, StepKey: 1},

	"LPUSH":  {Name: "LPUSH", Category: CategoryList, Arity: -3, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"RPUSH":  {Name: "RPUSH", Category: CategoryList, Arity: -3, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"LPOP":   {Name: "LPOP", Category: CategoryList, Arity: -2, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"RPOP":   {Name: "RPOP", Category: CategoryList, Arity: -2, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"LRANGE": {Name: "LRANGE", Category: CategoryList, Arity: 4, FirstKey: 1, LastKey: 1, StepKey: 1},
	"LLEN":   {Name: "LLEN", Category: CategoryList, Arity: 2, FirstKey: 1, LastKey: 1, StepKey: 1},
	"BLPOP":  {Name: "BLPOP", Category: CategoryList, Arity: -3, IsBlocking: true, FirstKey: 1, LastKey: -2, StepKey: 1},
	"BRPOP":  {Name: "BRPOP", Category: CategoryList, Arity: -3, IsBlocking: true, FirstKey: 1, LastKey: -2, StepKey: 1},
	"NBLPOP": {Name: "NBLPOP", Category: CategoryList, Arity: -3, IsBlocking: true, FirstKey: 1, LastKey: -2, StepKey: 1},

	"HSET":    {Name: "HSET", Category: CategoryHash, Arity: -4, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"HGET":    {Name: "HGET", Category: CategoryHash, Arity: 3, FirstKey: 1, LastKey: 1, StepKey: 1},
	"HDEL":    {Name: "HDEL", Category: CategoryHash, Arity: -3, IsWrite: true, FirstKey: 1, LastKey: 1, StepKey: 1},
	"HGETALL": {Name: "HGETALL", Category: CategoryHash, Arity: 2, FirstKey: 1, LastKey: 1, StepKey: 1},

	"SUBSCRIBE":   {Name: "SUBSCRIBE", Category: CategoryPubSub, Arity: -2},
	"UNSUBSCRIBE": {Name: "UNSUBSCRIBE", Category: CategoryPubSub, Arity: -1},
	"PSUBSCRIBE":  {Name: "PSUBSCRIBE", Category: CategoryPubSub, Arity: -2},
	"PUBLISH":     {Name: "PUBLISH", Category: CategoryPubSub, Arity: 3},

	"EVAL":           {Name: "EVAL", Category: CategoryScripting, Arity: -3, IsWrite: true},
	"EVALSHA":        {Name: "EVALSHA", Category: CategoryScripting, Arity: -3, IsWrite: true},
	"SCRIPT REGISTER": {Name: "SCRIPT REGISTER", Category: CategoryScripting, Arity: 4},
	"EVALNAME":       {Name: "EVALNAME", Category: CategoryScripting, Arity: -3, IsWrite: true},

	"AUTH":   {Name: "AUTH", Category: CategoryConnection, Arity: -2},
	"HELLO":  {Name: "HELLO", Category: CategoryConnection, Arity: -1},
	"PING":   {Name: "PING", Category: CategoryConnection, Arity: -1},
	"ECHO":   {Name: "ECHO", Category: CategoryConnection, Arity: 2},
	"CLIENT": {Name: "CLIENT", Category: CategoryConnection, Arity: -2},
	"RESET":  {Name: "RESET", Category: CategoryConnection, Arity: 1},
	"QUIT":   {Name: "QUIT", Category: CategoryConnection, Arity: 1},

	"INFO":       {Name: "INFO", Category: CategoryServer, Arity: -1},
	"DBSIZE":     {Name: "DBSIZE", Category: CategoryServer, Arity: 1},
	"FLUSHDB":    {Name: "FLUSHDB", Category: CategoryServer, Arity: 1, IsWrite: true},
	"CONFIG GET": {Name: "CONFIG GET", Category: CategoryServer, Arity: 3},
	"CONFIG SET": {Name: "CONFIG SET", Category: CategoryServer, Arity: 4},
	"SHUTDOWN":   {Name: "SHUTDOWN", Category: CategoryServer, Arity: -1},
}

// Lookup resolves the command table entry for a decoded argument vector,
// folding two-word subcommands (CONFIG GET/SET, SCRIPT REGISTER) into a
// single table key the way the teacher's command router folds verb+noun
// REST routes into one handler key.
func Lookup(args []string) (*Command, []string, bool) {
	if len(args) == 0 {
		return nil, nil, false
	}
	name := strings.ToUpper(args[0])
	if len(args) >= 2 {
		twoWord := name + " " + strings.ToUpper(args[1])
		if cmd, ok := table[twoWord]; ok {
			return cmd, args[2:], true
		}
	}
	cmd, ok := table[name]
	if !ok {
		return nil, nil, false
	}
	return cmd, args[1:], true
}

// CheckArity reports whether the supplied total argument count (including
// the command name) satisfies the command's declared arity.
func (c *Command) CheckArity(argc int) bool {
	if c.Arity >= 0 {
		return argc == c.Arity
	}
	return argc >= -c.Arity
}

// Keys extracts the key names referenced by a command invocation, given the
// arguments AFTER the command name (and after any subcommand word already
// consumed by Lookup).
func (c *Command) Keys(rest []string) []string {
	if c.FirstKey == 0 {
		return nil
	}
	first := c.FirstKey - 1 // rest is 0-indexed relative to args[1:]
	if first < 0 || first >= len(rest) {
		return nil
	}
	last := c.LastKey - 1
	if c.LastKey < 0 {
		last = len(rest) + c.LastKey
	}
	if last >= len(rest) {
		last = len(rest) - 1
	}
	step := c.StepKey
	if step <= 0 {
		step = 1
	}
	var keys []string
	for i := first; i <= last; i += step {
		keys = append(keys, rest[i])
	}
	return keys
}
