// Package handler ties every other package together into the per-connection
// command loop described in the design notes: decode a frame, check ACL,
// lock each target key's shard in turn, one at a time (waiting on the IntentionLock
// coordinator if a script currently owns the key), execute, fire events,
// emit an AOF record, encode the response. Grounded on the teacher's
// authenticate-authorize-execute-audit request lifecycle
// (api/rbac_middleware.go, api/security_middleware.go), collapsed from an
// HTTP middleware chain into a single per-frame loop since RESP has no
// middleware concept.
package handler

import (
	"crypto/sha1"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emberkv/emberkv/acl"
	"github.com/emberkv/emberkv/config"
	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/eviction"
	"github.com/emberkv/emberkv/expire"
	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/logger"
	"github.com/emberkv/emberkv/metrics"
	"github.com/emberkv/emberkv/persistence"
	"github.com/emberkv/emberkv/pubsub"
	"github.com/emberkv/emberkv/scripting"
	"github.com/emberkv/emberkv/txlock"
)

var log = logger.For("handler")

// Server owns every shared dependency a Connection needs and the registry of
// live connections (for Track invalidation delivery and CLIENT introspection).
type Server struct {
	Config *config.Config

	KeySpace    *keyspace.KeySpace
	TxCoord     *txlock.Coordinator
	Bus         *pubsub.Bus
	AOF         *persistence.Sink // nil when AOF is disabled
	Metrics     metrics.Sink
	Scripting   scripting.Engine
	Eviction    *eviction.Engine
	ExpireIndex *expire.Index
	Pool        *dispatch.Pool

	// ConfigMgr persists CONFIG SET overrides across restarts (sqlite tier);
	// nil means overrides only ever live in the in-process Config struct.
	ConfigMgr *config.Manager

	defaultACL *acl.Rule
	users      map[string]*acl.Rule
	requirePass string

	nextHandlerID int64
	nextRequestID int64

	connMu      sync.RWMutex
	connections map[int64]*Connection

	scriptsMu    sync.RWMutex
	scripts      map[string]string // sha1hex -> script body, populated by EVAL
	namedScripts map[string]string // name -> script body, populated by SCRIPT REGISTER

	startedAt time.Time

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewServer wires cfg's ACL section into acl.Rule values and returns a
// Server ready to accept connections via Serve.
func NewServer(cfg *config.Config, ks *keyspace.KeySpace, coord *txlock.Coordinator, bus *pubsub.Bus, aof *persistence.Sink, met metrics.Sink, eng scripting.Engine, evic *eviction.Engine, expIdx *expire.Index, pool *dispatch.Pool) *Server {
	if met == nil {
		met = metrics.Noop
	}

	users := make(map[string]*acl.Rule, len(cfg.ACLUsers))
	for name, rule := range cfg.ACLUsers {
		users[name] = acl.FromConfigRule(name, rule)
	}

	return &Server{
		Config:      cfg,
		KeySpace:    ks,
		TxCoord:     coord,
		Bus:         bus,
		AOF:         aof,
		Metrics:     met,
		Scripting:   eng,
		Eviction:    evic,
		ExpireIndex: expIdx,
		Pool:        pool,

		defaultACL:  acl.FromConfigRule("default", cfg.DefaultACL),
		users:       users,
		requirePass: cfg.RequirePass,

		connections:  make(map[int64]*Connection),
		scripts:      make(map[string]string),
		namedScripts: make(map[string]string),

		startedAt:  time.Now(),
		shutdownCh: make(chan struct{}),
	}
}

// Serve accepts connections from ln until the listener closes or Shutdown
// is called, spawning one Connection per accepted socket.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				return nil
			default:
				return err
			}
		}
		c := s.newConnection(conn)
		go c.run()
	}
}

// Shutdown signals every connection to stop and marks the server as shutting
// down, so Serve returns nil once its listener is closed. It does not close
// the net.Listener itself; callers close it to end Serve's accept loop.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		s.connMu.RLock()
		conns := make([]*Connection, 0, len(s.connections))
		for _, c := range s.connections {
			conns = append(conns, c)
		}
		s.connMu.RUnlock()
		for _, c := range conns {
			c.Close()
		}
	})
}

func (s *Server) register(c *Connection) {
	s.connMu.Lock()
	s.connections[c.id] = c
	s.connMu.Unlock()
	s.Metrics.SetConnectedClients(s.connectedClients())
}

func (s *Server) unregister(c *Connection) {
	s.connMu.Lock()
	delete(s.connections, c.id)
	s.connMu.Unlock()
	s.Metrics.SetConnectedClients(s.connectedClients())
}

func (s *Server) connectedClients() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.connections)
}

// deliverInvalidation pushes a Track invalidation frame for key to every
// live connection named in ids; ids naming a connection that already closed
// are silently skipped.
func (s *Server) deliverInvalidation(key string, ids []int64) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	for _, id := range ids {
		if c, ok := s.connections[id]; ok {
			c.pushInvalidation(key)
		}
	}
}

func (s *Server) aclFor(user string) (*acl.Rule, bool) {
	r, ok := s.users[user]
	return r, ok
}

// registerScript stores script under its sha1 hex digest (the EVAL/EVALSHA
// cache-by-hash convention) and returns the digest.
func (s *Server) registerScript(script string) string {
	sum := sha1.Sum([]byte(script))
	sha := hex.EncodeToString(sum[:])
	s.scriptsMu.Lock()
	s.scripts[sha] = script
	s.scriptsMu.Unlock()
	return sha
}

func (s *Server) scriptBySHA(sha string) (string, bool) {
	s.scriptsMu.RLock()
	defer s.scriptsMu.RUnlock()
	script, ok := s.scripts[sha]
	return script, ok
}

func (s *Server) registerNamedScript(name, script string) {
	s.scriptsMu.Lock()
	s.namedScripts[name] = script
	s.scriptsMu.Unlock()
}

func (s *Server) scriptByName(name string) (string, bool) {
	s.scriptsMu.RLock()
	defer s.scriptsMu.RUnlock()
	script, ok := s.namedScripts[name]
	return script, ok
}

// Info implements adminapi.InfoProvider: a JSON-friendly mirror of what the
// RESP INFO command reports.
func (s *Server) Info() map[string]interface{} {
	info := map[string]interface{}{
		"dbsize":            s.KeySpace.DBSize(),
		"used_memory":       s.KeySpace.UsedMemory(),
		"connected_clients": s.connectedClients(),
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
	}
	if s.Eviction != nil {
		info["maxmemory"] = s.Eviction.MaxMemory()
		info["maxmemory_policy"] = string(s.Eviction.PolicyValue())
	}
	return info
}

func (s *Server) nextID() int64 {
	return atomic.AddInt64(&s.nextHandlerID, 1)
}

func (s *Server) nextRequest() int64 {
	return atomic.AddInt64(&s.nextRequestID, 1)
}
