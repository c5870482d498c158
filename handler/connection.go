package handler

import (
	"io"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/emberkv/emberkv/acl"
	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/pubsub"
	"github.com/emberkv/emberkv/resp"
)

// Connection is one accepted socket's handler_id, ACL descriptor, and
// inbound-event channels described in §4.5: inbound carries pub/sub
// deliveries, async carries asynchronous command results (NBLPOP).
type Connection struct {
	id     int64
	server *Server
	conn   net.Conn

	dec     *resp.Decoder
	enc     *resp.Encoder // owned by the command loop
	pushEnc *resp.Encoder // owned by pushLoop
	writeMu sync.Mutex    // serializes actual net.Conn writes across enc/pushEnc

	rule          *acl.Rule
	authenticated bool
	clientName    string

	inbound chan pubsub.Message
	async   chan asyncResult

	subMu    sync.Mutex
	channels map[string]bool
	patterns map[string]bool

	closeOnce sync.Once
	closeCh   chan struct{}
}

// inboundDeliverer adapts a Connection's inbound channel to pubsub.Deliverer.
// A full channel means a slow reader, treated identically to a closed
// connection — the bus prunes it on the next publish.
type inboundDeliverer struct {
	ch chan pubsub.Message
}

func (d inboundDeliverer) Send(msg pubsub.Message) bool {
	select {
	case d.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *Server) newConnection(conn net.Conn) *Connection {
	c := &Connection{
		id:       s.nextID(),
		server:   s,
		conn:     conn,
		dec:      resp.NewDecoder(conn),
		enc:      resp.NewEncoder(conn),
		pushEnc:  resp.NewEncoder(conn),
		rule:     s.defaultACL,
		inbound:  make(chan pubsub.Message, 256),
		async:    make(chan asyncResult, 32),
		channels: make(map[string]bool),
		patterns: make(map[string]bool),
		closeCh:  make(chan struct{}),
	}
	if s.requirePass == "" {
		c.authenticated = true
	}
	return c
}

func (c *Connection) deliverer() pubsub.Deliverer { return inboundDeliverer{ch: c.inbound} }

// run is the per-connection command loop (§4.5): decode up to max_batch
// pipelined frames, execute each, flush when the batch completes or the
// next decode would block.
func (c *Connection) run() {
	c.server.register(c)
	go c.pushLoop()

	defer func() {
		c.Close()
		c.server.unregister(c)
		c.server.Bus.UnsubscribeAll(c.id)
	}()

	maxBatch := c.server.Config.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1
	}

	batch := 0
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		args, err := c.dec.Next()
		if err != nil {
			if err != io.EOF {
				log.Debug("connection read error", zap.Int64("handler_id", c.id), zap.Error(err))
			}
			return
		}
		if len(args) == 0 {
			continue
		}

		reply := c.handleRequest(args)
		c.enc.Encode(reply)
		batch++

		if batch >= maxBatch || c.dec.Buffered() == 0 {
			c.writeMu.Lock()
			flushErr := c.enc.Flush()
			c.writeMu.Unlock()
			batch = 0
			if flushErr != nil {
				return
			}
		}

		if shouldQuit(args) {
			return
		}
	}
}

func shouldQuit(args []string) bool {
	return len(args) == 1 && (eqFold(args[0], "QUIT") || eqFold(args[0], "SHUTDOWN"))
}

func eqFold(s, t string) bool {
	if len(s) != len(t) {
		return false
	}
	for i := range s {
		a, b := s[i], t[i]
		if 'a' <= a && a <= 'z' {
			a -= 'a' - 'A'
		}
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

// pushLoop delivers asynchronous frames (pub/sub messages, Track
// invalidations, NBLPOP continuations) that arrive outside the normal
// request/response cycle.
func (c *Connection) pushLoop() {
	for {
		select {
		case msg, ok := <-c.inbound:
			if !ok {
				return
			}
			c.writeMu.Lock()
			c.pushEnc.Encode(pushFrame(msg))
			c.pushEnc.Flush()
			c.writeMu.Unlock()
		case res, ok := <-c.async:
			if !ok {
				return
			}
			c.writeMu.Lock()
			c.pushEnc.Encode(asyncResultFrame(res))
			c.pushEnc.Flush()
			c.writeMu.Unlock()
		case <-c.closeCh:
			return
		}
	}
}

// asyncResult is the eventual outcome of a non-blocking command continuation
// (NBLPOP), tagged by the request id returned to the caller at submit time.
type asyncResult struct {
	requestID int64
	key       string
	value     []byte
	found     bool
	err       *dispatch.Err
}

func asyncResultFrame(res asyncResult) resp.Value {
	tag := resp.BulkString(strconv.FormatInt(res.requestID, 10))
	switch {
	case res.err != nil:
		return resp.Push(resp.BulkString("nblpop"), tag, resp.Error(res.err.Error()))
	case !res.found:
		return resp.Push(resp.BulkString("nblpop"), tag, resp.NullBulkString())
	default:
		return resp.Push(resp.BulkString("nblpop"), tag, resp.Array(resp.BulkString(res.key), resp.BulkString(string(res.value))))
	}
}

func pushFrame(msg pubsub.Message) resp.Value {
	if msg.Channel == invalidateChannel {
		return resp.Push(resp.BulkString("invalidate"), resp.Array(resp.BulkString(string(msg.Payload))))
	}
	if msg.Pattern != "" {
		return resp.Push(resp.BulkString("pmessage"), resp.BulkString(msg.Pattern), resp.BulkString(msg.Channel), resp.BulkString(string(msg.Payload)))
	}
	return resp.Push(resp.BulkString("message"), resp.BulkString(msg.Channel), resp.BulkString(string(msg.Payload)))
}

const invalidateChannel = "__invalidate__"

func (c *Connection) pushInvalidation(key string) {
	c.deliverer().Send(pubsub.Message{Channel: invalidateChannel, Payload: []byte(key)})
}

// Close tears down the connection's cancellation signal exactly once;
// everything downstream (waiter removal, subscription teardown) reacts to
// closeCh or to the socket closing underneath it.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()
	})
}
