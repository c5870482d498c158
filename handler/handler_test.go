package handler

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/emberkv/emberkv/config"
	"github.com/emberkv/emberkv/dispatch"
	"github.com/emberkv/emberkv/keyspace"
	"github.com/emberkv/emberkv/pubsub"
	"github.com/emberkv/emberkv/resp"
	"github.com/emberkv/emberkv/scripting"
	"github.com/emberkv/emberkv/txlock"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.MaxBatch = 1
	ks := keyspace.New(4)
	pool, err := dispatch.NewPool(4)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return NewServer(cfg, ks, txlock.New(ks), pubsub.New(), nil, nil, scripting.NewInterpreter(), nil, nil, pool)
}

// pipeClient wires a net.Pipe connection into the server's command loop and
// hands back an encoder for requests plus a raw reply reader: resp.Decoder
// only understands request frames (arrays of bulk strings), so replies —
// which use the full RESP3 type set — are read back with the minimal
// reader below instead.
func pipeClient(t *testing.T, s *Server) (*resp.Encoder, *bufio.Reader) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	c := s.newConnection(serverConn)
	go c.run()
	t.Cleanup(func() { clientConn.Close() })
	return resp.NewEncoder(clientConn), bufio.NewReader(clientConn)
}

func sendCommand(t *testing.T, enc *resp.Encoder, r *bufio.Reader, args ...string) resp.Value {
	t.Helper()
	items := make([]resp.Value, len(args))
	for i, a := range args {
		items[i] = resp.BulkString(a)
	}
	enc.Encode(resp.Array(items...))
	if err := enc.Flush(); err != nil {
		t.Fatalf("flush request: %v", err)
	}
	v, err := readReply(r)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return v
}

// readReply parses one RESP3 value, covering the subset of the type set
// these tests assert on (simple string, error, integer, bulk string, null,
// array, push).
func readReply(r *bufio.Reader) (resp.Value, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return resp.Value{}, err
	}
	line = line[:len(line)-2] // trim CRLF

	switch resp.Type(line[0]) {
	case resp.TypeSimpleString:
		return resp.SimpleString(line[1:]), nil
	case resp.TypeError:
		return resp.Error(line[1:]), nil
	case resp.TypeInteger:
		n, err := strconv.ParseInt(line[1:], 10, 64)
		return resp.Integer(n), err
	case resp.TypeNull:
		return resp.Null(), nil
	case resp.TypeBulkString:
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return resp.Value{}, err
		}
		if n < 0 {
			return resp.Null(), nil
		}
		buf := make([]byte, n+2)
		if _, err := readFull(r, buf); err != nil {
			return resp.Value{}, err
		}
		return resp.BulkString(string(buf[:n])), nil
	case resp.TypeArray, resp.TypePush:
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return resp.Value{}, err
		}
		items := make([]resp.Value, n)
		for i := 0; i < n; i++ {
			v, err := readReply(r)
			if err != nil {
				return resp.Value{}, err
			}
			items[i] = v
		}
		return resp.Value{Type: resp.Type(line[0]), Array: items}, nil
	default:
		return resp.Value{}, fmt.Errorf("unsupported reply type %q", line[0])
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newTestServer(t)
	enc, br := pipeClient(t, s)

	if v := sendCommand(t, enc, br, "SET", "foo", "bar"); v.Type != resp.TypeSimpleString || v.Str != "OK" {
		t.Fatalf("unexpected SET reply: %+v", v)
	}
	v := sendCommand(t, enc, br, "GET", "foo")
	if v.Type != resp.TypeBulkString || v.Str != "bar" {
		t.Fatalf("unexpected GET reply: %+v", v)
	}
}

func TestIncrCreatesAndIncrements(t *testing.T) {
	s := newTestServer(t)
	enc, br := pipeClient(t, s)

	v := sendCommand(t, enc, br, "INCR", "counter")
	if v.Type != resp.TypeInteger || v.Int != 1 {
		t.Fatalf("unexpected first INCR reply: %+v", v)
	}
	v = sendCommand(t, enc, br, "INCR", "counter")
	if v.Type != resp.TypeInteger || v.Int != 2 {
		t.Fatalf("unexpected second INCR reply: %+v", v)
	}
}

func TestUnknownCommandIsArgError(t *testing.T) {
	s := newTestServer(t)
	enc, br := pipeClient(t, s)

	v := sendCommand(t, enc, br, "NOTACOMMAND")
	if v.Type != resp.TypeError {
		t.Fatalf("expected error reply, got %+v", v)
	}
}

func TestACLDenyCommandRejectsExecution(t *testing.T) {
	cfg := config.Default()
	cfg.DefaultACL.DenyCommands = []string{"SET"}
	ks := keyspace.New(4)
	pool, err := dispatch.NewPool(4)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	s := NewServer(cfg, ks, txlock.New(ks), pubsub.New(), nil, nil, scripting.NewInterpreter(), nil, nil, pool)
	enc, br := pipeClient(t, s)

	v := sendCommand(t, enc, br, "SET", "foo", "bar")
	if v.Type != resp.TypeError {
		t.Fatalf("expected SET to be denied, got %+v", v)
	}
}

func TestListPushPopOrdering(t *testing.T) {
	s := newTestServer(t)
	enc, br := pipeClient(t, s)

	sendCommand(t, enc, br, "RPUSH", "queue", "a", "b", "c")
	v := sendCommand(t, enc, br, "LPOP", "queue")
	if v.Type != resp.TypeBulkString || v.Str != "a" {
		t.Fatalf("unexpected LPOP reply: %+v", v)
	}
}

func TestBlockingPopWakesOnPush(t *testing.T) {
	s := newTestServer(t)
	enc, br := pipeClient(t, s)

	done := make(chan resp.Value, 1)
	go func() {
		done <- sendCommand(t, enc, br, "BLPOP", "jobs", "1")
	}()

	time.Sleep(20 * time.Millisecond)
	enc2, br2 := pipeClient(t, s)
	sendCommand(t, enc2, br2, "RPUSH", "jobs", "work-item")

	select {
	case v := <-done:
		if v.Type != resp.TypeArray || len(v.Array) != 2 || v.Array[1].Str != "work-item" {
			t.Fatalf("unexpected BLPOP reply: %+v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("BLPOP did not wake on RPUSH")
	}
}
