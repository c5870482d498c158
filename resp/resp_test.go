package resp

import (
	"bytes"
	"testing"
)

func TestDecodeNextParsesArrayOfBulkStrings(t *testing.T) {
	raw := "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"
	d := NewDecoder(bytes.NewBufferString(raw))

	args, err := d.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) != 2 || args[0] != "GET" || args[1] != "foo" {
		t.Fatalf("expected [GET foo], got %v", args)
	}
}

func TestDecodeNextHandlesPipelinedFrames(t *testing.T) {
	raw := "*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n"
	d := NewDecoder(bytes.NewBufferString(raw))

	for i := 0; i < 2; i++ {
		args, err := d.Next()
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if len(args) != 1 || args[0] != "PING" {
			t.Fatalf("frame %d: expected [PING], got %v", i, args)
		}
	}
}

func TestEncodeSimpleString(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Encode(SimpleString("OK"))
	e.Flush()

	if buf.String() != "+OK\r\n" {
		t.Fatalf("expected +OK\\r\\n, got %q", buf.String())
	}
}

func TestEncodeBulkStringAndNull(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Encode(BulkString("hi"))
	e.Encode(Null())
	e.Flush()

	want := "$2\r\nhi\r\n_\r\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}
}

func TestEncodeArrayAndMap(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Encode(Array(Integer(1), Integer(2)))
	e.Encode(Map(BulkString("k"), BulkString("v")))
	e.Flush()

	want := "*2\r\n:1\r\n:2\r\n%1\r\n$1\r\nk\r\n$1\r\nv\r\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}
}

func TestEncodeErrorAndBoolean(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Encode(Error("WRONGTYPE operation against wrong kind"))
	e.Encode(Boolean(true))
	e.Flush()

	want := "-WRONGTYPE operation against wrong kind\r\n#t\r\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}
}

func TestRoundTripPushFrame(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.Encode(Push(BulkString("invalidate"), BulkString("mykey")))
	e.Flush()

	want := ">2\r\n$10\r\ninvalidate\r\n$5\r\nmykey\r\n"
	if buf.String() != want {
		t.Fatalf("expected %q, got %q", want, buf.String())
	}
}
