package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emberkv/emberkv/keyspace"
)

func TestWriteAndReadRDBRoundTrip(t *testing.T) {
	ks := keyspace.New(4)
	ks.Insert("str-key", keyspace.ObjectValue{Kind: keyspace.KindString, Str: keyspace.NewStringValue([]byte("hello"))}, 0, 5)

	list := keyspace.NewListValue()
	list.PushRight([]byte("a"))
	list.PushRight([]byte("b"))
	ks.Insert("list-key", keyspace.ObjectValue{Kind: keyspace.KindList, List: list}, 0, 2)

	hash := keyspace.NewHashValue()
	hash.Set("f1", []byte("v1"))
	ks.Insert("hash-key", keyspace.ObjectValue{Kind: keyspace.KindHash, Hash: hash}, 0, 2)

	dir := t.TempDir()
	path := filepath.Join(dir, "dump.rdb")
	if err := WriteRDB(ks, path, 1, true); err != nil {
		t.Fatalf("unexpected error writing RDB: %v", err)
	}

	seen := map[string]bool{}
	err := ReadRDB(path, func(kind keyspace.Kind, key string, value []byte, fields map[string][]byte, list [][]byte) {
		seen[key] = true
		switch key {
		case "str-key":
			if string(value) != "hello" {
				t.Errorf("expected hello, got %q", value)
			}
		case "hash-key":
			if string(fields["f1"]) != "v1" {
				t.Errorf("expected v1, got %q", fields["f1"])
			}
		case "list-key":
			if len(list) != 2 || string(list[0]) != "a" {
				t.Errorf("expected [a b], got %v", list)
			}
		}
	})
	if err != nil {
		t.Fatalf("unexpected error reading RDB: %v", err)
	}
	for _, k := range []string{"str-key", "list-key", "hash-key"} {
		if !seen[k] {
			t.Fatalf("expected to see key %q in snapshot", k)
		}
	}
}

func TestWriteRDBSkipsExpiredKeys(t *testing.T) {
	ks := keyspace.New(1)
	past := time.Now().Add(-time.Hour).UnixMilli()
	ks.Insert("expired", keyspace.ObjectValue{Kind: keyspace.KindString, Str: keyspace.NewStringValue([]byte("x"))}, past, 1)

	dir := t.TempDir()
	path := filepath.Join(dir, "dump.rdb")
	if err := WriteRDB(ks, path, 1, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	ReadRDB(path, func(kind keyspace.Kind, key string, value []byte, fields map[string][]byte, list [][]byte) {
		if key == "expired" {
			found = true
		}
	})
	if found {
		t.Fatal("expired key should not appear in snapshot")
	}
}

func TestSinkAppendsCommandFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emberkv.aof")

	sink, err := NewSink(path, FsyncAlways, 16)
	if err != nil {
		t.Fatalf("unexpected error creating sink: %v", err)
	}
	if err := sink.Start(); err != nil {
		t.Fatalf("unexpected error starting sink: %v", err)
	}

	done := make(chan error, 1)
	if err := sink.Enqueue(&AofRecord{Args: []string{"SET", "k", "v"}, Done: done}); err != nil {
		t.Fatalf("unexpected error enqueuing: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected append error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for append")
	}

	if err := sink.Stop(); err != nil {
		t.Fatalf("unexpected error stopping sink: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error reading aof file: %v", err)
	}
	want := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"
	if string(data) != want {
		t.Fatalf("expected %q, got %q", want, string(data))
	}
}

func TestSinkStatsTracksQueuedAndWritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emberkv.aof")
	sink, _ := NewSink(path, FsyncNo, 16)
	sink.Start()
	defer sink.Stop()

	done := make(chan error, 1)
	sink.Enqueue(&AofRecord{Args: []string{"PING"}, Done: done})
	<-done

	stats := sink.Stats()
	if stats["written"] != 1 {
		t.Fatalf("expected 1 written record, got %d", stats["written"])
	}
}
