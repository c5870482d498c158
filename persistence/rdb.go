package persistence

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/emberkv/emberkv/keyspace"
)

// rdbMagic is the fixed header every snapshot starts with, followed by a
// single version byte — same "magic + version" shape as the teacher's WAL
// header convention, sized down to what a flat KV snapshot needs (no
// per-database sectioning beyond the single keyspace this store has).
const rdbMagic = "RUTIN"

// entryType mirrors keyspace.Kind 1:1 so the on-disk tag never has to be
// translated through a second enum.
type entryType = keyspace.Kind

// WriteRDB serialises every live key in ks to path as
// magic + version [+ per-entry records] [+ CRC32 trailer], atomically via
// write-to-temp-then-rename so a crash mid-write never corrupts the
// previous snapshot — the same rename-to-replace idiom the teacher's
// transaction manager uses for checkpoint commits.
func WriteRDB(ks *keyspace.KeySpace, path string, version byte, withChecksum bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rdb-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	w := bufio.NewWriter(tmp)
	var crc uint32
	writeChecked := func(b []byte) error {
		if withChecksum {
			crc = crc32.Update(crc, crc32.IEEETable, b)
		}
		_, err := w.Write(b)
		return err
	}

	if err := writeChecked([]byte(rdbMagic)); err != nil {
		return closeAndReturn(tmp, err)
	}
	if err := writeChecked([]byte{version}); err != nil {
		return closeAndReturn(tmp, err)
	}

	var iterErr error
	ks.ForEach(func(key string, e *keyspace.Entry) {
		if iterErr != nil {
			return
		}
		iterErr = writeEntryRecord(writeChecked, key, e)
	})
	if iterErr != nil {
		return closeAndReturn(tmp, iterErr)
	}

	if withChecksum {
		var sum [4]byte
		binary.BigEndian.PutUint32(sum[:], crc)
		if _, err := w.Write(sum[:]); err != nil {
			return closeAndReturn(tmp, err)
		}
	}

	if err := w.Flush(); err != nil {
		return closeAndReturn(tmp, err)
	}
	if err := tmp.Sync(); err != nil {
		return closeAndReturn(tmp, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func closeAndReturn(f *os.File, err error) error {
	f.Close()
	return err
}

// writeEntryRecord encodes one live entry as <type:1><key_len:4><key><value>.
// Value encoding is type-specific: strings are length-prefixed bytes, lists/
// sets/hashes are a count followed by that many length-prefixed members (and
// for hashes, field/value pairs).
func writeEntryRecord(write func([]byte) error, key string, e *keyspace.Entry) error {
	if err := write([]byte{byte(e.Value.Kind)}); err != nil {
		return err
	}
	if err := writeLenPrefixed(write, []byte(key)); err != nil {
		return err
	}

	switch e.Value.Kind {
	case keyspace.KindString:
		return writeLenPrefixed(write, e.Value.Str.Bytes)
	case keyspace.KindList:
		items := e.Value.List.Range(0, e.Value.List.Len()-1)
		if err := writeCount(write, len(items)); err != nil {
			return err
		}
		for _, it := range items {
			if err := writeLenPrefixed(write, it); err != nil {
				return err
			}
		}
		return nil
	case keyspace.KindHash:
		fields := e.Value.Hash.All()
		if err := writeCount(write, len(fields)); err != nil {
			return err
		}
		for field, v := range fields {
			if err := writeLenPrefixed(write, []byte(field)); err != nil {
				return err
			}
			if err := writeLenPrefixed(write, v); err != nil {
				return err
			}
		}
		return nil
	default:
		// Sets/sorted sets/channel subscriptions: not part of the persisted
		// snapshot surface spec.md §6 names; skip the value body but the
		// type+key header above is still written so a reader can detect and
		// skip an entry it doesn't decode a value for (none currently reach
		// this branch from ForEach since those kinds aren't populated by
		// any command on the write path yet).
		return writeCount(write, 0)
	}
}

func writeLenPrefixed(write func([]byte) error, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if err := write(lenBuf[:]); err != nil {
		return err
	}
	return write(b)
}

func writeCount(write func([]byte) error, n int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	return write(buf[:])
}

// ReadRDB parses a snapshot written by WriteRDB and invokes onEntry for each
// record, in file order. The checksum trailer, if present, is not validated
// here against a user-supplied withChecksum flag — callers decide whether to
// trust rdb.enable_checksum; the reader stops after the last record either
// way, skipping a 4-byte trailer if one is there.
func ReadRDB(path string, onEntry func(kind keyspace.Kind, key string, value []byte, fields map[string][]byte, list [][]byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(rdbMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	if string(magic) != rdbMagic {
		return fmt.Errorf("persistence: bad RDB magic %q", magic)
	}
	if _, err := r.ReadByte(); err != nil { // version, currently unchecked
		return err
	}

	for {
		// Every record is at least 9 bytes (type, key length, value length
		// or count), so 0 or 4 bytes left mean the records have ended, the 4
		// being the CRC32 trailer.
		if head, err := r.Peek(9); len(head) < 9 {
			if err == io.EOF && (len(head) == 0 || len(head) == 4) {
				return nil
			}
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		kindByte, err := r.ReadByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		kind := entryType(kindByte)

		key, err := readLenPrefixed(r)
		if err != nil {
			return err
		}

		switch kind {
		case keyspace.KindString:
			val, err := readLenPrefixed(r)
			if err != nil {
				return err
			}
			onEntry(kind, string(key), val, nil, nil)
		case keyspace.KindList:
			n, err := readCount(r)
			if err != nil {
				return err
			}
			items := make([][]byte, 0, n)
			for i := 0; i < n; i++ {
				item, err := readLenPrefixed(r)
				if err != nil {
					return err
				}
				items = append(items, item)
			}
			onEntry(kind, string(key), nil, nil, items)
		case keyspace.KindHash:
			n, err := readCount(r)
			if err != nil {
				return err
			}
			fields := make(map[string][]byte, n)
			for i := 0; i < n; i++ {
				field, err := readLenPrefixed(r)
				if err != nil {
					return err
				}
				val, err := readLenPrefixed(r)
				if err != nil {
					return err
				}
				fields[string(field)] = val
			}
			onEntry(kind, string(key), nil, fields, nil)
		default:
			if _, err := readCount(r); err != nil {
				return err
			}
		}
	}
}

func readLenPrefixed(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readCount(r *bufio.Reader) (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(buf[:])), nil
}
