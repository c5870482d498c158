// Package persistence implements the AOF append log and RDB snapshot
// writer the core hands committed writes to. Append framing follows the
// teacher's WAL (length-prefixed records with a trailing durability sync);
// the consumer side follows the teacher's single-writer queue (one
// goroutine drains the channel, everyone else enqueues and moves on).
package persistence

import (
	"time"
)

// AofRecord is one applied write, queued for durable append. Fields mirror
// the RESP command frame that produced it so replay is just re-decoding and
// re-dispatching the argument vector against an empty store.
type AofRecord struct {
	Args      []string
	Timestamp time.Time
	Done      chan error // optional; nil unless the caller wants fsync confirmation
}
