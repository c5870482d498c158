package persistence

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/emberkv/emberkv/logger"
	"github.com/emberkv/emberkv/resp"
)

var log = logger.For("persistence")

// FsyncPolicy mirrors aof.append_fsync.
type FsyncPolicy string

const (
	FsyncAlways   FsyncPolicy = "always"
	FsyncEverySec FsyncPolicy = "everysec"
	FsyncNo       FsyncPolicy = "no"
)

// Sink is the single-consumer AOF append queue: every applied write is
// enqueued by its connection's goroutine and drained by exactly one
// goroutine, the same single-writer-per-resource discipline the teacher's
// SingleWriterQueue applies to its entity repository, just serializing RESP
// frames to an append-only file instead of entity records to the EBF file.
type Sink struct {
	path   string
	fsync  FsyncPolicy
	queue  chan *AofRecord
	stopCh chan struct{}
	wg     sync.WaitGroup

	file *os.File
	w    *bufio.Writer

	running int32
	queued  int64
	written int64
}

// NewSink opens (creating if absent) the AOF file at path for appending and
// returns a Sink ready to Start.
func NewSink(path string, fsync FsyncPolicy, queueSize int) (*Sink, error) {
	if queueSize <= 0 {
		queueSize = 4096
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Sink{
		path:   path,
		fsync:  fsync,
		queue:  make(chan *AofRecord, queueSize),
		stopCh: make(chan struct{}),
		file:   f,
		w:      bufio.NewWriterSize(f, 64*1024),
	}, nil
}

// Start launches the drain goroutine. Safe to call once.
func (s *Sink) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return fmt.Errorf("persistence: sink already running")
	}
	s.wg.Add(1)
	go s.drain()
	if s.fsync == FsyncEverySec {
		s.wg.Add(1)
		go s.everySecFsync()
	}
	log.Info("aof sink started", zap.String("path", s.path), zap.String("fsync", string(s.fsync)))
	return nil
}

// Stop signals the drain goroutine to flush remaining queued records and
// exit, waiting up to 5s for it to finish before giving up.
func (s *Sink) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return nil
	}
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn("aof sink stop timed out, forcing close")
	}
	s.w.Flush()
	s.file.Sync()
	return s.file.Close()
}

// Enqueue queues rec for append; it does not block on the actual write or
// fsync unless the queue is momentarily full.
func (s *Sink) Enqueue(rec *AofRecord) error {
	if atomic.LoadInt32(&s.running) == 0 {
		return fmt.Errorf("persistence: sink not running")
	}
	select {
	case s.queue <- rec:
		atomic.AddInt64(&s.queued, 1)
		return nil
	case <-time.After(100 * time.Millisecond):
		return fmt.Errorf("persistence: aof queue full")
	}
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for {
		select {
		case rec := <-s.queue:
			s.applyRecord(rec)
		case <-s.stopCh:
			for {
				select {
				case rec := <-s.queue:
					s.applyRecord(rec)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) applyRecord(rec *AofRecord) {
	if rec == nil {
		return
	}
	err := s.appendFrame(rec.Args)
	if err == nil && s.fsync == FsyncAlways {
		err = s.w.Flush()
		if err == nil {
			err = s.file.Sync()
		}
	}
	atomic.AddInt64(&s.written, 1)
	if rec.Done != nil {
		rec.Done <- err
	}
	if err != nil {
		log.Error("aof append failed", zap.Error(err))
	}
}

// appendFrame writes rec's argument vector as a RESP3 array-of-bulk-strings
// command frame, the same record shape a client request arrives in —
// replay is just feeding the file back through resp.Decoder.
func (s *Sink) appendFrame(args []string) error {
	e := resp.NewEncoder(s.w)
	items := make([]resp.Value, len(args))
	for i, a := range args {
		items[i] = resp.BulkString(a)
	}
	e.Encode(resp.Array(items...))
	return e.Flush()
}

func (s *Sink) everySecFsync() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.w.Flush()
			s.file.Sync()
		case <-s.stopCh:
			return
		}
	}
}

// Stats mirrors the teacher's GetStatistics map for operational visibility.
func (s *Sink) Stats() map[string]int64 {
	return map[string]int64{
		"queued":  atomic.LoadInt64(&s.queued),
		"written": atomic.LoadInt64(&s.written),
		"running": int64(atomic.LoadInt32(&s.running)),
	}
}
