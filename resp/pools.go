package resp

import (
	"bytes"
	"sync"
)

// bufferPool hands out reusable encode buffers, same discipline the
// teacher's storage/pools package applies to entity serialization: reset
// before use, skip pooling anything that grew unreasonably large so one
// oversized response doesn't pin megabytes of idle memory.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 64*1024 {
		return
	}
	bufferPool.Put(buf)
}
