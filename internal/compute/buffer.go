package compute

import (
	"sync"
	"sync/atomic"
)

// bufferPool recycles Buffer shells together with their backing arrays,
// so steady-state dispatch of large payloads allocates nothing.
var bufferPool = sync.Pool{
	New: func() any { return new(Buffer) },
}

// Buffer is a transferable byte region moved across the dispatch
// boundary. Ownership travels with the dispatch: after passing a buffer
// to RunInteractive or RunBackground the caller must not touch it again,
// and the handler that received it calls Release when done. With
// zero-copy enabled (PoolConfig.ZeroCopy) the handler sees the very
// backing array the caller filled; with it disabled the dispatcher hands
// over a deep copy and the caller keeps its buffer.
type Buffer struct {
	data     []byte
	released int32
}

// NewBuffer returns a buffer of length size, reusing pooled storage when
// possible. Recycled contents are not zeroed.
func NewBuffer(size int) *Buffer {
	b := bufferPool.Get().(*Buffer)
	atomic.StoreInt32(&b.released, 0)
	if cap(b.data) >= size {
		b.data = b.data[:size]
	} else {
		b.data = make([]byte, size)
	}
	return b
}

// BufferFrom wraps p without copying. The caller relinquishes p: it now
// belongs to the buffer and will be recycled on Release.
func BufferFrom(p []byte) *Buffer {
	b := bufferPool.Get().(*Buffer)
	atomic.StoreInt32(&b.released, 0)
	b.data = p
	return b
}

// Bytes returns the buffer's contents. The slice is valid until Release.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the content length in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Release returns the buffer and its storage to the pool. Releasing nil
// or releasing twice is a no-op.
func (b *Buffer) Release() {
	if b == nil || !atomic.CompareAndSwapInt32(&b.released, 0, 1) {
		return
	}
	bufferPool.Put(b)
}

// clone deep-copies the contents into a fresh buffer.
func (b *Buffer) clone() *Buffer {
	c := NewBuffer(len(b.data))
	copy(c.data, b.data)
	return c
}

// cloneBuffers copies every buffer for dispatch with zero-copy disabled.
// The originals stay with the caller.
func cloneBuffers(bufs []*Buffer) []*Buffer {
	if len(bufs) == 0 {
		return nil
	}
	out := make([]*Buffer, len(bufs))
	for i, b := range bufs {
		out[i] = b.clone()
	}
	return out
}
