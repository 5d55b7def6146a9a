package playout

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrBufferClosed indicates the buffer's channel has stopped broadcasting
var ErrBufferClosed = errors.New("broadcast buffer is closed")

// Buffer is a channel's broadcast point. The playout session is its only
// writer; any number of viewers subscribe and receive output chunks from
// the moment they join, which is what makes join-in-progress work. A slow
// viewer drops chunks rather than stalling the broadcast.
type Buffer struct {
	mu        sync.RWMutex
	subs      map[uint64]chan []byte
	nextID    uint64
	chunkCap  int
	closed    bool
	written   atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBuffer creates a broadcast buffer whose subscribers each hold up to
// chunkCap pending chunks.
func NewBuffer(chunkCap int) *Buffer {
	if chunkCap < 1 {
		chunkCap = 1
	}
	return &Buffer{
		subs:     make(map[uint64]chan []byte),
		chunkCap: chunkCap,
	}
}

// Write copies p and fans it out to every subscriber. It never blocks on a
// subscriber: when a viewer's queue is full its oldest chunk is dropped to
// make room, keeping the viewer near the live point.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrBufferClosed
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.written.Add(int64(len(p)))

	for _, sub := range b.subs {
		for {
			select {
			case sub <- chunk:
				b.delivered.Add(int64(len(chunk)))
			default:
				select {
				case <-sub:
					b.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}

	return len(p), nil
}

// Subscribe registers a new viewer and returns its id and receive channel.
// The channel is closed when the buffer closes.
func (b *Buffer) Subscribe() (uint64, <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan []byte, b.chunkCap)
	if b.closed {
		close(ch)
		return id, ch
	}

	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a viewer. Safe to call after Close.
func (b *Buffer) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub)
	}
}

// Subscribers returns the current viewer count
func (b *Buffer) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// BytesWritten returns the total bytes broadcast so far
func (b *Buffer) BytesWritten() int64 {
	return b.written.Load()
}

// DroppedChunks returns how many chunks were dropped for slow viewers
func (b *Buffer) DroppedChunks() int64 {
	return b.dropped.Load()
}

// Close stops the broadcast and closes every subscriber channel.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
