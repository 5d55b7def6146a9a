package playout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan []byte) [][]byte {
	var chunks [][]byte
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		default:
			return chunks
		}
	}
}

func TestBuffer_FanOut(t *testing.T) {
	buf := NewBuffer(8)
	_, ch1 := buf.Subscribe()
	_, ch2 := buf.Subscribe()

	n, err := buf.Write([]byte("chunk-1"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	_, err = buf.Write([]byte("chunk-2"))
	require.NoError(t, err)

	for _, ch := range []<-chan []byte{ch1, ch2} {
		chunks := drain(ch)
		require.Len(t, chunks, 2)
		assert.Equal(t, []byte("chunk-1"), chunks[0])
		assert.Equal(t, []byte("chunk-2"), chunks[1])
	}

	assert.Equal(t, int64(14), buf.BytesWritten())
}

func TestBuffer_WriteCopiesChunk(t *testing.T) {
	buf := NewBuffer(4)
	_, ch := buf.Subscribe()

	p := []byte("original")
	_, err := buf.Write(p)
	require.NoError(t, err)
	p[0] = 'X'

	chunks := drain(ch)
	require.Len(t, chunks, 1)
	assert.Equal(t, []byte("original"), chunks[0])
}

func TestBuffer_SlowViewerDropsOldest(t *testing.T) {
	buf := NewBuffer(2)
	_, ch := buf.Subscribe()

	// Three writes into a queue of two: the oldest chunk is dropped so the
	// viewer stays near the live point instead of stalling the writer.
	_, err := buf.Write([]byte("a"))
	require.NoError(t, err)
	_, err = buf.Write([]byte("b"))
	require.NoError(t, err)
	_, err = buf.Write([]byte("c"))
	require.NoError(t, err)

	chunks := drain(ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte("b"), chunks[0])
	assert.Equal(t, []byte("c"), chunks[1])
	assert.Equal(t, int64(1), buf.DroppedChunks())
}

func TestBuffer_JoinInProgress(t *testing.T) {
	buf := NewBuffer(8)

	_, err := buf.Write([]byte("before"))
	require.NoError(t, err)

	_, ch := buf.Subscribe()
	_, err = buf.Write([]byte("after"))
	require.NoError(t, err)

	chunks := drain(ch)
	require.Len(t, chunks, 1)
	assert.Equal(t, []byte("after"), chunks[0])
}

func TestBuffer_Unsubscribe(t *testing.T) {
	buf := NewBuffer(4)
	id, ch := buf.Subscribe()
	assert.Equal(t, 1, buf.Subscribers())

	buf.Unsubscribe(id)
	assert.Equal(t, 0, buf.Subscribers())

	_, open := <-ch
	assert.False(t, open)

	// Idempotent
	buf.Unsubscribe(id)
}

func TestBuffer_Close(t *testing.T) {
	buf := NewBuffer(4)
	_, ch := buf.Subscribe()

	buf.Close()

	_, open := <-ch
	assert.False(t, open)

	_, err := buf.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrBufferClosed)

	// Subscribing after close yields an already-closed channel
	_, late := buf.Subscribe()
	_, open = <-late
	assert.False(t, open)

	// Idempotent
	buf.Close()
}
