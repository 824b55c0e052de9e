package ringbuf

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, capacity int) *Buffer {
	t.Helper()
	b, err := New(capacity)
	require.NoError(t, err)
	return b
}

func assertSpace(t *testing.T, b *Buffer, used int) {
	t.Helper()
	assert.Equal(t, used, b.UsedSpace(), "used space")
	assert.Equal(t, b.Cap()-used, b.AvailableSpace(), "available space")
	assert.Equal(t, b.Cap(), b.UsedSpace()+b.AvailableSpace())
}

func TestBuffer(t *testing.T) {

	t.Run("New", func(t *testing.T) {

		t.Run("starts empty", func(t *testing.T) {
			b := mustNew(t, 3)
			assertSpace(t, b, 0)
			assert.True(t, b.IsEmpty())
			assert.False(t, b.IsFull())
			assert.Equal(t, 3, b.DistToEnd())
			assert.Equal(t, []byte{0, 0, 0}, b.Storage())
			_, _, ok := b.Span()
			assert.False(t, ok)
		})

		testCases := []struct {
			name     string
			capacity int
		}{
			{name: "rejects zero capacity", capacity: 0},
			{name: "rejects negative capacity", capacity: -1},
			{name: "reports impossible allocations", capacity: math.MaxInt},
		}
		for _, tt := range testCases {
			t.Run(tt.name, func(t *testing.T) {
				b, err := New(tt.capacity)
				assert.ErrorIs(t, err, ErrAllocationFailure)
				assert.Nil(t, b)
			})
		}
	})

	t.Run("Release", func(t *testing.T) {

		t.Run("is a no-op on nil", func(t *testing.T) {
			var b *Buffer
			assert.NotPanics(t, b.Release)
		})

		t.Run("leaves an empty buffer with no capacity", func(t *testing.T) {
			b := mustNew(t, 4)
			_, err := b.Write([]byte("ab"))
			require.NoError(t, err)

			b.Release()
			assert.Equal(t, 0, b.Cap())
			assertSpace(t, b, 0)

			_, err = b.Write([]byte("a"))
			assert.ErrorIs(t, err, ErrCapacityExceeded)
			_, err = b.Pop(1)
			assert.ErrorIs(t, err, ErrEmptyBufferRead)
		})
	})

	t.Run("Write", func(t *testing.T) {

		t.Run("rejects writes longer than capacity", func(t *testing.T) {
			b := mustNew(t, 3)
			_, err := b.Write([]byte("a"))
			require.NoError(t, err)

			n, err := b.Write([]byte("abcd"))
			assert.ErrorIs(t, err, ErrCapacityExceeded)
			assert.Equal(t, 0, n)
			assertSpace(t, b, 1)
			start, end, ok := b.Span()
			assert.True(t, ok)
			assert.Equal(t, 0, start)
			assert.Equal(t, 0, end)
		})

		t.Run("ignores empty writes", func(t *testing.T) {
			b := mustNew(t, 3)
			n, err := b.Write(nil)
			assert.NoError(t, err)
			assert.Equal(t, 0, n)
			assert.True(t, b.IsEmpty())
		})

		t.Run("fills an empty buffer from index zero", func(t *testing.T) {
			b := mustNew(t, 5)
			n, err := b.Write([]byte("abc"))
			assert.NoError(t, err)
			assert.Equal(t, 3, n)
			start, end, ok := b.Span()
			assert.True(t, ok)
			assert.Equal(t, 0, start)
			assert.Equal(t, 2, end)
			assert.Equal(t, 2, b.DistToEnd())
		})

		t.Run("splits writes that cross the physical end", func(t *testing.T) {
			b := mustNew(t, 5)
			_, err := b.Write([]byte("abcd"))
			require.NoError(t, err)
			_, err = b.Pop(3)
			require.NoError(t, err)

			_, err = b.Write([]byte("efg"))
			require.NoError(t, err)
			assert.Equal(t, []byte("fgcde"), b.Storage())
			start, end, _ := b.Span()
			assert.Equal(t, 3, start)
			assert.Equal(t, 1, end)
			assert.Equal(t, 1, b.DistToEnd())

			got, err := b.Pop(4)
			assert.NoError(t, err)
			assert.Equal(t, []byte("defg"), got)
			assert.True(t, b.IsEmpty())
		})

		overwrites := []struct {
			name        string
			capacity    int
			setup       []string
			pop         int
			write       string
			expectedLen int
			expected    string
		}{
			{
				name:        "drops the oldest bytes of a full buffer",
				capacity:    4,
				setup:       []string{"abcd"},
				write:       "xy",
				expectedLen: 4,
				expected:    "cdxy",
			},
			{
				name:        "drops only what doesn't fit",
				capacity:    4,
				setup:       []string{"abc"},
				write:       "xy",
				expectedLen: 4,
				expected:    "bcxy",
			},
			{
				name:        "drops oldest bytes when the data already wraps",
				capacity:    6,
				setup:       []string{"abcdef", "gh"},
				write:       "xyz",
				expectedLen: 6,
				expected:    "fghxyz",
			},
			{
				name:        "keeps the oldest byte in the gap before start",
				capacity:    10,
				setup:       []string{"0123456789", "ab"},
				pop:         6,
				write:       "uvwxyzQ",
				expectedLen: 10,
				expected:    "9abuvwxyzQ",
			},
			{
				name:        "replaces everything on a full-capacity write to a partly used buffer",
				capacity:    4,
				setup:       []string{"ab"},
				write:       "wxyz",
				expectedLen: 4,
				expected:    "wxyz",
			},
			{
				name:        "replaces everything on a full-capacity write to a wrapped buffer",
				capacity:    4,
				setup:       []string{"abcd", "ef"},
				pop:         1,
				write:       "wxyz",
				expectedLen: 4,
				expected:    "wxyz",
			},
		}
		for _, tt := range overwrites {
			t.Run(tt.name, func(t *testing.T) {
				b := mustNew(t, tt.capacity)
				for _, s := range tt.setup {
					_, err := b.Write([]byte(s))
					require.NoError(t, err)
				}
				if tt.pop > 0 {
					_, err := b.Pop(tt.pop)
					require.NoError(t, err)
				}
				usedBefore := b.UsedSpace()

				n, err := b.Write([]byte(tt.write))
				assert.NoError(t, err)
				assert.Equal(t, len(tt.write), n)
				assert.Equal(t, min(usedBefore+len(tt.write), tt.capacity), b.UsedSpace())
				assertSpace(t, b, tt.expectedLen)

				got, err := b.Pop(tt.capacity)
				assert.NoError(t, err)
				assert.Equal(t, tt.expected, string(got))
			})
		}
	})

	t.Run("SafeWrite", func(t *testing.T) {

		t.Run("writes when there is room", func(t *testing.T) {
			b := mustNew(t, 4)
			n, err := b.SafeWrite([]byte("abcd"))
			assert.NoError(t, err)
			assert.Equal(t, 4, n)
			assert.True(t, b.IsFull())
		})

		t.Run("never overwrites", func(t *testing.T) {
			b := mustNew(t, 4)
			_, err := b.Write([]byte("abc"))
			require.NoError(t, err)
			before := bytes.Clone(b.Storage())

			n, err := b.SafeWrite([]byte("xy"))
			assert.ErrorIs(t, err, ErrOverwriteRejected)
			assert.Equal(t, 0, n)
			assertSpace(t, b, 3)
			assert.Equal(t, before, b.Storage())

			got, err := b.Pop(4)
			assert.NoError(t, err)
			assert.Equal(t, "abc", string(got))
		})
	})

	t.Run("Pop", func(t *testing.T) {

		t.Run("reports an empty buffer", func(t *testing.T) {
			b := mustNew(t, 3)
			got, err := b.Pop(1)
			assert.ErrorIs(t, err, ErrEmptyBufferRead)
			assert.Nil(t, got)
		})

		t.Run("round trips a write", func(t *testing.T) {
			b := mustNew(t, 8)
			_, err := b.Write([]byte("payload"))
			require.NoError(t, err)
			got, err := b.Pop(7)
			assert.NoError(t, err)
			assert.Equal(t, []byte("payload"), got)
			assertSpace(t, b, 0)
		})

		t.Run("clamps to what remains", func(t *testing.T) {
			b := mustNew(t, 8)
			_, err := b.Write([]byte("abc"))
			require.NoError(t, err)
			got, err := b.Pop(100)
			assert.NoError(t, err)
			assert.Equal(t, []byte("abc"), got)
			assert.True(t, b.IsEmpty())
		})

		t.Run("returns nothing for a zero or negative length", func(t *testing.T) {
			b := mustNew(t, 8)
			_, err := b.Write([]byte("abc"))
			require.NoError(t, err)
			for _, n := range []int{0, -1} {
				got, err := b.Pop(n)
				assert.NoError(t, err)
				assert.NotNil(t, got)
				assert.Empty(t, got)
			}
			assertSpace(t, b, 3)
		})

		t.Run("collapses to empty when data ends on the last index", func(t *testing.T) {
			b := mustNew(t, 4)
			_, err := b.Write([]byte("abcd"))
			require.NoError(t, err)
			_, err = b.Pop(2)
			require.NoError(t, err)

			got, err := b.Pop(2)
			assert.NoError(t, err)
			assert.Equal(t, "cd", string(got))
			assert.True(t, b.IsEmpty())
			assertSpace(t, b, 0)
		})

		t.Run("returns a copy the buffer does not reuse", func(t *testing.T) {
			b := mustNew(t, 2)
			_, err := b.Write([]byte("ab"))
			require.NoError(t, err)
			got, err := b.Pop(2)
			require.NoError(t, err)
			_, err = b.Write([]byte("xy"))
			require.NoError(t, err)
			assert.Equal(t, "ab", string(got))
		})
	})

	t.Run("Read", func(t *testing.T) {
		b := mustNew(t, 4)
		_, err := b.Write([]byte("abcd"))
		require.NoError(t, err)
		_, err = b.Pop(3)
		require.NoError(t, err)
		_, err = b.Write([]byte("efg"))
		require.NoError(t, err)

		p := make([]byte, 3)
		n, err := b.Read(p)
		assert.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, "def", string(p))

		n, err = b.Read(p)
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "g", string(p[:n]))

		n, err = b.Read(p)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 0, n)
	})

	t.Run("Clear", func(t *testing.T) {
		b := mustNew(t, 3)
		_, err := b.Write([]byte("abc"))
		require.NoError(t, err)

		b.Clear()
		assertSpace(t, b, 0)
		assert.Equal(t, 3, b.DistToEnd())
		assert.Equal(t, []byte("abc"), b.Storage())

		_, err = b.Pop(1)
		assert.ErrorIs(t, err, ErrEmptyBufferRead)
	})

	t.Run("demonstration sequence", func(t *testing.T) {
		b := mustNew(t, 3)
		assertSpace(t, b, 0)

		_, err := b.SafeWrite([]byte("a"))
		require.NoError(t, err)
		assertSpace(t, b, 1)

		_, err = b.SafeWrite([]byte("ab"))
		require.NoError(t, err)
		assertSpace(t, b, 3)

		_, err = b.Write([]byte("xy"))
		require.NoError(t, err)
		assertSpace(t, b, 3)
		assert.Equal(t, []byte("xyb"), b.Storage())
		start, end, _ := b.Span()
		assert.Equal(t, 2, start)
		assert.Equal(t, 1, end)

		got, err := b.Pop(2)
		require.NoError(t, err)
		assert.Equal(t, "bx", string(got))
		assertSpace(t, b, 1)

		got, err = b.Pop(2)
		require.NoError(t, err)
		assert.Equal(t, "y", string(got))
		assertSpace(t, b, 0)
		assert.True(t, b.IsEmpty())
	})
}

// TestBufferAgainstModel drives a Buffer and a plain slice queue with the same random
// operations and checks they never disagree.
func TestBufferAgainstModel(t *testing.T) {
	for _, capacity := range []int{1, 2, 3, 7, 16} {
		t.Run(fmt.Sprintf("capacity %d", capacity), func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(capacity)))
			b := mustNew(t, capacity)
			var model []byte
			var next byte

			payload := func(n int) []byte {
				p := make([]byte, n)
				for i := range p {
					p[i] = next
					next++
				}
				return p
			}

			for step := 0; step < 2000; step++ {
				switch op := rng.Intn(10); {
				case op < 4:
					p := payload(rng.Intn(capacity + 2))
					n, err := b.Write(p)
					if len(p) > capacity {
						require.ErrorIs(t, err, ErrCapacityExceeded)
						break
					}
					require.NoError(t, err)
					require.Equal(t, len(p), n)
					model = append(model, p...)
					if len(model) > capacity {
						model = model[len(model)-capacity:]
					}
				case op < 6:
					p := payload(rng.Intn(capacity + 1))
					_, err := b.SafeWrite(p)
					if len(model)+len(p) > capacity {
						require.ErrorIs(t, err, ErrOverwriteRejected)
						break
					}
					require.NoError(t, err)
					model = append(model, p...)
				case op < 9:
					n := rng.Intn(capacity+2) - 1
					got, err := b.Pop(n)
					if len(model) == 0 {
						require.ErrorIs(t, err, ErrEmptyBufferRead)
						break
					}
					require.NoError(t, err)
					n = max(0, min(n, len(model)))
					require.Equal(t, model[:n], got)
					model = model[n:]
				default:
					b.Clear()
					model = model[:0]
				}

				require.Equal(t, len(model), b.UsedSpace(), "step %d", step)
				require.Equal(t, capacity, b.UsedSpace()+b.AvailableSpace())
				start, end, ok := b.Span()
				require.Equal(t, len(model) > 0, ok)
				if ok {
					require.True(t, start >= 0 && start < capacity)
					require.True(t, end >= 0 && end < capacity)
					require.Equal(t, len(model), (end-start+capacity)%capacity+1)
				}
			}
		})
	}
}
