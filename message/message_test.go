package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCachesByteLength(t *testing.T) {
	m := New(1000, "hello")
	assert.Equal(t, "hello", m.Text())
	assert.Equal(t, int64(1000), m.Timestamp())
	assert.Equal(t, 5, m.ByteLength())
}

func TestNewMultiByteText(t *testing.T) {
	// "café" is 4 runes but 5 UTF-8 bytes.
	m := New(0, "café")
	assert.Equal(t, 5, m.ByteLength())
}

func TestLessIsPartialOrder(t *testing.T) {
	a := New(100, "a")
	b := New(200, "b")
	c := New(200, "c")

	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.False(t, Less(b, c))
	assert.False(t, Less(c, b))
}

func TestTruncatePreservesRuneBoundary(t *testing.T) {
	m := New(0, "café")
	truncated := m.Truncate(4)
	assert.LessOrEqual(t, truncated.ByteLength(), 4)
	assert.Equal(t, "caf", truncated.Text())
}

func TestTruncateNoopWhenFits(t *testing.T) {
	m := New(0, "hello")
	assert.Equal(t, m, m.Truncate(100))
}
