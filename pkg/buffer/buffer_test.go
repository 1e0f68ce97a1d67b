package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadOrder(t *testing.T) {
	b, err := New[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Write(i))
	}

	for i := 1; i <= 3; i++ {
		got, ok := b.Read()
		require.True(t, ok)
		assert.Equal(t, i, got)
	}

	_, ok := b.Read()
	assert.False(t, ok)
}

func TestDropOldestEvictsHead(t *testing.T) {
	var droppedItems []string
	b, err := New[string](2,
		WithOverflowPolicy[string](DropOldest),
		WithDropCallback[string](func(s string) { droppedItems = append(droppedItems, s) }),
	)
	require.NoError(t, err)

	require.NoError(t, b.Write("a"))
	require.NoError(t, b.Write("b"))
	require.NoError(t, b.Write("c"))

	got, ok := b.Read()
	require.True(t, ok)
	assert.Equal(t, "b", got)
	assert.Equal(t, []string{"a"}, droppedItems)
	assert.Equal(t, int64(1), b.Stats().Dropped())
}

func TestDropNewestDiscardsIncoming(t *testing.T) {
	b, err := New[string](2, WithOverflowPolicy[string](DropNewest))
	require.NoError(t, err)

	require.NoError(t, b.Write("a"))
	require.NoError(t, b.Write("b"))
	require.NoError(t, b.Write("c"))

	got, ok := b.Read()
	require.True(t, ok)
	assert.Equal(t, "a", got)
	assert.Equal(t, 1, b.Size())
	assert.Equal(t, int64(1), b.Stats().Dropped())
}

func TestCloseRejectsWritesKeepsReads(t *testing.T) {
	b, err := New[int](2)
	require.NoError(t, err)
	require.NoError(t, b.Write(7))
	require.NoError(t, b.Close())

	assert.Error(t, b.Write(8))

	got, ok := b.Read()
	require.True(t, ok)
	assert.Equal(t, 7, got)
}

func TestInvalidCapacity(t *testing.T) {
	_, err := New[int](0)
	assert.Error(t, err)
}
