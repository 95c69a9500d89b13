package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, "images/p1/a.png", []byte("png"), "image/png"))
	data, err := s.Get(ctx, "images/p1/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	data[0] = 'x'
	again, err := s.Get(ctx, "images/p1/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), again)

	require.NoError(t, s.Delete(ctx, "images/p1/a.png"))
	_, err = s.Get(ctx, "images/p1/a.png")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.Len())
}
