package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradecore/internal/core"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Read(ctx, "a")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	data := []byte("hello")
	require.NoError(t, m.Write(ctx, "runs/a", data))
	data[0] = 'j'

	got, err := m.Read(ctx, "runs/a")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got), "stored bytes are copied")
	got[0] = 'y'
	again, _ := m.Read(ctx, "runs/a")
	assert.Equal(t, "hello", string(again), "returned bytes are copied")
}
