package blobstore

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("http://localhost:8080")

	require.NoError(t, s.Put(ctx, "protocols/a.pdf", []byte("%PDF"), "application/pdf"))
	data, err := s.Get(ctx, "protocols/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)

	link, err := s.SignedURL(ctx, "protocols/a.pdf", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, link, "http://localhost:8080/blobs/protocols%2Fa.pdf?expires=")

	require.NoError(t, s.Delete(ctx, "protocols/a.pdf"))
	_, err = s.Get(ctx, "protocols/a.pdf")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = s.SignedURL(ctx, "protocols/a.pdf", time.Minute)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.Equal(t, 0, s.Len())
}
