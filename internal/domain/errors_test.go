package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Store.Insert", ErrStoreCorrupt, "row 42")
	want := "Store.Insert: row 42: store row unparseable"
	assert.Equal(t, want, err.Error())
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Maintenance.Run", ErrMaintenanceFailed, "")
	want := "Maintenance.Run: maintenance pass failed"
	assert.Equal(t, want, err.Error())
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Store.Archive", ErrArchivePinned, "id=abc123")
	require.True(t, errors.Is(err, ErrArchivePinned))
}

func TestDomainErrorAs(t *testing.T) {
	err := NewDomainError("Embedder.Embed", ErrEmbeddingFailed, "wasm trap")
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Embedder.Embed", de.Op)
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("Store.Insert", nil))
}

func TestWrapOpWraps(t *testing.T) {
	base := fmt.Errorf("disk full")
	wrapped := WrapOp("Store.Insert", base)
	require.Error(t, wrapped)
	assert.True(t, errors.Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "Store.Insert")
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(ErrStoreBusy))
	assert.True(t, IsRetryableError(fmt.Errorf("wrap: %w", ErrTimeout)))
	assert.False(t, IsRetryableError(ErrStoreCorrupt))
	assert.False(t, IsRetryableError(nil))
}

func TestErrorCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{nil, CodeUnknown},
		{ErrStoreCorrupt, CodeStoreCorrupt},
		{ErrArchivePinned, CodeArchivePinned},
		{NewDomainError("op", ErrEmbeddingFailed, ""), CodeEmbeddingFailed},
		{fmt.Errorf("wrap: %w", ErrReplicationPush), CodeReplicationPush},
		{fmt.Errorf("unrelated"), CodeUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorCodeOf(tc.err))
	}
}

func TestDomainErrorCode(t *testing.T) {
	err := NewDomainError("Store.Insert", ErrStoreBusy, "")
	assert.Equal(t, CodeStoreBusy, err.Code())
}
