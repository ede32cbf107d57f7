package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCode(t *testing.T) {
	base := errors.New("disk full")
	wrapped := Wrap(CodeInsufficientSpace, "store fragment", base)

	outer := fmt.Errorf("handle request: %w", wrapped)

	assert.Equal(t, CodeInsufficientSpace, GetCode(outer))
	assert.True(t, errors.Is(outer, wrapped))
	require.ErrorIs(t, wrapped, base)
}

func TestGetCodeUnknownForPlainError(t *testing.T) {
	assert.Equal(t, CodeUnknown, GetCode(errors.New("plain")))
	assert.Equal(t, CodeUnknown, GetCode(nil))
}

func TestSentinelsCarryCode(t *testing.T) {
	cases := map[*Error]Code{
		ErrNotFound:          CodeNotFound,
		ErrExpired:           CodeExpired,
		ErrInvalidSignature:  CodeInvalidSignature,
		ErrInsufficientSpace: CodeInsufficientSpace,
		ErrPermissionDenied:  CodePermissionDenied,
		ErrQuotaExceeded:     CodeQuotaExceeded,
		ErrInvalidRequest:    CodeInvalidRequest,
		ErrRateLimited:       CodeRateLimited,
	}
	for err, code := range cases {
		assert.Equal(t, code, GetCode(err))
	}
}
