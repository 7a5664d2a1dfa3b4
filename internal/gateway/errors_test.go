package gateway

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	connErr := &ConnectivityError{Op: "echo", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}
	protoErr := &ProtocolError{Op: "move-study", Status: 0xA801}

	assert.True(t, Retryable(connErr))
	assert.False(t, Retryable(protoErr))
	assert.False(t, Retryable(errors.New("something else")))
	assert.False(t, Retryable(nil))

	// Wrapping preserves the classification.
	assert.True(t, Retryable(fmt.Errorf("store batch: %w", connErr)))
	assert.False(t, Retryable(fmt.Errorf("retrieve: %w", protoErr)))
}

func TestConnectivityErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &ConnectivityError{Op: "find-studies", Err: inner}
	require.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "find-studies")
}

func TestProtocolErrorMessage(t *testing.T) {
	err := &ProtocolError{Op: "move-study", Status: 0xA801}
	assert.Contains(t, err.Error(), "move-study")
	assert.Contains(t, err.Error(), "A801")
}
