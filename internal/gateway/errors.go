package gateway

import (
	"errors"
	"fmt"
)

// ConnectivityError means the PACS could not be reached or the association
// dropped. Callers may retry the same call unchanged.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("gateway: %s: connectivity failure: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ProtocolError means the peer answered but the exchange violated
// expectations, for example a failure status or an unexpected command.
// Retrying without intervention will not help.
type ProtocolError struct {
	Op     string
	Status uint16
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: protocol error: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway: %s: protocol error: status 0x%04X", e.Op, e.Status)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Retryable reports whether err is worth retrying unchanged.
func Retryable(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
