package main

import (
	"bufio"
	"net"
	"time"

	"radiology-simulator/internal/hl7"
)

// forwardHL7 pushes a rendered message to the configured downstream over
// MLLP, best effort. The feed is observational; a dead downstream must not
// stall the workflow.
func forwardHL7(message string) {
	conn, err := net.DialTimeout("tcp", forwardAddr, 5*time.Second)
	if err != nil {
		logger.Warn("hl7 forward failed", "addr", forwardAddr, "error", err)
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if err := hl7.WriteMLLP(conn, message); err != nil {
		logger.Warn("hl7 forward failed", "addr", forwardAddr, "error", err)
		return
	}

	// Wait for the ACK but do not insist on one.
	if ack, err := hl7.ReadMLLP(bufio.NewReader(conn)); err == nil {
		if msg, err := hl7.Parse(ack); err == nil {
			if seg, ok := msg.Segment("MSA"); ok && seg.Field(1) != "AA" {
				logger.Warn("hl7 forward not acknowledged", "code", seg.Field(1))
			}
		}
	}
}
