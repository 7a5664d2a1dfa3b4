// Command listener is a standalone MLLP endpoint: it accepts the HL7 feed
// the simulator emits, logs each message and acknowledges it. Point
// HL7_FORWARD_ADDR at it to watch the interface traffic.
package main

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"os"

	"radiology-simulator/internal/hl7"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	addr := os.Getenv("MLLP_ADDR")
	if addr == "" {
		addr = ":2575"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("listen failed", "addr", addr, "error", err)
		os.Exit(1)
	}
	defer listener.Close()

	logger.Info("hl7 listener started", "addr", addr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			logger.Warn("accept failed", "error", err)
			continue
		}
		go handleConnection(conn, logger)
	}
}

func handleConnection(conn net.Conn, logger *slog.Logger) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		raw, err := hl7.ReadMLLP(r)
		if err != nil {
			if err != io.EOF {
				logger.Warn("read failed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}

		msg, err := hl7.Parse(raw)
		if err != nil {
			logger.Warn("unparseable message", "remote", conn.RemoteAddr(), "error", err)
			hl7.WriteMLLP(conn, hl7.Ack(nil, "AE"))
			continue
		}

		logger.Info("message received",
			"type", msg.MessageType(),
			"control_id", msg[0].Field(10),
			"segments", len(msg))

		if err := hl7.WriteMLLP(conn, hl7.Ack(msg, "AA")); err != nil {
			logger.Warn("ack failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}
}
