package transport

import (
	"bufio"
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

// Dispatcher receives parsed ring messages as they arrive on any inbound
// connection, in the order each connection delivers them (§5: "within a
// single ring connection, messages are processed in the order received").
type Dispatcher func(Message)

// Server accepts inbound ring connections and dispatches each parsed
// message (§4.C "Server"). Multiple concurrent inbound connections are
// permitted; each gets its own reader goroutine.
type Server struct {
	logger   *zap.Logger
	dispatch Dispatcher
}

// NewServer creates a ring server that calls dispatch for every well-formed
// message it reads off any accepted connection.
func NewServer(logger *zap.Logger, dispatch Dispatcher) *Server {
	return &Server{logger: logger, dispatch: dispatch}
}

// Listen binds an OS-chosen TCP port, the node's ring_port (§3, §4.C).
// Standalone so the supervisor can bind the listener before the dispatcher
// (the election engine) exists, matching §4.F's "construct all listeners
// before announcing".
func Listen() (net.Listener, error) {
	return net.Listen("tcp", "0.0.0.0:0")
}

// Serve accepts connections on l until ctx is cancelled or l is closed. The
// caller is responsible for closing l to unblock Accept on shutdown (§5).
func (s *Server) Serve(ctx context.Context, l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Debug("ring accept error", zap.Error(err))
				return
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		msg, ok := ParseMessage(line)
		if !ok {
			// Malformed/unknown ring command: ignore, keep connection alive (§7).
			continue
		}
		s.dispatch(msg)
	}
}

// Send opens a fresh TCP connection to addr, writes the encoded message,
// and closes — the one-shot send of §4.C. Connection failures are reported
// to the caller so they can be logged and swallowed there; there is no
// retry, matching §4.D's "any ring send failure is silently dropped; the
// next heartbeat or topology tick will retry". The dial-then-write-then-
// close shape mirrors a health-checker's dial/write/read-deadline sequence,
// adapted here for fire-and-forget sends instead of a PING/PONG exchange.
func Send(addr string, msg Message, connectTimeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write([]byte(msg.Encode()))
	return err
}
