// Package clientadmit implements component E: the chat-client TCP listener
// that gates admission on current leadership and fans out messages from any
// attached client to the entire client set, including the sender (§4.E,
// and the explicit "do not add sender exclusion" open question in §9).
package clientadmit

import (
	"bufio"
	"net"
	"strconv"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/node"
)

const (
	welcomeLine   = "WELCOME\n"
	notLeaderLine = "NOT_LEADER\n"
)

// Server accepts chat-client connections and runs the broadcast fan-out.
type Server struct {
	store  *node.Store
	logger *zap.Logger

	writeTimeout time.Duration
}

// New creates a client admission server.
func New(store *node.Store, logger *zap.Logger, writeTimeout time.Duration) *Server {
	return &Server{store: store, logger: logger, writeTimeout: writeTimeout}
}

// Serve accepts connections on l until it's closed (§5 shutdown: closing
// the listener unblocks Accept).
func (s *Server) Serve(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go s.handleAccept(conn)
	}
}

func (s *Server) handleAccept(conn net.Conn) {
	if !s.store.IsLeader() {
		// Reject immediately: no broadcast state is mutated (§8 invariant).
		s.writeLine(conn, notLeaderLine)
		conn.Close()
		return
	}

	client := s.store.AddClient(conn)
	s.logger.Info("client admitted",
		zap.Stringer("client_id", client.ID),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)

	if err := s.writeLine(conn, welcomeLine); err != nil {
		s.removeClient(client.ID)
		conn.Close()
		return
	}

	s.readLoop(client)
}

// readLoop reads newline-delimited chat messages from one client and
// broadcasts each non-empty one, until EOF or a read error (§4.E, §3
// lifecycle: "destroyed on EOF, send failure, or client disconnect").
func (s *Server) readLoop(client *node.ClientConn) {
	defer func() {
		s.removeClient(client.ID)
		client.Conn.Close()
	}()

	scanner := bufio.NewScanner(client.Conn)
	for scanner.Scan() {
		msg := scanner.Text()
		if msg == "" {
			continue
		}
		s.broadcast(msg)
	}
}

// broadcast sends "[<leader_id>] <text>\n" to every attached client,
// sender included, removing any client a send fails against (§4.E).
func (s *Server) broadcast(text string) {
	leaderID := s.store.LeaderID()
	line := "[" + strconv.Itoa(leaderID) + "] " + text + "\n"

	for _, c := range s.store.Clients() {
		if err := s.writeLine(c.Conn, line); err != nil {
			s.logger.Debug("broadcast send failed, dropping client",
				zap.Stringer("client_id", c.ID), zap.Error(err))
			s.removeClient(c.ID)
			c.Conn.Close()
		}
	}
}

// writeLine applies a write deadline before writing so a slow client can't
// block the broadcaster indefinitely (§4.E: "implementations should set a
// write deadline and treat expiry as failure").
func (s *Server) writeLine(conn net.Conn, line string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	_, err := conn.Write([]byte(line))
	return err
}

func (s *Server) removeClient(id xid.ID) {
	s.store.RemoveClient(id)
}
