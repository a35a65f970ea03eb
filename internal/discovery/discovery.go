// Package discovery implements component A: a UDP multicast beacon that
// announces this node and ingests peer announcements into the shared peer
// table. Grounded on zeromq-gyre/beacon's use of golang.org/x/net/ipv4 to
// control multicast TTL and group membership.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/node"
)

const helloKeyword = "HELLO"

// Service runs the discovery sender and receiver loops against a shared
// Store (§4.A).
type Service struct {
	store  *node.Store
	logger *zap.Logger

	group    string
	port     int
	ttl      int
	interval time.Duration
}

// New creates a discovery service bound to the given multicast group/port.
func New(store *node.Store, logger *zap.Logger, group string, port, ttl int, interval time.Duration) *Service {
	return &Service{
		store:    store,
		logger:   logger,
		group:    group,
		port:     port,
		ttl:      ttl,
		interval: interval,
	}
}

// groupAddr formats the multicast UDP address this service talks on.
func (s *Service) groupAddr() string {
	return net.JoinHostPort(s.group, strconv.Itoa(s.port))
}

// LocalAddr detects this node's LAN-reachable address by opening a UDP
// socket toward the multicast group and reading its local endpoint — the
// "connect then getsockname" trick from original_source/nodes/node.py's
// get_local_ip, carried over per §12 and the §9 "host field" open question.
// If the dial fails or the local endpoint has no IP, it falls back to
// 127.0.0.1.
func LocalAddr(group string, port int) string {
	conn, err := net.Dial("udp4", net.JoinHostPort(group, strconv.Itoa(port)))
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || local.IP == nil {
		return "127.0.0.1"
	}
	return local.IP.String()
}

// Run starts the sender and receiver loops and blocks until ctx is
// cancelled, closing both sockets so any in-flight read/write unblocks
// (§5 cancellation/shutdown).
func (s *Service) Run(ctx context.Context) error {
	recvConn, err := s.listen()
	if err != nil {
		return fmt.Errorf("discovery: listen on %s: %w", s.groupAddr(), err)
	}
	defer recvConn.Close()

	sendConn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("discovery: open send socket: %w", err)
	}
	defer sendConn.Close()

	pc := ipv4.NewPacketConn(sendConn)
	if err := pc.SetMulticastTTL(s.ttl); err != nil {
		s.logger.Warn("failed to set multicast TTL", zap.Error(err))
	}

	dest, err := net.ResolveUDPAddr("udp4", s.groupAddr())
	if err != nil {
		return fmt.Errorf("discovery: resolve group address: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- s.sendLoop(ctx, pc, dest) }()
	go func() { errCh <- s.recvLoop(ctx, recvConn) }()

	<-ctx.Done()
	recvConn.Close()
	sendConn.Close()
	<-errCh
	<-errCh
	return nil
}

// listen joins the multicast group for receiving HELLO announcements.
func (s *Service) listen() (*net.UDPConn, error) {
	group := &net.UDPAddr{IP: net.ParseIP(s.group), Port: s.port}
	iface, err := firstMulticastInterface()
	if err != nil {
		return nil, err
	}
	return net.ListenMulticastUDP("udp4", iface, group)
}

// firstMulticastInterface picks the first interface capable of multicast,
// falling back to nil (all interfaces) if none is found.
func firstMulticastInterface() (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagMulticast != 0 && iface.Flags&net.FlagUp != 0 {
			return &iface, nil
		}
	}
	return nil, nil
}

// sendLoop emits "HELLO <id> <host> <ring_port> <client_port>" every
// interval (§4.A, §6).
func (s *Service) sendLoop(ctx context.Context, pc *ipv4.PacketConn, dest *net.UDPAddr) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sendHello(pc, dest)
		}
	}
}

func (s *Service) sendHello(pc *ipv4.PacketConn, dest *net.UDPAddr) {
	host, ringPort, clientPort := s.store.SelfAddr()
	msg := fmt.Sprintf("%s %d %s %d %d", helloKeyword, s.store.SelfID(), host, ringPort, clientPort)
	if _, err := pc.WriteTo([]byte(msg), nil, dest); err != nil {
		// Transient network failure: swallow and let the next tick retry (§7).
		s.logger.Debug("failed to send HELLO beacon", zap.Error(err))
	}
}

// recvLoop ingests HELLO datagrams and updates the peer table (§4.A).
func (s *Service) recvLoop(ctx context.Context, conn *net.UDPConn) error {
	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger.Debug("discovery receive error", zap.Error(err))
				continue
			}
		}

		s.handleDatagram(buf[:n])
	}
}

func (s *Service) handleDatagram(data []byte) {
	id, host, ringPort, clientPort, ok := parseHello(string(data))
	if !ok {
		// Malformed datagrams are dropped silently (§4.A, §7).
		return
	}
	if id == s.store.SelfID() {
		return
	}
	s.store.UpsertPeer(id, host, ringPort, clientPort, time.Now())
}

// parseHello parses "HELLO <id> <host> <ring_port> <client_port>".
func parseHello(line string) (id int, host string, ringPort, clientPort int, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 5 || fields[0] != helloKeyword {
		return 0, "", 0, 0, false
	}

	parsedID, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, "", 0, 0, false
	}
	parsedRingPort, err := strconv.Atoi(fields[3])
	if err != nil {
		return 0, "", 0, 0, false
	}
	parsedClientPort, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0, "", 0, 0, false
	}

	return parsedID, fields[2], parsedRingPort, parsedClientPort, true
}
