package election

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/node"
	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/transport"
)

// fakeNeighbor accepts connections until closed and reports every line it
// reads, standing in for a ring neighbor's TCP server.
func fakeNeighbor(t *testing.T) (addr string, received chan string, closeFn func()) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start fake neighbor: %v", err)
	}

	lines := make(chan string, 8)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			conn.Close()
		}
	}()

	return l.Addr().String(), lines, func() { l.Close() }
}

func newEngineWithNeighbor(t *testing.T, selfID int, rightHost string, rightPort int) (*Engine, *node.Store) {
	t.Helper()
	store := node.NewStore(selfID, "127.0.0.1", zap.NewNop())
	store.SetPorts(1, 2)
	store.UpsertPeer(selfID, "127.0.0.1", 1, 2, time.Now())
	store.UpsertPeer(99999, rightHost, rightPort, rightPort, time.Now())
	// Store has no setter for the neighbor pair and tests only need
	// Neighbors().Right, so seed the peer table with an id that sorts
	// adjacent to self and call RecomputeNeighbors.
	store.RecomputeNeighbors()

	eng := New(store, zap.NewNop(), 2*time.Second, 2*time.Second, 6*time.Second)
	return eng, store
}

func TestOnElectionSelfWinsBecomesLeader(t *testing.T) {
	addr, lines, closeFn := fakeNeighbor(t)
	defer closeFn()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	eng, store := newEngineWithNeighbor(t, 5, host, port)

	select {
	case becameLeader := <-eng.LeaderChan():
		t.Fatalf("unexpected early leader signal: %v", becameLeader)
	default:
	}

	eng.onElection(5)

	if !store.IsLeader() {
		t.Fatal("expected node to become leader on receiving its own id")
	}

	select {
	case becameLeader := <-eng.LeaderChan():
		if !becameLeader {
			t.Fatal("expected leaderChan to signal true")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a leaderChan signal")
	}

	select {
	case line := <-lines:
		if line != "LEADER 5" {
			t.Fatalf("expected LEADER 5 forwarded, got %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("expected LEADER announcement to be forwarded")
	}
}

func TestOnElectionForwardsLargerID(t *testing.T) {
	addr, lines, closeFn := fakeNeighbor(t)
	defer closeFn()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	eng, store := newEngineWithNeighbor(t, 5, host, port)
	eng.onElection(9)

	if store.IsLeader() {
		t.Fatal("node should not become leader when forwarding a larger candidate")
	}

	select {
	case line := <-lines:
		if line != "ELECTION 9" {
			t.Fatalf("expected ELECTION 9 forwarded unchanged, got %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("expected ELECTION 9 to be forwarded")
	}
}

func TestOnElectionSuppressesSmallerID(t *testing.T) {
	addr, lines, closeFn := fakeNeighbor(t)
	defer closeFn()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	eng, _ := newEngineWithNeighbor(t, 5, host, port)
	eng.onElection(2)

	select {
	case line := <-lines:
		if line != "ELECTION 5" {
			t.Fatalf("expected ELECTION 5 (self) to suppress smaller token, got %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("expected ELECTION 5 to be forwarded")
	}
}

func TestOnLeaderStopsAtOriginator(t *testing.T) {
	addr, lines, closeFn := fakeNeighbor(t)
	defer closeFn()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	eng, store := newEngineWithNeighbor(t, 5, host, port)
	eng.onLeader(5)

	if store.LeaderID() != 5 {
		t.Fatalf("LeaderID() = %d, want 5", store.LeaderID())
	}

	select {
	case line := <-lines:
		t.Fatalf("LEADER announcement should not be forwarded back to its originator, got %q", line)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHandleDispatchesByKind(t *testing.T) {
	addr, lines, closeFn := fakeNeighbor(t)
	defer closeFn()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	eng, store := newEngineWithNeighbor(t, 5, host, port)
	eng.Handle(transport.Message{Kind: transport.Heartbeat, ID: 7})

	if store.LeaderID() != 7 {
		t.Fatalf("LeaderID() = %d, want 7", store.LeaderID())
	}

	select {
	case line := <-lines:
		if line != "HEARTBEAT 7" {
			t.Fatalf("expected HEARTBEAT 7 forwarded, got %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("expected HEARTBEAT 7 to be forwarded")
	}
}
