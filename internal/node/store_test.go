package node

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(selfID int) *Store {
	return NewStore(selfID, "127.0.0.1", zap.NewNop())
}

func TestComputeNeighborsSingleNode(t *testing.T) {
	peers := map[int]PeerInfo{5: {Host: "127.0.0.1", RingPort: 9000}}
	n := computeNeighbors(5, []int{5}, peers)

	if n.Right == nil || n.Right.ID != 5 {
		t.Fatalf("expected right to be self, got %+v", n.Right)
	}
	if n.Left == nil || n.Left.ID != 5 {
		t.Fatalf("expected left to be self, got %+v", n.Left)
	}
}

func TestComputeNeighborsWrapAround(t *testing.T) {
	peers := map[int]PeerInfo{
		3: {Host: "h3", RingPort: 1},
		5: {Host: "h5", RingPort: 1},
		7: {Host: "h7", RingPort: 1},
	}
	ids := []int{3, 5, 7}

	testCases := []struct {
		Self          int
		ExpectLeftID  int
		ExpectRightID int
	}{
		{Self: 3, ExpectLeftID: 7, ExpectRightID: 5},
		{Self: 5, ExpectLeftID: 3, ExpectRightID: 7},
		{Self: 7, ExpectLeftID: 5, ExpectRightID: 3},
	}

	for _, tc := range testCases {
		n := computeNeighbors(tc.Self, ids, peers)
		if n.Right == nil || n.Right.ID != tc.ExpectRightID {
			t.Fatalf("self=%d: right = %+v, want id %d", tc.Self, n.Right, tc.ExpectRightID)
		}
		if n.Left == nil || n.Left.ID != tc.ExpectLeftID {
			t.Fatalf("self=%d: left = %+v, want id %d", tc.Self, n.Left, tc.ExpectLeftID)
		}
	}
}

func TestComputeNeighborsMissingRingPortIsUndefined(t *testing.T) {
	peers := map[int]PeerInfo{
		3: {Host: "h3", RingPort: 0}, // discovered but hasn't advertised its port yet
		5: {Host: "h5", RingPort: 1},
	}
	n := computeNeighbors(5, []int{3, 5}, peers)
	if n.Left != nil {
		t.Fatalf("expected left undefined when neighbor has no ring port, got %+v", n.Left)
	}
}

func TestEvictStaleNeverEvictsSelf(t *testing.T) {
	s := newTestStore(1)
	now := time.Now()
	s.UpsertPeer(2, "h2", 1, 2, now.Add(-1*time.Hour))

	evicted := s.EvictStale(now, 10*time.Second)
	if len(evicted) != 1 || evicted[0] != 2 {
		t.Fatalf("expected peer 2 evicted, got %v", evicted)
	}

	ids := s.LivePeerIDs()
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected only self to remain, got %v", ids)
	}
}

func TestLeaderStateTransitions(t *testing.T) {
	s := newTestStore(1)
	now := time.Now()

	if s.IsLeader() {
		t.Fatal("fresh store should not consider itself leader")
	}

	s.SetLeader(7, now)
	if s.LeaderID() != 7 {
		t.Fatalf("LeaderID() = %d, want 7", s.LeaderID())
	}
	if s.IsLeader() {
		t.Fatal("node should not be leader when leader id belongs to someone else")
	}

	s.ClearLeader()
	if s.LeaderID() != 0 {
		t.Fatalf("LeaderID() after clear = %d, want 0", s.LeaderID())
	}
}

func TestHeartbeatTimeout(t *testing.T) {
	s := newTestStore(1)
	now := time.Now()
	s.SetLeader(7, now)

	if s.HeartbeatTimedOut(now.Add(3*time.Second), 6*time.Second) {
		t.Fatal("should not time out before the configured window elapses")
	}
	if !s.HeartbeatTimedOut(now.Add(7*time.Second), 6*time.Second) {
		t.Fatal("should time out once the configured window elapses")
	}
}

func TestHeartbeatTimeoutNeverFiresForSelfAsLeader(t *testing.T) {
	s := newTestStore(1)
	now := time.Now()
	s.SetLeader(1, now)

	if s.HeartbeatTimedOut(now.Add(time.Hour), 6*time.Second) {
		t.Fatal("a leader should never time itself out")
	}
}

func TestTryStartElectionCooldown(t *testing.T) {
	s := newTestStore(1)
	now := time.Now()

	if !s.TryStartElection(now, 2*time.Second) {
		t.Fatal("expected first election attempt to be allowed")
	}

	s.MarkElectionDone()
	if s.TryStartElection(now.Add(1*time.Second), 2*time.Second) {
		t.Fatal("expected second attempt within cooldown to be rejected")
	}
	if !s.TryStartElection(now.Add(3*time.Second), 2*time.Second) {
		t.Fatal("expected attempt after cooldown to be allowed")
	}
}

func TestTryStartElectionRejectedWhenLeaderKnown(t *testing.T) {
	s := newTestStore(1)
	now := time.Now()
	s.SetLeader(7, now)

	if s.TryStartElection(now.Add(time.Hour), 2*time.Second) {
		t.Fatal("should not start an election while a leader is known")
	}
}

func TestClientSetLifecycle(t *testing.T) {
	s := newTestStore(1)
	if s.ClientCount() != 0 {
		t.Fatalf("expected empty client set, got %d", s.ClientCount())
	}

	c1 := s.AddClient(nil)
	c2 := s.AddClient(nil)
	if s.ClientCount() != 2 {
		t.Fatalf("expected 2 clients, got %d", s.ClientCount())
	}

	s.RemoveClient(c1.ID)
	clients := s.Clients()
	if len(clients) != 1 || clients[0].ID != c2.ID {
		t.Fatalf("expected only c2 to remain, got %+v", clients)
	}
}
