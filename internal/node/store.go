// Package node owns the coordination state shared by every component of a
// ring node (§3, §9): the peer table, derived neighbors, leader state, and
// the set of attached chat clients. All reads and compound read-modify-write
// operations go through Store so no component ever mutates this state
// without holding its lock.
package node

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"
)

// PeerInfo is a peer table entry: the advertised address of a discovered
// node and when it was last heard from.
type PeerInfo struct {
	Host       string
	RingPort   int
	ClientPort int
	LastSeen   time.Time
}

// NeighborInfo identifies a ring neighbor: just enough to dial it.
type NeighborInfo struct {
	ID       int
	Host     string
	RingPort int
}

// Neighbors is the pair derived from the peer table each topology tick.
type Neighbors struct {
	Left  *NeighborInfo
	Right *NeighborInfo
}

// Equal reports whether two neighbor pairs name the same nodes, used to
// detect the "neighbor changed" edge that RecomputeNeighbors reports.
func (n Neighbors) Equal(other Neighbors) bool {
	return neighborEqual(n.Left, other.Left) && neighborEqual(n.Right, other.Right)
}

func neighborEqual(a, b *NeighborInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ClientConn is a single attached chat client, tagged with a correlation id
// purely for log readability (never sent on the wire).
type ClientConn struct {
	ID   xid.ID
	Conn net.Conn
}

// Store is the single supervisor value owning all mutable coordination
// state (§9: "re-architect as one supervisor value owning the state").
type Store struct {
	mu     sync.Mutex
	logger *zap.Logger

	selfID     int
	selfHost   string
	ringPort   int
	clientPort int

	peers map[int]PeerInfo

	neighbors Neighbors

	leaderID          int
	lastHeartbeat     time.Time
	inElection        bool
	lastElectionStart time.Time

	clients []*ClientConn
}

// NewStore creates the store for a node identified by selfID, seeding the
// peer table with a self-entry as required by §3's invariant that the
// table always contains self.
func NewStore(selfID int, selfHost string, logger *zap.Logger) *Store {
	s := &Store{
		logger:   logger,
		selfID:   selfID,
		selfHost: selfHost,
		peers:    map[int]PeerInfo{},
	}
	s.peers[selfID] = PeerInfo{Host: selfHost, LastSeen: time.Now()}
	return s
}

// SetPorts records the actual bound ring/client ports so HELLO payloads and
// the self peer-table entry advertise real, reachable ports (§4.F, §8).
func (s *Store) SetPorts(ringPort, clientPort int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ringPort = ringPort
	s.clientPort = clientPort
	self := s.peers[s.selfID]
	self.Host = s.selfHost
	self.RingPort = ringPort
	self.ClientPort = clientPort
	self.LastSeen = time.Now()
	s.peers[s.selfID] = self
}

// SelfID returns this node's id.
func (s *Store) SelfID() int {
	return s.selfID
}

// SelfAddr returns the self-advertised host and ports.
func (s *Store) SelfAddr() (host string, ringPort, clientPort int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfHost, s.ringPort, s.clientPort
}

// UpsertPeer records or refreshes a peer's advertised address (§4.A: "a
// concurrent receiver... updates the peer table on each well-formed HELLO").
func (s *Store) UpsertPeer(id int, host string, ringPort, clientPort int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[id] = PeerInfo{Host: host, RingPort: ringPort, ClientPort: clientPort, LastSeen: now}
}

// EvictStale removes peers (other than self) not seen within staleness of
// now, returning the evicted ids (§3, §4.B step 1).
func (s *Store) EvictStale(now time.Time, staleness time.Duration) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []int
	for id, info := range s.peers {
		if id == s.selfID {
			continue
		}
		if now.Sub(info.LastSeen) > staleness {
			delete(s.peers, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// LivePeerIDs returns every known id, ascending, including self.
func (s *Store) LivePeerIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.livePeerIDsLocked()
}

func (s *Store) livePeerIDsLocked() []int {
	ids := make([]int, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// RecomputeNeighbors derives (left, right) from the live peer table and
// atomically swaps them in if they changed, returning the new pair and
// whether it differs from what was published before (§3, §4.B step 2-3).
func (s *Store) RecomputeNeighbors() (Neighbors, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.livePeerIDsLocked()
	next := computeNeighbors(s.selfID, ids, s.peers)
	changed := !next.Equal(s.neighbors)
	s.neighbors = next
	return next, changed
}

// computeNeighbors is the pure function behind RecomputeNeighbors, split out
// so it's independently unit-testable without touching the lock (§8
// invariant: "neighbors are a pure function of live ids plus self").
// Single-node rings are a deliberate special case: §3's data model says a
// single known peer leaves both neighbors "undefined", but §8's boundary
// behavior requires a standalone node to see its own ring_port as right and
// self-elect. The mod-arithmetic successor/predecessor formula already
// yields self for N=1, so here it is honored rather than short-circuited —
// see DESIGN.md for the open-question writeup.
func computeNeighbors(selfID int, ids []int, peers map[int]PeerInfo) Neighbors {
	if len(ids) == 0 {
		return Neighbors{}
	}

	idx := sort.SearchInts(ids, selfID)
	if idx == len(ids) || ids[idx] != selfID {
		return Neighbors{}
	}

	n := len(ids)
	rightID := ids[(idx+1)%n]
	leftID := ids[(idx-1+n)%n]

	var neighbors Neighbors
	if info, ok := peers[rightID]; ok && info.RingPort != 0 {
		neighbors.Right = &NeighborInfo{ID: rightID, Host: info.Host, RingPort: info.RingPort}
	}
	if info, ok := peers[leftID]; ok && info.RingPort != 0 {
		neighbors.Left = &NeighborInfo{ID: leftID, Host: info.Host, RingPort: info.RingPort}
	}
	return neighbors
}

// Neighbors returns the currently published neighbor pair.
func (s *Store) Neighbors() Neighbors {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.neighbors
}

// LeaderID returns the known leader id, or 0 if unset.
func (s *Store) LeaderID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderID
}

// IsLeader reports whether this node currently believes itself leader.
func (s *Store) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderID == s.selfID
}

// SetLeader records a new leader id and clears in-flight election state,
// advancing last_heartbeat so a freshly announced leader doesn't
// immediately look timed out (§3: "leader state ... set by LEADER receipt").
func (s *Store) SetLeader(id int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderID = id
	s.inElection = false
	s.lastHeartbeat = now
}

// ClearLeader drops the known leader, e.g. on heartbeat timeout.
func (s *Store) ClearLeader() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderID = 0
}

// RecordHeartbeat advances last_heartbeat and the leader id on HEARTBEAT
// receipt (§3 invariant); LEADER receipt goes through SetLeader instead.
func (s *Store) RecordHeartbeat(leaderID int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderID = leaderID
	s.inElection = false
	s.lastHeartbeat = now
}

// HeartbeatTimedOut reports whether a known leader has gone silent for
// longer than timeout (§4.D heartbeat loop, follower branch).
func (s *Store) HeartbeatTimedOut(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaderID == 0 || s.leaderID == s.selfID {
		return false
	}
	return now.Sub(s.lastHeartbeat) > timeout
}

// TryStartElection applies the election-initiation gate of §4.B step 4 and
// §4.D: no leader known, not already electing, cooldown elapsed. On success
// it marks in_election and last_election_start and returns true, the
// signal that the caller should actually send ELECTION.
func (s *Store) TryStartElection(now time.Time, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leaderID != 0 {
		return false
	}
	if s.inElection {
		return false
	}
	if now.Sub(s.lastElectionStart) <= cooldown {
		return false
	}

	s.inElection = true
	s.lastElectionStart = now
	return true
}

// MarkElectionDone clears in_election without touching leader state. The
// election engine does not call it; winning an election clears in_election
// through SetLeader.
func (s *Store) MarkElectionDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inElection = false
}

// AddClient appends a newly admitted client connection to the client set
// (§3 lifecycle: "created on TCP accept at leader").
func (s *Store) AddClient(conn net.Conn) *ClientConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &ClientConn{ID: xid.New(), Conn: conn}
	s.clients = append(s.clients, c)
	return c
}

// RemoveClient drops a client from the set by id (§3 lifecycle: "destroyed
// by... send failure, or client disconnect").
func (s *Store) RemoveClient(id xid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.clients {
		if c.ID == id {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			return
		}
	}
}

// Clients returns a snapshot of the currently attached clients, safe to
// range over without holding the lock.
func (s *Store) Clients() []*ClientConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ClientConn, len(s.clients))
	copy(out, s.clients)
	return out
}

// ClientCount returns the number of attached clients.
func (s *Store) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
