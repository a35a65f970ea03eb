// Package election implements component D: the Chang-Roberts (LCR) leader
// election state machine and the leader heartbeat/timeout loop. Adapted
// from a Bully-election coordinator's shape (mutex-backed Store, a
// leader-change channel, a periodic timeout monitor, ring messages
// dispatched by keyword) but LCR's single-neighbor forwarding rule instead
// of Bully's all-higher-ids fan-out, because the ring only ever knows one
// right neighbor at a time.
package election

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/node"
	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/transport"
)

// Engine runs the LCR state machine and heartbeat loop for one node.
type Engine struct {
	store  *node.Store
	logger *zap.Logger

	connectTimeout    time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	leaderChan chan bool
}

// New creates an election engine bound to store.
func New(store *node.Store, logger *zap.Logger, connectTimeout, heartbeatInterval, heartbeatTimeout time.Duration) *Engine {
	return &Engine{
		store:             store,
		logger:            logger,
		connectTimeout:    connectTimeout,
		heartbeatInterval: heartbeatInterval,
		heartbeatTimeout:  heartbeatTimeout,
		leaderChan:        make(chan bool, 10),
	}
}

// LeaderChan signals true when this node becomes leader.
func (e *Engine) LeaderChan() <-chan bool {
	return e.leaderChan
}

// StartElection sends ELECTION <self_id> to the right neighbor (§4.D
// "Initiation"). Used both for the startup delay and for topology-triggered
// re-elections (§4.B step 4); satisfies topology.Electioneer.
func (e *Engine) StartElection() {
	e.logger.Info("initiating election", zap.Int("candidate_id", e.store.SelfID()))
	e.sendRight(transport.Message{Kind: transport.Election, ID: e.store.SelfID()})
}

// Handle dispatches one parsed ring message to the LCR/heartbeat rules of
// §4.D. It is the Dispatcher passed to transport.NewServer.
func (e *Engine) Handle(msg transport.Message) {
	switch msg.Kind {
	case transport.Election:
		e.onElection(msg.ID)
	case transport.Leader:
		e.onLeader(msg.ID)
	case transport.Heartbeat:
		e.onHeartbeat(msg.ID)
	}
}

// onElection implements the three LCR branches.
func (e *Engine) onElection(candidateID int) {
	self := e.store.SelfID()
	switch {
	case candidateID == self:
		// Our own id came back around: we won (§4.D).
		wasLeader := e.store.IsLeader()
		e.store.SetLeader(self, time.Now())
		e.logger.Info("became leader", zap.Int("leader_id", self))
		e.sendRight(transport.Message{Kind: transport.Leader, ID: self})
		if !wasLeader {
			e.leaderChan <- true
		}
	case candidateID > self:
		e.sendRight(transport.Message{Kind: transport.Election, ID: candidateID})
	default:
		// LCR suppression of smaller tokens: replace with our own id.
		e.sendRight(transport.Message{Kind: transport.Election, ID: self})
	}
}

// onLeader records the winner and forwards the announcement once more
// around the ring, stopping when it returns to its originator (§4.D).
func (e *Engine) onLeader(leaderID int) {
	e.store.SetLeader(leaderID, time.Now())
	e.logger.Info("leader announced", zap.Int("leader_id", leaderID))
	if leaderID != e.store.SelfID() {
		e.sendRight(transport.Message{Kind: transport.Leader, ID: leaderID})
	}
}

// onHeartbeat records liveness and forwards the token (§4.D).
func (e *Engine) onHeartbeat(leaderID int) {
	e.store.RecordHeartbeat(leaderID, time.Now())
	if leaderID != e.store.SelfID() {
		e.sendRight(transport.Message{Kind: transport.Heartbeat, ID: leaderID})
	}
}

// HeartbeatLoop runs the 2s-cadence loop of §4.D: leaders emit HEARTBEAT,
// followers watch for timeout and start a new election when one occurs.
func (e *Engine) HeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.heartbeatTick()
		}
	}
}

func (e *Engine) heartbeatTick() {
	self := e.store.SelfID()
	if e.store.IsLeader() {
		e.sendRight(transport.Message{Kind: transport.Heartbeat, ID: self})
		return
	}

	now := time.Now()
	if e.store.HeartbeatTimedOut(now, e.heartbeatTimeout) {
		e.logger.Warn("heartbeat timeout, starting election", zap.Int("previous_leader", e.store.LeaderID()))
		e.store.ClearLeader()
		e.StartElection()
	}
}

// sendRight forwards msg to the current right neighbor. Any failure
// (neighbor unreachable, no neighbor yet) is logged and swallowed: the next
// topology tick or heartbeat retry will recover (§4.D "Failure handling",
// §7).
func (e *Engine) sendRight(msg transport.Message) {
	right := e.store.Neighbors().Right
	if right == nil {
		e.logger.Debug("no right neighbor, dropping ring message", zap.Stringer("kind", msg.Kind))
		return
	}

	addr := net.JoinHostPort(right.Host, strconv.Itoa(right.RingPort))
	if err := transport.Send(addr, msg, e.connectTimeout); err != nil {
		e.logger.Debug("ring send failed",
			zap.String("addr", addr),
			zap.Stringer("kind", msg.Kind),
			zap.Error(err),
		)
	}
}
