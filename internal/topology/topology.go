// Package topology implements component B: the 1s tick that evicts stale
// peers, recomputes ring neighbors from the peer table, and triggers an
// election whenever no leader is known and a right neighbor exists.
package topology

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/node"
)

// Electioneer is the subset of the election engine the topology manager
// needs: a way to kick off an election when a tick finds no known leader. Declared here (consumer side) to avoid an import cycle between
// topology and election.
type Electioneer interface {
	StartElection()
}

// Manager runs the ring topology tick described in §4.B.
type Manager struct {
	store    *node.Store
	election Electioneer
	logger   *zap.Logger

	tick             time.Duration
	staleness        time.Duration
	electionCooldown time.Duration
}

// New creates a topology manager.
func New(store *node.Store, election Electioneer, logger *zap.Logger, tick, staleness, electionCooldown time.Duration) *Manager {
	return &Manager{
		store:            store,
		election:         election,
		logger:           logger,
		tick:             tick,
		staleness:        staleness,
		electionCooldown: electionCooldown,
	}
}

// Run ticks every m.tick until ctx is cancelled (§4.B, §5).
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tickOnce(time.Now())
		}
	}
}

// tickOnce runs the four steps of §4.B once.
func (m *Manager) tickOnce(now time.Time) {
	if evicted := m.store.EvictStale(now, m.staleness); len(evicted) > 0 {
		m.logger.Info("evicted stale peers", zap.Ints("peer_ids", evicted))
	}

	neighbors, changed := m.store.RecomputeNeighbors()
	if changed {
		m.logger.Info("neighbors updated",
			zap.Any("left", neighbors.Left),
			zap.Any("right", neighbors.Right),
		)
	}

	if neighbors.Right == nil {
		return
	}
	if m.store.LeaderID() != 0 {
		return
	}

	if m.store.TryStartElection(now, m.electionCooldown) {
		m.logger.Info("no leader known, starting election")
		m.election.StartElection()
	}
}
