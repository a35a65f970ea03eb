// Package supervisor implements component F: it owns the lifecycle of
// every other component, builds all listeners before announcing (so HELLO
// payloads carry real, bound ports), and exposes one shutdown signal that
// unblocks every loop.
package supervisor

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/clientadmit"
	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/config"
	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/discovery"
	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/election"
	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/node"
	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/topology"
	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/transport"
)

// Node wires and owns all six components for one running node.
type Node struct {
	cfg    config.Config
	logger *zap.Logger

	store *node.Store

	ringListener   net.Listener
	clientListener net.Listener

	discoverySvc *discovery.Service
	topoMgr      *topology.Manager
	electionEng  *election.Engine
	ringServer   *transport.Server
	clientSrv    *clientadmit.Server
}

// New constructs a Node and binds its ring and client listeners. Listener
// bind failure is fatal and returned to the caller (§7: "Listener bind
// failure at startup: fatal; abort with a diagnostic").
func New(cfg config.Config, logger *zap.Logger) (*Node, error) {
	if cfg.NodeID == 0 {
		// Matches original_source/nodes/node.py's random.randint(1, 10000)
		// fallback when no id is explicitly assigned (§6, §12).
		cfg.NodeID = rand.Intn(10000) + 1
	}

	host := discovery.LocalAddr(cfg.MulticastGroup, cfg.MulticastPort)
	store := node.NewStore(cfg.NodeID, host, logger.Named("store"))

	ringListener, err := transport.Listen()
	if err != nil {
		return nil, fmt.Errorf("bind ring listener: %w", err)
	}

	clientListener, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		ringListener.Close()
		return nil, fmt.Errorf("bind client listener: %w", err)
	}

	ringPort := ringListener.Addr().(*net.TCPAddr).Port
	clientPort := clientListener.Addr().(*net.TCPAddr).Port
	store.SetPorts(ringPort, clientPort)

	electionEng := election.New(store, logger.Named("election"), cfg.ConnectTimeout, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	ringServer := transport.NewServer(logger.Named("ring"), electionEng.Handle)

	topoMgr := topology.New(store, electionEng, logger.Named("topology"), cfg.TopologyTick, cfg.PeerStaleness, cfg.ElectionCooldown)
	discoverySvc := discovery.New(store, logger.Named("discovery"), cfg.MulticastGroup, cfg.MulticastPort, cfg.MulticastTTL, cfg.HelloInterval)
	clientSrv := clientadmit.New(store, logger.Named("client"), cfg.ClientWriteTimeout)

	logger.Info("node listening",
		zap.Int("node_id", cfg.NodeID),
		zap.String("host", host),
		zap.Int("ring_port", ringPort),
		zap.Int("client_port", clientPort),
	)

	return &Node{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		ringListener:   ringListener,
		clientListener: clientListener,
		discoverySvc:   discoverySvc,
		topoMgr:        topoMgr,
		electionEng:    electionEng,
		ringServer:     ringServer,
		clientSrv:      clientSrv,
	}, nil
}

// Run starts every component and blocks until ctx is cancelled, then closes
// both listeners so every accept/recv loop unblocks (§5 cancellation).
func (n *Node) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.ringServer.Serve(ctx, n.ringListener)
	}()

	go n.clientSrv.Serve(n.clientListener)
	go n.topoMgr.Run(ctx)
	go n.electionEng.HeartbeatLoop(ctx)

	discoveryErrCh := make(chan error, 1)
	go func() { discoveryErrCh <- n.discoverySvc.Run(ctx) }()

	go n.initialElection(ctx)

	<-ctx.Done()

	var errs error
	if err := n.ringListener.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("closing ring listener: %w", err))
	}
	if err := n.clientListener.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("closing client listener: %w", err))
	}

	<-done
	if err := <-discoveryErrCh; err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// initialElection waits out the startup delay so discovery has a chance to
// populate the peer table, then triggers the first election (§4.D
// "Initiation").
func (n *Node) initialElection(ctx context.Context) {
	timer := time.NewTimer(n.cfg.StartupElectionDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if n.store.LeaderID() != 0 {
		return
	}
	if n.store.TryStartElection(time.Now(), n.cfg.ElectionCooldown) {
		n.electionEng.StartElection()
	}
}
