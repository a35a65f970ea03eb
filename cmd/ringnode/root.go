package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/config"
	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/logging"
	"github.com/distribuidos-Coffee-Shop-Analysis/ringchat/internal/supervisor"
)

const usage = `ringnode joins the local ring of chat coordinators.

Nodes discover each other over UDP multicast, elect a leader by Chang-Roberts
election, and funnel chat clients through whichever node currently holds
leadership.

EXAMPLES:
  Start a node with an explicit id:
    ringnode --id 7

  Start a node with a random id, reading tunables from a config file:
    ringnode --config /etc/ringnode.yaml`

var (
	nodeID        int
	configPath    string
	multicastAddr string
	devLogging    bool
)

var rootCmd = &cobra.Command{
	Use:   "ringnode",
	Short: "A distributed ring chat coordinator node",
	Long:  usage,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNode()
	},
}

func init() {
	rootCmd.Flags().IntVar(&nodeID, "id", 0, "node id (positive integer); random in [1,10000] if omitted")
	rootCmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file of tunables")
	rootCmd.Flags().StringVar(&multicastAddr, "multicast-addr", "", "override multicast group:port, e.g. 224.1.1.1:50000")
	rootCmd.Flags().BoolVar(&devLogging, "dev-logging", false, "use a human-readable development logger instead of JSON")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runNode() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if nodeID != 0 {
		cfg.NodeID = nodeID
	}
	if multicastAddr != "" {
		group, port, err := splitMulticastAddr(multicastAddr)
		if err != nil {
			return fmt.Errorf("parsing --multicast-addr: %w", err)
		}
		cfg.MulticastGroup = group
		cfg.MulticastPort = port
	}

	logger, err := logging.New(devLogging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	n, err := supervisor.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return n.Run(ctx)
}
