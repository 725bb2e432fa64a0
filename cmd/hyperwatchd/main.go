package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/hyperwatch/pkg/api"
	"github.com/cuemby/hyperwatch/pkg/cluster"
	"github.com/cuemby/hyperwatch/pkg/datastore"
	"github.com/cuemby/hyperwatch/pkg/executor"
	"github.com/cuemby/hyperwatch/pkg/log"
	"github.com/cuemby/hyperwatch/pkg/manager"
	"github.com/cuemby/hyperwatch/pkg/metrics"
	"github.com/cuemby/hyperwatch/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hyperwatchd",
	Short:   "hyperwatchd collects guest/hypervisor topology and dispatches it to subscription managers",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"hyperwatchd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	runCmd.Flags().String("config", "/etc/hyperwatch/config.yaml", "Path to the YAML configuration document")
	runCmd.Flags().Bool("oneshot", false, "Run every source/destination once and exit instead of looping")
	runCmd.Flags().Bool("print", false, "Print reports instead of submitting them (implies the built-in print manager)")
	runCmd.Flags().String("listen", ":9090", "Admin HTTP listen address (/health, /ready, /metrics)")
	runCmd.Flags().String("cluster-node-id", "", "This node's ID, enables Raft leader election when set")
	runCmd.Flags().String("cluster-bind-addr", "", "Raft bind address")
	runCmd.Flags().String("cluster-data-dir", "/var/lib/hyperwatch/raft", "Raft data directory")
	runCmd.Flags().StringSlice("cluster-peer", nil, "A cluster peer as id=addr, repeatable")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hyperwatchd version %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the collection/dispatch engine",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	oneshot, _ := cmd.Flags().GetBool("oneshot")
	printOnly, _ := cmd.Flags().GetBool("print")
	listen, _ := cmd.Flags().GetString("listen")

	doc, err := loadDocument(configPath)
	if err != nil {
		return err
	}

	store := datastore.New()

	leaderGate, leaderChecker, err := buildElection(cmd)
	if err != nil {
		return err
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("api", true, "serving")

	hs := api.NewHealthServer(store, leaderChecker, Version)
	go func() {
		if err := hs.Start(listen); err != nil {
			metrics.UpdateComponent("api", false, err.Error())
			log.Logger.Error().Err(err).Msg("admin HTTP server stopped")
		}
	}()

	collector := metrics.NewCollector(store, leaderChecker)
	collector.Start()
	defer collector.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		exec, err := buildExecutor(doc, store, oneshot, printOnly, leaderGate)
		if err != nil {
			return err
		}

		runCtx, stopSignals := watchSignals(ctx, exec, sigCh)
		outcome, err := exec.Run(runCtx)
		stopSignals()

		if err != nil && runCtx.Err() == nil {
			log.Logger.Error().Err(err).Msg("executor run returned an error")
		}
		if outcome != executor.ReloadRequested {
			return nil
		}
		log.Logger.Info().Msg("reloading configuration")

		doc, err = loadDocument(configPath)
		if err != nil {
			return fmt.Errorf("reload config: %w", err)
		}
	}
}

// watchSignals derives a cancelable context from ctx and forwards
// SIGTERM/SIGINT into cancellation and SIGHUP into exec.Reload, for the
// duration of a single Executor.Run call.
func watchSignals(ctx context.Context, exec *executor.Executor, sigCh chan os.Signal) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					exec.Reload()
				case syscall.SIGTERM, syscall.SIGINT:
					cancel()
				}
			}
		}
	}()
	return runCtx, func() { close(done) }
}

func buildElection(cmd *cobra.Command) (executor.LeaderGate, api.LeaderChecker, error) {
	nodeID, _ := cmd.Flags().GetString("cluster-node-id")
	if nodeID == "" {
		return nil, nil, nil
	}

	bindAddr, _ := cmd.Flags().GetString("cluster-bind-addr")
	dataDir, _ := cmd.Flags().GetString("cluster-data-dir")
	peerFlags, _ := cmd.Flags().GetStringSlice("cluster-peer")

	peers := make([]cluster.Peer, 0, len(peerFlags))
	for _, p := range peerFlags {
		id, addr, ok := splitPeer(p)
		if !ok {
			return nil, nil, fmt.Errorf("invalid --cluster-peer %q, want id=addr", p)
		}
		peers = append(peers, cluster.Peer{ID: id, Addr: addr})
	}

	election, err := cluster.New(log.WithComponent("cluster"), cluster.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
		Peers:    peers,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start leader election: %w", err)
	}
	return election, election, nil
}

func splitPeer(s string) (id, addr string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func buildExecutor(doc *document, store *datastore.Datastore, oneshot, printOnly bool, leaderGate executor.LeaderGate) (*executor.Executor, error) {
	sources := make([]executor.SourceSpec, 0, len(doc.Sources))
	for i := range doc.Sources {
		cfg := doc.Sources[i]
		sources = append(sources, executor.SourceSpec{Config: &cfg})
	}

	printMgr := newPrintManager(os.Stdout)

	destinations := make([]executor.DestinationSpec, 0, len(doc.Destinations))
	for i := range doc.Destinations {
		dst := doc.Destinations[i]
		kind, err := destinationKind(dst.Kind)
		if err != nil {
			return nil, fmt.Errorf("destination %q: %w", dst.Name, err)
		}

		cfg := dst.Config
		var mgr manager.Manager
		switch dst.Manager {
		case "", "print":
			mgr = printMgr
		default:
			return nil, fmt.Errorf("destination %q: unknown manager %q (no concrete remote adapter ships in this binary)", dst.Name, dst.Manager)
		}

		destinations = append(destinations, executor.DestinationSpec{
			Config:  &cfg,
			Info:    types.DestinationInfo{Kind: kind, RHSMHostname: cfg.RHSMHostname},
			Manager: mgr,
		})
	}

	logger := log.WithComponent("executor")
	return executor.New(logger, store, executor.Config{
		Sources:      sources,
		Destinations: destinations,
		Oneshot:      oneshot,
		Options:      manager.SendOptions{PrintOnly: printOnly},
		LeaderGate:   leaderGate,
	}), nil
}
