package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"norn/block"
	"norn/blockstore"
	"norn/clock"
	"norn/config"
	"norn/db"
	"norn/events"
	"norn/exception"
	"norn/jsonrpc"
	"norn/leadership"
	"norn/ledger"
	"norn/logx"
	"norn/mempool"
	"norn/monitoring"
	"norn/pipeline"
	"norn/service"
	"norn/store"
)

var (
	nodeGenesisPath string
	nodeConfigPath  string
	nodeDataDir     string
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a full node",
	Long: `Run a full Norn node:
- Follows the slot clock derived from genesis time
- Validates and appends blocks from the network and its own leadership slots
- Serves the JSON-RPC boundary and Prometheus metrics`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runNode(); err != nil {
			logx.Error("NODE", "Node exited with error: ", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(nodeCmd)

	nodeCmd.Flags().StringVar(&nodeGenesisPath, "genesis", "config/genesis.yml", "Path to genesis configuration file")
	nodeCmd.Flags().StringVar(&nodeConfigPath, "config", "config/node.ini", "Path to node settings file")
	nodeCmd.Flags().StringVar(&nodeDataDir, "data-dir", "", "Data directory (overrides node.ini)")
}

func runNode() error {
	monitoring.InitMetrics()

	genCfg, err := config.LoadGenesisConfig(nodeGenesisPath)
	if err != nil {
		return fmt.Errorf("load genesis config: %w", err)
	}
	nodeCfg, err := config.LoadNodeConfig(nodeConfigPath)
	if err != nil {
		return fmt.Errorf("load node config: %w", err)
	}
	mempoolCfg, err := config.LoadMempoolConfig(nodeConfigPath)
	if err != nil {
		return fmt.Errorf("load mempool config: %w", err)
	}
	pipeCfg, err := config.LoadPipelineConfig(nodeConfigPath)
	if err != nil {
		return fmt.Errorf("load pipeline config: %w", err)
	}
	leadCfg, err := config.LoadLeadershipConfig(nodeConfigPath)
	if err != nil {
		return fmt.Errorf("load leadership config: %w", err)
	}
	dataDir := nodeCfg.DataDir
	if nodeDataDir != "" {
		dataDir = nodeDataDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	privKey, err := config.LoadEd25519PrivKey(genCfg.SelfNode.PrivKeyPath)
	if err != nil {
		return fmt.Errorf("load private key: %w", err)
	}

	genesisTime, err := genCfg.GenesisTimestamp()
	if err != nil {
		return err
	}
	clk, err := clock.NewSlotClock(genesisTime, genCfg.SlotDuration(), genCfg.SlotsPerEpoch)
	if err != nil {
		return fmt.Errorf("build slot clock: %w", err)
	}

	// Storage: leveldb for the block DAG, bolt for account and tx metadata.
	blockProvider, err := db.NewLevelDBProvider(filepath.Join(dataDir, "blocks"))
	if err != nil {
		return fmt.Errorf("open block db: %w", err)
	}
	stateProvider, err := db.NewBoltProvider(filepath.Join(dataDir, "state.db"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	accountStore, err := store.NewGenericAccountStore(stateProvider)
	if err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	txMetaStore, err := store.NewGenericTxMetaStore(stateProvider)
	if err != nil {
		return fmt.Errorf("open tx meta store: %w", err)
	}

	eventBus := events.NewEventBus()
	eventRouter := events.NewEventRouter(eventBus)
	ledg := ledger.NewLedger(accountStore, txMetaStore, eventRouter)

	genesisBlk := block.GenesisBlock(genesisTime)
	genesisState := ledger.NewState()
	for _, acc := range genCfg.Accounts {
		genesisState.CreditGenesis(acc.Address, uint256.NewInt(acc.Amount))
	}
	ledg.InitGenesis(genesisBlk.BlockHash, genesisState)

	bs, err := blockstore.NewBlockStore(blockProvider, blockstore.ChainLengthWeight, genesisBlk)
	if err != nil {
		return fmt.Errorf("init blockstore: %w", err)
	}
	if err := replayCanonicalChain(bs, ledg, genesisBlk); err != nil {
		return fmt.Errorf("replay chain: %w", err)
	}

	schedule, err := config.ConvertLeaderSchedule(genCfg.LeaderSchedule)
	if err != nil {
		return fmt.Errorf("build leader schedule: %w", err)
	}
	elig := leadership.NewScheduleEligibility(schedule)

	pipe := pipeline.NewPipeline(
		pipeline.Config{
			MaxFutureSlots:    pipeCfg.MaxFutureSlots,
			MaxStaleSlots:     pipeCfg.MaxStaleSlots,
			OrphanLimit:       pipeCfg.OrphanLimit,
			OrphanTTL:         time.Duration(pipeCfg.OrphanTTLSeconds) * time.Second,
			FinalityDepth:     genCfg.FinalityDepth,
			ValidationWorkers: pipeCfg.ValidationWorkers,
		},
		clk, bs, ledg, pipeline.Ed25519Verifier{}, eventRouter,
		func(epoch, slot uint64) (string, bool) {
			return elig.LeaderFor(clk.Abs(epoch, slot))
		},
	)

	mp := mempool.NewMempool(mempoolCfg.MaxTxs, bs, ledg, txMetaStore, eventRouter)
	eventRouter.RegisterTipChangeHandler(mp)

	ticker := clock.NewSlotTicker(clk)
	scheduler := leadership.NewScheduler(
		genCfg.SelfNode.PubKey, privKey, clk, ticker, bs, ledg, mp, pipe, elig, leadCfg.BatchSize,
	)

	txSvc := service.NewTxService(ledg, mp, bs, txMetaStore)
	acctSvc := service.NewAccountService(ledg, bs)
	chainSvc := service.NewChainService(bs, pipe, clk, mp)
	rpcSrv := jsonrpc.NewServer(genCfg.SelfNode.RPCAddr, txSvc, acctSvc, chainSvc, chainSvc)

	pipe.Start()
	ticker.Start()
	scheduler.Start()
	if err := rpcSrv.Start(); err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}
	startMetricsServer(genCfg.SelfNode.MetricsAddr)

	tipHash, tipHeight := bs.CurrentTip()
	logx.Info("NODE", fmt.Sprintf("Node %s running, tip %s at height %d", genCfg.SelfNode.PubKey, tipHash.Short(), tipHeight))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logx.Info("NODE", "Shutdown signal received")

	scheduler.Stop()
	ticker.Stop()
	pipe.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rpcSrv.Stop(shutdownCtx); err != nil {
		logx.Warn("NODE", "RPC shutdown: ", err)
	}
	eventBus.Close()
	if err := blockProvider.Close(); err != nil {
		logx.Warn("NODE", "Close block db: ", err)
	}
	if err := stateProvider.Close(); err != nil {
		logx.Warn("NODE", "Close state db: ", err)
	}
	logx.Info("NODE", "Shutdown complete")
	return nil
}

// replayCanonicalChain rebuilds the in-memory ledger states after a restart
// by applying the persisted canonical blocks on top of the genesis state.
// Fork states below the tip are rebuilt lazily as their blocks re-arrive.
func replayCanonicalChain(bs *blockstore.BlockStore, ledg *ledger.Ledger, genesisBlk *block.Block) error {
	_, tipHeight := bs.CurrentTip()
	if tipHeight == 0 {
		return nil
	}
	blocks, err := bs.BlocksInRange(1, tipHeight)
	if err != nil {
		return err
	}
	state, ok := ledg.StateAt(genesisBlk.BlockHash)
	if !ok {
		return fmt.Errorf("missing genesis state")
	}
	for _, blk := range blocks {
		state, err = ledg.ApplyBlock(state, blk)
		if err != nil {
			return fmt.Errorf("replay block %s at height %d: %w", blk.BlockHash.Short(), blk.Height, err)
		}
		ledg.Commit(blk, state)
	}
	logx.Info("NODE", fmt.Sprintf("Replayed %d canonical blocks", len(blocks)))
	return nil
}

func startMetricsServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	monitoring.RegisterMetrics(mux)
	exception.SafeGo("metricsServer", func() {
		logx.Info("METRICS", "Serving metrics on ", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logx.Error("METRICS", "Metrics server failed: ", err)
		}
	})
}
