package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"norn/common"
	"norn/config"
	"norn/logx"
)

var (
	initDataDir     string
	initPrivKeyPath string
	initForce       bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize node identity and config skeletons",
	Long: `Initialize a new node by:
- Generating an Ed25519 private key (or reusing an existing one)
- Writing genesis.yml and node.ini skeletons to edit before first start`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := initializeNode(); err != nil {
			logx.Error("INIT", "Initialization failed: ", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initDataDir, "data-dir", ".", "Directory to save node identity and configs")
	initCmd.Flags().StringVar(&initPrivKeyPath, "privkey-path", "", "Path to existing private key file (optional)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config skeletons")
}

// initializeNode is idempotent: an existing key is kept unless --privkey-path
// points elsewhere, and skeleton configs are only overwritten with --force.
func initializeNode() error {
	if err := os.MkdirAll(initDataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(initDataDir, "config"), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	privKeyFile := filepath.Join(initDataDir, "privkey.txt")
	var privKey ed25519.PrivateKey
	switch {
	case initPrivKeyPath != "":
		key, err := config.LoadEd25519PrivKey(initPrivKeyPath)
		if err != nil {
			return fmt.Errorf("load existing private key: %w", err)
		}
		privKey = key
		if err := os.WriteFile(privKeyFile, []byte(hex.EncodeToString(privKey)), 0o600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
	case fileExists(privKeyFile):
		key, err := config.LoadEd25519PrivKey(privKeyFile)
		if err != nil {
			return fmt.Errorf("reuse private key: %w", err)
		}
		privKey = key
		logx.Info("INIT", "Reusing existing private key at ", privKeyFile)
	default:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		privKey = key
		if err := os.WriteFile(privKeyFile, []byte(hex.EncodeToString(privKey)), 0o600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
	}

	pubKey := common.EncodeBytesToBase58(privKey.Public().(ed25519.PublicKey))
	logx.Info("INIT", "Node public key (address): ", pubKey)

	genesisFile := filepath.Join(initDataDir, "config", "genesis.yml")
	nodeFile := filepath.Join(initDataDir, "config", "node.ini")
	if initForce || !fileExists(genesisFile) {
		if err := os.WriteFile(genesisFile, []byte(genesisSkeleton(pubKey, privKeyFile)), 0o644); err != nil {
			return fmt.Errorf("write genesis skeleton: %w", err)
		}
		logx.Info("INIT", "Wrote ", genesisFile)
	}
	if initForce || !fileExists(nodeFile) {
		if err := os.WriteFile(nodeFile, []byte(nodeSkeleton(initDataDir)), 0o644); err != nil {
			return fmt.Errorf("write node skeleton: %w", err)
		}
		logx.Info("INIT", "Wrote ", nodeFile)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func genesisSkeleton(pubKey, privKeyPath string) string {
	genesisTime := time.Now().UTC().Truncate(time.Minute).Format(time.RFC3339)
	return fmt.Sprintf(`config:
  genesis_time: %q
  slot_duration_ms: 2000
  slots_per_epoch: 10
  finality_depth: 128
  self_node:
    pubkey: %q
    privkey_path: %q
    rpc_addr: "127.0.0.1:8545"
    metrics_addr: "127.0.0.1:9100"
  leader_schedule:
    - start_slot: 0
      end_slot: 99999
      leader: %q
  accounts:
    - address: %q
      amount: 1000000000
`, genesisTime, pubKey, privKeyPath, pubKey, pubKey)
}

func nodeSkeleton(dataDir string) string {
	return fmt.Sprintf(`[node]
data_dir = %s/data

[mempool]
max_txs = 10000

[pipeline]
max_future_slots = 2
max_stale_slots = 10000
orphan_limit = 256
orphan_ttl_seconds = 300
validation_workers = 4

[leadership]
batch_size = 500
`, dataDir)
}
