package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const genesisYml = `config:
  genesis_time: "2026-01-01T00:00:00Z"
  slot_duration_ms: 2000
  slots_per_epoch: 10
  finality_depth: 128
  self_node:
    pubkey: "node1pub"
    privkey_path: "/tmp/privkey.txt"
    rpc_addr: "127.0.0.1:8545"
    metrics_addr: "127.0.0.1:9100"
  leader_schedule:
    - start_slot: 0
      end_slot: 99
      leader: "node1pub"
    - start_slot: 100
      end_slot: 199
      leader: "node2pub"
  accounts:
    - address: "node1pub"
      amount: 1000000
`

const nodeIni = `[node]
data_dir = /var/lib/norn

[mempool]
max_txs = 2500

[pipeline]
max_future_slots = 3
max_stale_slots = 500
orphan_limit = 64
orphan_ttl_seconds = 120
validation_workers = 8

[leadership]
batch_size = 250
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadGenesisConfig(t *testing.T) {
	cfg, err := LoadGenesisConfig(writeFile(t, "genesis.yml", genesisYml))
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.SlotDurationMs)
	assert.Equal(t, 2*time.Second, cfg.SlotDuration())
	assert.Equal(t, uint64(10), cfg.SlotsPerEpoch)
	assert.Equal(t, uint64(128), cfg.FinalityDepth)
	assert.Equal(t, "node1pub", cfg.SelfNode.PubKey)
	assert.Equal(t, "127.0.0.1:8545", cfg.SelfNode.RPCAddr)
	require.Len(t, cfg.LeaderSchedule, 2)
	assert.Equal(t, uint64(100), cfg.LeaderSchedule[1].StartSlot)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, uint64(1000000), cfg.Accounts[0].Amount)

	ts, err := cfg.GenesisTimestamp()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ts)
}

func TestLoadGenesisConfigRejectsBadValues(t *testing.T) {
	_, err := LoadGenesisConfig(writeFile(t, "genesis.yml", `config:
  genesis_time: "2026-01-01T00:00:00Z"
  slot_duration_ms: 0
  slots_per_epoch: 10
`))
	assert.Error(t, err)

	_, err = LoadGenesisConfig(writeFile(t, "genesis.yml", `config:
  genesis_time: "not a timestamp"
  slot_duration_ms: 2000
  slots_per_epoch: 10
`))
	assert.Error(t, err)

	_, err = LoadGenesisConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadNodeIniSections(t *testing.T) {
	path := writeFile(t, "node.ini", nodeIni)

	nodeCfg, err := LoadNodeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/norn", nodeCfg.DataDir)

	mempoolCfg, err := LoadMempoolConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2500, mempoolCfg.MaxTxs)

	pipeCfg, err := LoadPipelineConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), pipeCfg.MaxFutureSlots)
	assert.Equal(t, uint64(500), pipeCfg.MaxStaleSlots)
	assert.Equal(t, 64, pipeCfg.OrphanLimit)
	assert.Equal(t, 120, pipeCfg.OrphanTTLSeconds)
	assert.Equal(t, 8, pipeCfg.ValidationWorkers)

	leadCfg, err := LoadLeadershipConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 250, leadCfg.BatchSize)
}

func TestLoadNodeIniDefaults(t *testing.T) {
	path := writeFile(t, "node.ini", "")

	mempoolCfg, err := LoadMempoolConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10000, mempoolCfg.MaxTxs)

	pipeCfg, err := LoadPipelineConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 256, pipeCfg.OrphanLimit)
	assert.Equal(t, 4, pipeCfg.ValidationWorkers)
}

func TestLoadEd25519PrivKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	path := writeFile(t, "privkey.txt", hex.EncodeToString(priv)+"\n")
	loaded, err := LoadEd25519PrivKey(path)
	require.NoError(t, err)
	assert.Equal(t, priv, loaded)

	_, err = LoadEd25519PrivKey(writeFile(t, "bad.txt", "abcd"))
	assert.Error(t, err)

	_, err = LoadEd25519PrivKey(writeFile(t, "nothex.txt", "zzzz"))
	assert.Error(t, err)
}

func TestConvertLeaderSchedule(t *testing.T) {
	sched, err := ConvertLeaderSchedule([]LeaderScheduleEntry{
		{StartSlot: 0, EndSlot: 99, Leader: "node1"},
		{StartSlot: 100, EndSlot: 199, Leader: "node2"},
	})
	require.NoError(t, err)

	leader, ok := sched.LeaderAt(150)
	require.True(t, ok)
	assert.Equal(t, "node2", leader)

	_, err = ConvertLeaderSchedule([]LeaderScheduleEntry{
		{StartSlot: 0, EndSlot: 99, Leader: "node1"},
		{StartSlot: 50, EndSlot: 199, Leader: "node2"},
	})
	assert.Error(t, err)
}
