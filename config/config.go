package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"norn/leadership"
	"norn/logx"
)

// LoadGenesisConfig reads and parses the genesis.yml file
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open genesis config: %w", err)
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("decode genesis config: %w", err)
	}
	cfg := &cfgFile.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logx.Info("CONFIG", fmt.Sprintf("Loaded genesis config: SelfNode=%s, LeaderSchedule=%d entries, Accounts=%d",
		cfg.SelfNode.PubKey, len(cfg.LeaderSchedule), len(cfg.Accounts)))
	return cfg, nil
}

func (c *GenesisConfig) Validate() error {
	if c.SlotDurationMs <= 0 {
		return fmt.Errorf("slot_duration_ms must be positive, got %d", c.SlotDurationMs)
	}
	if c.SlotsPerEpoch == 0 {
		return fmt.Errorf("slots_per_epoch must be positive")
	}
	if _, err := c.GenesisTimestamp(); err != nil {
		return err
	}
	return nil
}

// GenesisTimestamp parses the configured genesis time in RFC3339 form
func (c *GenesisConfig) GenesisTimestamp() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.GenesisTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse genesis_time %q: %w", c.GenesisTime, err)
	}
	return t.UTC(), nil
}

// SlotDuration returns the configured slot length as a duration
func (c *GenesisConfig) SlotDuration() time.Duration {
	return time.Duration(c.SlotDurationMs) * time.Millisecond
}

// LoadEd25519PrivKey loads an Ed25519 private key from a file (expects hex encoding)
func LoadEd25519PrivKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode private key hex: %w", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	return ed25519.PrivateKey(key), nil
}

// ConvertLeaderSchedule converts the yaml schedule entries into a leadership.Schedule
func ConvertLeaderSchedule(entries []LeaderScheduleEntry) (*leadership.Schedule, error) {
	schedEntries := make([]leadership.ScheduleEntry, len(entries))
	for i, e := range entries {
		schedEntries[i] = leadership.ScheduleEntry{
			StartSlot: e.StartSlot,
			EndSlot:   e.EndSlot,
			Leader:    e.Leader,
		}
	}
	return leadership.NewSchedule(schedEntries)
}

type NodeConfig struct {
	DataDir string `ini:"data_dir"`
}

type MempoolConfig struct {
	MaxTxs int `ini:"max_txs"`
}

type PipelineConfig struct {
	MaxFutureSlots    uint64 `ini:"max_future_slots"`
	MaxStaleSlots     uint64 `ini:"max_stale_slots"`
	OrphanLimit       int    `ini:"orphan_limit"`
	OrphanTTLSeconds  int    `ini:"orphan_ttl_seconds"`
	ValidationWorkers int    `ini:"validation_workers"`
}

type LeadershipConfig struct {
	BatchSize int `ini:"batch_size"`
}

// LoadNodeConfig reads node settings from an .ini file
func LoadNodeConfig(path string) (*NodeConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	nodeCfg := &NodeConfig{DataDir: "./data"}
	if err := cfg.Section("node").MapTo(nodeCfg); err != nil {
		return nil, err
	}
	return nodeCfg, nil
}

func LoadMempoolConfig(path string) (*MempoolConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	mempoolCfg := &MempoolConfig{MaxTxs: 10000}
	if err := cfg.Section("mempool").MapTo(mempoolCfg); err != nil {
		return nil, err
	}
	return mempoolCfg, nil
}

func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	pipeCfg := &PipelineConfig{
		MaxFutureSlots:    2,
		MaxStaleSlots:     10000,
		OrphanLimit:       256,
		OrphanTTLSeconds:  300,
		ValidationWorkers: 4,
	}
	if err := cfg.Section("pipeline").MapTo(pipeCfg); err != nil {
		return nil, err
	}
	return pipeCfg, nil
}

func LoadLeadershipConfig(path string) (*LeadershipConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	leadCfg := &LeadershipConfig{BatchSize: 500}
	if err := cfg.Section("leadership").MapTo(leadCfg); err != nil {
		return nil, err
	}
	return leadCfg, nil
}
