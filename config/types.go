package config

// NodeIdentity represents a node's identity and listen addresses
type NodeIdentity struct {
	PubKey      string `yaml:"pubkey"`
	PrivKeyPath string `yaml:"privkey_path"`
	RPCAddr     string `yaml:"rpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LeaderScheduleEntry assigns a leader to a contiguous absolute slot range
type LeaderScheduleEntry struct {
	StartSlot uint64 `yaml:"start_slot"`
	EndSlot   uint64 `yaml:"end_slot"`
	Leader    string `yaml:"leader"`
}

// GenesisAccount seeds an address with a starting balance at slot 0
type GenesisAccount struct {
	Address string `yaml:"address"`
	Amount  uint64 `yaml:"amount"`
}

// GenesisConfig holds the chain parameters from genesis.yml. Every node on
// the same chain must load an identical copy, only SelfNode differs.
type GenesisConfig struct {
	GenesisTime    string                `yaml:"genesis_time"`
	SlotDurationMs int                   `yaml:"slot_duration_ms"`
	SlotsPerEpoch  uint64                `yaml:"slots_per_epoch"`
	FinalityDepth  uint64                `yaml:"finality_depth"`
	SelfNode       NodeIdentity          `yaml:"self_node"`
	LeaderSchedule []LeaderScheduleEntry `yaml:"leader_schedule"`
	Accounts       []GenesisAccount      `yaml:"accounts"`
}

// ConfigFile is the top-level structure for genesis.yml
type ConfigFile struct {
	Config GenesisConfig `yaml:"config"`
}
