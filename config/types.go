package config

// Config is the node configuration, persisted as JSON in the node home.
type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome string `json:"node_home"` // Node home directory (default: ~/.hmsc)

	// Websocket listener
	ListenAddress string `json:"listen_address"` // host:port the websocket server binds (default: 0.0.0.0:8443)
	PublicHost    string `json:"public_host"`    // Hostname advertised in connection strings; empty means the listen address

	// Query Server Config
	QueryServerPort int `json:"query_server_port"` // Port for the HTTP query server (default: 8080)

	// Session configuration
	SessionTimeoutSeconds int `json:"session_timeout_seconds"` // Idle session expiry (default: 1800)
	GracePeriodSeconds    int `json:"grace_period_seconds"`    // Terminal session retention before reclaim (default: 300)
	SweepIntervalSeconds  int `json:"sweep_interval_seconds"`  // Expiry sweeper period (default: 60)
	PinLength             int `json:"pin_length"`              // Generated pin length (default: 6)

	// Archive configuration
	ArchiveEnabled bool   `json:"archive_enabled"` // Persist terminal sessions to SQLite
	ArchiveDir     string `json:"archive_dir"`     // Archive directory (default: <NodeHome>/data)

	// Chain adapter configuration
	ChainNetwork     string `json:"chain_network"`      // "localnet", "testnet", or "mainnet"
	OperatorID       string `json:"operator_id"`        // Paying account for submissions, e.g. 0.0.1001
	MinNodeAccounts  int    `json:"min_node_accounts"`  // Smallest node list accepted in a frozen transaction
	SubmitTimeoutSec int    `json:"submit_timeout_sec"` // Per-attempt submission timeout (default: 10)
}
