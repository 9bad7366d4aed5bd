package config

import "time"

// Config holds all configuration for the fleet dispatcher.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Main    MainConfig    `yaml:"main"`
	Nodes   []NodeConfig  `yaml:"nodes"`
	Channel ChannelConfig `yaml:"channel"`
	Breaker BreakerConfig `yaml:"breaker"`
	Queue   QueueConfig   `yaml:"queue"`
	Catalog CatalogConfig `yaml:"catalog"`
}

// CatalogConfig points at the main core's inbound configuration file.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// MainConfig is the address of the main core the dispatcher connects to at
// start, separate from any remote node.
type MainConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// NodeConfig bootstraps a connection to a remote node at startup. Bootstrapped
// nodes go through the same connectNode path the façade exposes to operators.
type NodeConfig struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	RESTPort int    `yaml:"rest_port"`
	RPCPort  int    `yaml:"rpc_port"`
}

// ChannelConfig governs the RPC channel held open to a single node.
type ChannelConfig struct {
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	CallTimeout           time.Duration `yaml:"call_timeout"`
	TLSRootCert           string        `yaml:"tls_root_cert"`
	TLSServerNameOverride string        `yaml:"tls_server_name_override"`
}

// BreakerConfig configures the per-node circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// QueueConfig configures the deduplicating operation queue.
type QueueConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	MaxWaitTime   time.Duration `yaml:"max_wait_time"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	LogDir     string `yaml:"log_dir"`
	FileOutput bool   `yaml:"file_output"`
	PrettyLogs bool   `yaml:"pretty_logs"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}
