package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	Addr          string   `yaml:"addr"` // Used for single node or as one of sentinel's addrs (though sentinel_addrs is preferred for sentinels)
	Password      string   `yaml:"password,omitempty"`
	DB            int      `yaml:"db,omitempty"`
	MasterName    string   `yaml:"master_name,omitempty"`    // For Sentinel
	SentinelAddrs []string `yaml:"sentinel_addrs,omitempty"` // For Sentinel: list of "host:port"
}

type MongoConfig struct {
	URI              string   `yaml:"uri"`             // Primary connection string, can contain all options
	Hosts            []string `yaml:"hosts,omitempty"` // Alternative: list of "host:port" for mongos or replica set members
	ReplicaSet       string   `yaml:"replica_set,omitempty"`
	Username         string   `yaml:"username,omitempty"`
	Password         string   `yaml:"password,omitempty"`    // Consider using a more secure way to handle passwords in real deployments
	AuthSource       string   `yaml:"auth_source,omitempty"` // e.g., "admin" or the database name
	Database         string   `yaml:"database"`              // The default database to use
	Collection       string   `yaml:"collection"`            // Default collection (current design of NewMongoClient uses this)
	ConnectTimeoutMS int64    `yaml:"connect_timeout_ms,omitempty"`
	MaxPoolSize      uint64   `yaml:"max_pool_size,omitempty"`
}

type ConsulConfig struct {
	Addr string `yaml:"addr"`
}

type NSQConfig struct {
	NSQDAddr                string   `yaml:"nsqd_addr,omitempty"`                 // Kept for single-node setup or fallback
	NSQDAddresses           []string `yaml:"nsqd_addresses,omitempty"`            // For producer to connect to a list of nsqd instances
	NSQLookupdHTTPAddresses []string `yaml:"nsqlookupd_http_addresses,omitempty"` // For consumers and optionally for producers to discover nsqds
	Topic                   string   `yaml:"topic,omitempty"`                     // Default topic
	Channel                 string   `yaml:"channel,omitempty"`                   // Default channel for consumers
}

// ActorConfig carries the Framework construction knobs spec.md section 6
// exposes as configuration: worker thread bounds, actor/receiver capacity,
// and the caching allocator's pool sizing. It mirrors framework.Config's
// shape so a deployment can supply Framework knobs from the same YAML file
// as its Redis/Mongo/Consul/NSQ settings.
type ActorConfig struct {
	InitialThreadCount     int  `yaml:"initial_thread_count"`
	MaxThreadsPerFramework int  `yaml:"max_threads_per_framework"`
	MaxActors              int  `yaml:"max_actors,omitempty"`
	MaxReceivers           int  `yaml:"max_receivers,omitempty"`
	MaxPools               int  `yaml:"max_pools,omitempty"`
	MaxBlocks              int  `yaml:"max_blocks,omitempty"`
	Debug                  bool `yaml:"debug,omitempty"`
}

type ServerConfig struct {
	Redis  RedisConfig  `yaml:"redis"`
	Mongo  MongoConfig  `yaml:"mongo"`
	Consul ConsulConfig `yaml:"consul"`
	NSQ    NSQConfig    `yaml:"nsq"`
	Server ServerInfo   `yaml:"server"`
	Actor  ActorConfig  `yaml:"actor"`
}

// ServerInfo holds the address fields one running Theron process needs:
// where it listens for foreign envelope delivery and how it identifies
// itself within the packed Address space (spec.md section 3).
type ServerInfo struct {
	Host           string `yaml:"host"`
	ListenPort     int    `yaml:"listen_port"`
	FrameworkIndex int    `yaml:"framework_index"`
	ProcessID      int    `yaml:"process_id"`
}

var serverConfigInstance *ServerConfig

// GetServerConfig lazily loads and caches the process's config file, the
// same singleton-with-panic-on-failure shape the teacher's server binaries
// use to bootstrap before touching Redis/Mongo/Consul/NSQ.
func GetServerConfig() *ServerConfig {
	if serverConfigInstance == nil {
		var err error
		serverConfigInstance, err = loadConfig("config/server.yaml")
		if err != nil {
			panic(fmt.Sprintf("Failed to load server config: %v", err))
		}
	}
	return serverConfigInstance
}

func loadConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg ServerConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data from %s: %w", path, err)
	}

	return &cfg, nil
}
