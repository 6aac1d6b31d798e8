// Package config defines the on-disk configuration for a unicast
// engine instance, loaded with go-zero's conf.MustLoad the way the
// teacher's internal/gateway/config.Config is, generalized from a REST
// gateway's config shape (rest.RestConf + sub-configs) down to the
// listen/timeout/membership/observability knobs this protocol needs.
package config

// Config is the root configuration loaded from YAML or JSON.
type Config struct {
	// Listen is the local UDP address the engine binds to.
	Listen string `json:",default=0.0.0.0:7800"`

	// Reliability holds the send/receive window tuning knobs (spec §4.1/§4.4).
	Reliability ReliabilityConfig `json:",optional"`

	Log     LogConfig     `json:",optional"`
	Etcd    EtcdConfig    `json:",optional"`
	Metrics MetricsConfig `json:",optional"`
	Tracing TracingConfig `json:",optional"`
}

// ReliabilityConfig configures retransmission, age-out, and loopback behavior.
type ReliabilityConfig struct {
	// TimeoutsMs is the retransmit backoff list in milliseconds,
	// defaulting to spec §4.1's {400, 800, 1600, 3200}.
	TimeoutsMs []int64 `json:",default=[400,800,1600,3200]"`

	// AgeOutTimeoutMs is spec §4.1's max_retransmit_time: how long a
	// peer connection may sit idle before the age-out cache evicts it,
	// after which a fresh send starts over at DEFAULT_FIRST_SEQNO under
	// a new conn_id. 0 disables age-out entirely.
	AgeOutTimeoutMs int64 `json:",default=300000"`

	// AgeOutSweepIntervalMs is how often the age-out cache scans for
	// idle peers.
	AgeOutSweepIntervalMs int64 `json:",default=30000"`

	// Loopback is passed through to engine.Config.Loopback for
	// configuration compatibility; the engine never loops a
	// self-addressed send back to its own upcall, whatever its value.
	Loopback bool `json:",default=false"`
}

// LogConfig configures the zap logger (spec §9.1); ServiceName and
// Level match the fields every other teacher component exposes, minus
// the file-rotation knobs that only apply to logx.
type LogConfig struct {
	ServiceName string `json:",default=unicast-engine"`
	Level       string `json:",default=info,options=debug|info|warn|error"`
	Development bool   `json:",default=false"`
}

// EtcdConfig configures the membership watcher.
type EtcdConfig struct {
	Enable      bool     `json:",default=false"`
	Endpoints   []string `json:",default=[127.0.0.1:2379]"`
	DialTimeout int      `json:",default=5"`
	Username    string   `json:",optional"`
	Password    string   `json:",optional"`
	ViewPrefix  string   `json:",default=/unicast/members/"`
}

// MetricsConfig configures the Prometheus exposition.
type MetricsConfig struct {
	Enable    bool   `json:",default=true"`
	Namespace string `json:",default=aetherflow"`
	Subsystem string `json:",default=unicast"`
	Listen    string `json:",default=0.0.0.0:9090"`
}

// TracingConfig mirrors tracing.Config's fields for conf.MustLoad.
type TracingConfig struct {
	Enable       bool    `json:",default=false"`
	ServiceName  string  `json:",default=unicast-engine"`
	Endpoint     string  `json:",default=http://localhost:14268/api/traces"`
	Exporter     string  `json:",default=jaeger,options=jaeger|zipkin"`
	SampleRate   float64 `json:",default=1.0"`
	Environment  string  `json:",default=development"`
	BatchTimeout int     `json:",default=5"`
	MaxQueueSize int     `json:",default=2048"`
}
