// Package config defines the YAML-driven tunables for a NakWindow
// deployment: window/table sizing, retransmit scheduling, router-stub
// endpoints, and the ambient logging/metrics/tracing stack.
package config

import "time"

// Config is the top-level configuration for a nakwindow process.
type Config struct {
	Window      WindowConfig      `yaml:"Window"`
	RouterStubs RouterStubsConfig `yaml:"RouterStubs"`
	Log         LogConfig         `yaml:"Log"`
	Metrics     MetricsConfig     `yaml:"Metrics"`
	Tracing     TracingConfig     `yaml:"Tracing"`
}

// WindowConfig tunes a NakWindow's backing RetransmitTable and
// Retransmitter.
type WindowConfig struct {
	RetransmitterKind     string        `yaml:"RetransmitterKind"` // "default" or "range_based"
	SchedulerWorkers      int           `yaml:"SchedulerWorkers"`
	NumRows               int           `yaml:"NumRows"`
	MsgsPerRow            int           `yaml:"MsgsPerRow"`
	ResizeFactor          float64       `yaml:"ResizeFactor"`
	AutomaticPurging      bool          `yaml:"AutomaticPurging"`
	MaxCompactionTime     time.Duration `yaml:"MaxCompactionTime"`
	RetransmitIntervalsMs []int         `yaml:"RetransmitIntervalsMs"`
}

// RouterStubsConfig lists the external routers a process bootstraps
// through and the reconnect/ping cadence for them.
type RouterStubsConfig struct {
	Enable       bool               `yaml:"Enable"`
	Interval     time.Duration      `yaml:"Interval"`
	Endpoints    []RouterEndpoint   `yaml:"Endpoints"`
	ResolverEtcd EtcdResolverConfig `yaml:"ResolverEtcd"`
}

// RouterEndpoint identifies one router stub to connect through.
type RouterEndpoint struct {
	Host           string `yaml:"Host"`
	Port           int    `yaml:"Port"`
	BindAddr       string `yaml:"BindAddr"`
	LogicalName    string `yaml:"LogicalName"`
	LogicalAddress string `yaml:"LogicalAddress"`
}

// EtcdResolverConfig configures GET_PHYSICAL_ADDRESS resolution.
type EtcdResolverConfig struct {
	Endpoints   []string      `yaml:"Endpoints"`
	DialTimeout time.Duration `yaml:"DialTimeout"`
	KeyPrefix   string        `yaml:"KeyPrefix"`
}

// LogConfig controls the zap logger's level and encoding.
type LogConfig struct {
	Level  string `yaml:"Level"`  // debug, info, warn, error
	Format string `yaml:"Format"` // json, console
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enable bool   `yaml:"Enable"`
	Host   string `yaml:"Host"`
	Port   int    `yaml:"Port"`
	Path   string `yaml:"Path"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enable       bool    `yaml:"Enable"`
	ServiceName  string  `yaml:"ServiceName"`
	Endpoint     string  `yaml:"Endpoint"`
	Exporter     string  `yaml:"Exporter"` // stdout, otlphttp
	SampleRate   float64 `yaml:"SampleRate"`
	Environment  string  `yaml:"Environment"`
	BatchTimeout int     `yaml:"BatchTimeout"`
	MaxQueueSize int     `yaml:"MaxQueueSize"`
}

// DefaultConfig returns the configuration a fresh deployment starts
// from.
func DefaultConfig() *Config {
	return &Config{
		Window: WindowConfig{
			RetransmitterKind:     "default",
			SchedulerWorkers:      4,
			NumRows:               16,
			MsgsPerRow:            64,
			ResizeFactor:          1.2,
			AutomaticPurging:      true,
			MaxCompactionTime:     30 * time.Second,
			RetransmitIntervalsMs: []int{600, 1200, 2400, 4800},
		},
		RouterStubs: RouterStubsConfig{
			Enable:   false,
			Interval: 5 * time.Second,
			ResolverEtcd: EtcdResolverConfig{
				Endpoints:   []string{"127.0.0.1:2379"},
				DialTimeout: 5 * time.Second,
				KeyPrefix:   "/nakwindow/routers/",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enable: true,
			Host:   "0.0.0.0",
			Port:   9102,
			Path:   "/metrics",
		},
		Tracing: TracingConfig{
			Enable:       false,
			ServiceName:  "nakwindow",
			Endpoint:     "http://localhost:4318/v1/traces",
			Exporter:     "stdout",
			SampleRate:   1.0,
			Environment:  "development",
			BatchTimeout: 5,
			MaxQueueSize: 2048,
		},
	}
}

// RetransmitIntervals converts the configured millisecond schedule into
// time.Durations.
func (w WindowConfig) RetransmitIntervals() []time.Duration {
	if len(w.RetransmitIntervalsMs) == 0 {
		return nil
	}
	out := make([]time.Duration, len(w.RetransmitIntervalsMs))
	for i, ms := range w.RetransmitIntervalsMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}
