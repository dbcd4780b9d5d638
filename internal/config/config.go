package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the router/worker configuration loaded from a YAML file.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Cluster ClusterConfig `yaml:"cluster"`
	Worker  WorkerConfig  `yaml:"worker"`
	Admin   AdminConfig   `yaml:"admin"`
	LogDir  string        `yaml:"logDir"`

	path string
}

// ListenConfig describes the downstream-facing accept socket.
type ListenConfig struct {
	Addr           string `yaml:"addr"`
	RateLimitPerIP int    `yaml:"rateLimitPerIP"`
	RateLimitBurst int    `yaml:"rateLimitBurst"`
}

// ClusterConfig mirrors the upstream Redis-cluster router settings.
type ClusterConfig struct {
	SeedAddresses      []string `yaml:"seedAddresses"`
	WithSSL            bool     `yaml:"withSsl"`
	Pipeline           bool     `yaml:"pipeline"`
	EnableReadonly     bool     `yaml:"enableReadonly"`
	TimeoutSeconds     float64  `yaml:"timeoutSeconds"`
	AuthPassword       string   `yaml:"authPassword"`
	HealthCheckSeconds float64  `yaml:"healthCheckSeconds"`
	TopologyRefreshSec float64  `yaml:"topologyRefreshSeconds"`
	MaxRedirects       int      `yaml:"maxRedirects"`
}

// WorkerConfig controls the reactor pool.
type WorkerConfig struct {
	Count           int    `yaml:"count"`
	AssignmentMode  string `yaml:"assignmentMode"` // "roundrobin" or "hash"
	ReceiveBufBytes int    `yaml:"receiveBufBytes"`
}

// AdminConfig controls the stdlib net/http observability surface.
type AdminConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// ValidationError collects configuration issues found during Validate.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	builder := strings.Builder{}
	builder.WriteString("配置校验失败:")
	if e.Path != "" {
		builder.WriteString(" ")
		builder.WriteString(e.Path)
	}
	for _, err := range e.Errors {
		builder.WriteString("\n - ")
		builder.WriteString(err)
	}
	return builder.String()
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("配置文件路径为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("无法打开配置文件 %s: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 失败: %w", err)
	}

	cfg.path = absPath
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults populates default values for fields left unset.
func (c *Config) ApplyDefaults() {
	if c.Listen.Addr == "" {
		c.Listen.Addr = ":6380"
	}
	if c.Listen.RateLimitPerIP <= 0 {
		c.Listen.RateLimitPerIP = 100
	}
	if c.Listen.RateLimitBurst <= 0 {
		c.Listen.RateLimitBurst = 200
	}
	if c.Cluster.TimeoutSeconds <= 0 {
		c.Cluster.TimeoutSeconds = 7
	}
	if c.Cluster.HealthCheckSeconds <= 0 {
		c.Cluster.HealthCheckSeconds = 1
	}
	if c.Cluster.TopologyRefreshSec <= 0 {
		c.Cluster.TopologyRefreshSec = 10
	}
	if c.Cluster.MaxRedirects <= 0 {
		c.Cluster.MaxRedirects = 5
	}
	if c.Worker.Count <= 0 {
		c.Worker.Count = 4
	}
	if c.Worker.AssignmentMode == "" {
		c.Worker.AssignmentMode = "roundrobin"
	}
	if c.Worker.ReceiveBufBytes <= 0 {
		c.Worker.ReceiveBufBytes = 128 * 1024 * 1024
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":16380"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
}

// Validate ensures the config is internally consistent and usable.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Cluster.SeedAddresses) == 0 {
		errs = append(errs, "cluster.seedAddresses 必填，至少一个发现种子")
	}
	if c.Cluster.TimeoutSeconds <= 0 {
		errs = append(errs, "cluster.timeoutSeconds 必须 > 0")
	}
	if c.Cluster.MaxRedirects <= 0 {
		errs = append(errs, "cluster.maxRedirects 必须 > 0")
	}
	if c.Worker.Count <= 0 {
		errs = append(errs, "worker.count 必须 > 0")
	}
	mode := strings.ToLower(c.Worker.AssignmentMode)
	if mode != "roundrobin" && mode != "hash" {
		errs = append(errs, "worker.assignmentMode 仅支持 roundrobin 或 hash")
	}
	if c.Listen.Addr == "" {
		errs = append(errs, "listen.addr 必填")
	}

	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

// Timeout returns the per-step deadline as a time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Cluster.TimeoutSeconds * float64(time.Second))
}

// HealthCheckInterval returns the periodic health-check tick.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Cluster.HealthCheckSeconds * float64(time.Second))
}

// TopologyRefreshInterval returns cluster.topologyRefreshSeconds as a
// duration. cmd/shardgate uses it as each worker's dead-connection
// window; no periodic CLUSTER SLOTS refresh runs on this interval.
func (c *Config) TopologyRefreshInterval() time.Duration {
	return time.Duration(c.Cluster.TopologyRefreshSec * float64(time.Second))
}

// ConfigDir returns the directory the config file was loaded from.
func (c *Config) ConfigDir() string {
	return filepath.Dir(c.path)
}

// ResolvePath resolves a path relative to the config file location.
func (c *Config) ResolvePath(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(c.ConfigDir(), path))
}

// Summary returns a concise one-line overview, useful for startup logs.
func (c *Config) Summary() string {
	return fmt.Sprintf("listen=%s, seeds=%v, withSsl=%t, pipeline=%t, enableReadonly=%t, timeout=%.1fs, workers=%d(%s), admin=%s",
		c.Listen.Addr, c.Cluster.SeedAddresses, c.Cluster.WithSSL, c.Cluster.Pipeline,
		c.Cluster.EnableReadonly, c.Cluster.TimeoutSeconds, c.Worker.Count, c.Worker.AssignmentMode, c.Admin.Addr)
}

// PrettySummary returns a multi-line human-readable summary.
func (c *Config) PrettySummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "  🔌 listen  : %s (rateLimit=%d/%d)\n", c.Listen.Addr, c.Listen.RateLimitPerIP, c.Listen.RateLimitBurst)
	fmt.Fprintf(&b, "  🧩 cluster : seeds=%v ssl=%t pipeline=%t readonly=%t timeout=%.1fs\n",
		c.Cluster.SeedAddresses, c.Cluster.WithSSL, c.Cluster.Pipeline, c.Cluster.EnableReadonly, c.Cluster.TimeoutSeconds)
	fmt.Fprintf(&b, "  ⚙️ worker  : count=%d mode=%s recvBuf=%d\n", c.Worker.Count, c.Worker.AssignmentMode, c.Worker.ReceiveBufBytes)
	fmt.Fprintf(&b, "  📊 admin   : %s enabled=%t\n", c.Admin.Addr, c.Admin.Enabled)
	fmt.Fprintf(&b, "  📝 logDir  : %s", c.LogDir)
	return b.String()
}
