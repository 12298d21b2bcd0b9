/**
 * Uthernet II 卡配置管理
 * @description: 加载并校验卡实例的可调参数（槽位、日志、指标、超时、虚拟网络常量）
 */
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 是构造一张 Card 所需的完整配置。
type Config struct {
	// Slot 配置
	Slot *SlotConfig `yaml:"slot" mapstructure:"slot"`

	// 日志配置
	Log *LogConfig `yaml:"log" mapstructure:"log"`

	// 指标配置
	Metrics *MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// 超时配置（spec.md §5/§9 命名的有界等待常量）
	Timeouts *TimeoutConfig `yaml:"timeouts" mapstructure:"timeouts"`

	// 虚拟网络配置（spec.md §3 的常量，此处结构化以便测试覆盖）
	Network *NetworkConfig `yaml:"network" mapstructure:"network"`
}

// SlotConfig 描述卡所占用的 Apple II 扩展槽。
type SlotConfig struct {
	Number int `yaml:"number" mapstructure:"number"` // 槽位号，默认 3
}

// LogConfig 日志配置，沿用 teacher 仓库 LoggerManager 所期望的形状。
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`           // 日志级别 (debug/info/warn/error)
	Format     string `yaml:"format" mapstructure:"format"`         // 日志格式 (json/text)
	Output     string `yaml:"output" mapstructure:"output"`         // 日志输出 (stdout/stderr/file)
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`   // 日志文件路径（output=file 时必填）
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`     // 单文件最大体积（MB）
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 保留的备份数
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`       // 保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`     // 是否压缩轮转文件
	Caller     bool   `yaml:"caller" mapstructure:"caller"`         // 是否记录调用位置
}

// MetricsConfig 控制 Prometheus 指标导出。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"` // 形如 "127.0.0.1:9107"
	Path    string `yaml:"path" mapstructure:"path"`     // 默认 "/metrics"
}

// TimeoutConfig 持有 spec.md §5/§9 中点名的有界等待常量，便于测试替换更短的值。
type TimeoutConfig struct {
	ConnectWaitMillis    int `yaml:"connect_wait_millis" mapstructure:"connect_wait_millis"`       // CONNECT 完成等待，默认 100ms
	SendDrainPollMillis  int `yaml:"send_drain_poll_millis" mapstructure:"send_drain_poll_millis"` // SEND 后轮询回包，默认 50ms
}

// NetworkConfig 是 spec.md §3 虚拟网络常量的结构化形式。
type NetworkConfig struct {
	ClientIP    string `yaml:"client_ip" mapstructure:"client_ip"`       // 192.168.65.100
	GatewayIP   string `yaml:"gateway_ip" mapstructure:"gateway_ip"`     // 192.168.65.1
	DNS         string `yaml:"dns" mapstructure:"dns"`                   // 8.8.8.8
	Subnet      string `yaml:"subnet" mapstructure:"subnet"`             // 255.255.255.0
	GatewayMAC  string `yaml:"gateway_mac" mapstructure:"gateway_mac"`   // 02:00:DE:AD:BE:01
	DefaultMAC  string `yaml:"default_mac" mapstructure:"default_mac"`  // 02:00:DE:AD:BE:EF (SHAR 默认值)
	LeaseSecs   int    `yaml:"lease_secs" mapstructure:"lease_secs"`     // DHCP 租约秒数，默认 86400
	RedirectNets []string `yaml:"redirect_nets" mapstructure:"redirect_nets"` // CONNECT 时改写到 127.0.0.1 的网段
}

// Default 返回 spec.md 文档化默认值构成的配置，调用方无需任何文件即可直接使用。
func Default() *Config {
	return &Config{
		Slot: &SlotConfig{Number: 3},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: &MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9107",
			Path:    "/metrics",
		},
		Timeouts: &TimeoutConfig{
			ConnectWaitMillis:   100,
			SendDrainPollMillis: 50,
		},
		Network: &NetworkConfig{
			ClientIP:     "192.168.65.100",
			GatewayIP:    "192.168.65.1",
			DNS:          "8.8.8.8",
			Subnet:       "255.255.255.0",
			GatewayMAC:   "02:00:DE:AD:BE:01",
			DefaultMAC:   "02:00:DE:AD:BE:EF",
			LeaseSecs:    86400,
			RedirectNets: []string{"192.168.64.0/24", "192.168.65.0/24"},
		},
	}
}

// LoadConfig 加载配置：从 configPath（若非空）或默认搜索路径读取 YAML，
// 环境变量覆盖同名字段，缺失字段回落到 Default()。
func LoadConfig(configPath string) (*Config, error) {
	loader := NewConfigLoader(configPath, "UTHERNET2")
	cfg, err := loader.LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validateConfig 校验配置值是否落在合理范围内。
func validateConfig(cfg *Config) error {
	if cfg.Slot.Number < 0 || cfg.Slot.Number > 7 {
		return fmt.Errorf("invalid slot number: %d", cfg.Slot.Number)
	}

	if cfg.Timeouts.ConnectWaitMillis <= 0 {
		return fmt.Errorf("invalid connect_wait_millis: %d", cfg.Timeouts.ConnectWaitMillis)
	}

	if cfg.Timeouts.SendDrainPollMillis <= 0 {
		return fmt.Errorf("invalid send_drain_poll_millis: %d", cfg.Timeouts.SendDrainPollMillis)
	}

	for _, field := range []string{cfg.Network.ClientIP, cfg.Network.GatewayIP, cfg.Network.DNS, cfg.Network.Subnet} {
		if net.ParseIP(field) == nil {
			return fmt.Errorf("invalid IPv4 address in network config: %q", field)
		}
	}

	if _, err := net.ParseMAC(cfg.Network.GatewayMAC); err != nil {
		return fmt.Errorf("invalid gateway MAC: %w", err)
	}

	if _, err := net.ParseMAC(cfg.Network.DefaultMAC); err != nil {
		return fmt.Errorf("invalid default MAC: %w", err)
	}

	for _, cidr := range cfg.Network.RedirectNets {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid redirect network %q: %w", cidr, err)
		}
	}

	return nil
}

// WriteConfig marshals cfg as YAML and writes it to path, so a
// resolved configuration (defaults plus any overrides) can be saved as
// a starting point for a file the loader will pick up next run.
func WriteConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// 便于命令行/测试快速拿到单例，而不强制所有调用方走文件加载路径。
var globalConfig *Config

// GetConfig 返回一个懒加载的全局配置；找不到配置文件时回落到 Default()。
func GetConfig() *Config {
	if globalConfig == nil {
		cfg, err := LoadConfig("")
		if err != nil {
			globalConfig = Default()
		} else {
			globalConfig = cfg
		}
	}
	return globalConfig
}

// EnvOverride 应用少量高频覆盖的环境变量，独立于 viper 的自动绑定，
// 便于在不生成配置文件的容器/CI环境中直接调参。
func EnvOverride(cfg *Config) {
	if v := os.Getenv("UTHERNET2_SLOT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Slot.Number = n
		}
	}
	if v := os.Getenv("UTHERNET2_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
