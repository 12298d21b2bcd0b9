package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ConfigLoader 基于 viper 的配置加载器：文件 + 环境变量 + 默认值。
type ConfigLoader struct {
	configPath string
	envPrefix  string
	viper      *viper.Viper
}

// NewConfigLoader 创建配置加载器。
func NewConfigLoader(configPath, envPrefix string) *ConfigLoader {
	if envPrefix == "" {
		envPrefix = "UTHERNET2"
	}

	return &ConfigLoader{
		configPath: configPath,
		envPrefix:  envPrefix,
		viper:      viper.New(),
	}
}

// LoadConfig 加载配置；若找不到配置文件则静默回落到默认值（卡不要求必须有配置文件）。
func (cl *ConfigLoader) LoadConfig() (*Config, error) {
	cl.viper.SetConfigType("yaml")
	cl.viper.SetEnvPrefix(cl.envPrefix)
	cl.viper.AutomaticEnv()
	cl.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cl.setDefaults()

	if err := cl.loadConfigFile(); err != nil {
		// 没有配置文件不是致命错误：卡始终能用 Default() 跑起来。
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	var cfg Config
	if err := cl.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// loadConfigFile 在显式路径或默认搜索路径中查找 config.yaml。
func (cl *ConfigLoader) loadConfigFile() error {
	if cl.configPath != "" {
		cl.viper.SetConfigFile(cl.configPath)
		return cl.viper.ReadInConfig()
	}

	cl.viper.AddConfigPath("configs")
	cl.viper.AddConfigPath(".")
	cl.viper.SetConfigName("config")

	if err := cl.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return os.ErrNotExist
		}
		return err
	}
	return nil
}

// setDefaults 把 Default() 中的值登记为 viper 默认值，这样部分覆盖的
// 配置文件不会把未提及的字段清零。
func (cl *ConfigLoader) setDefaults() {
	d := Default()

	cl.viper.SetDefault("slot.number", d.Slot.Number)

	cl.viper.SetDefault("log.level", d.Log.Level)
	cl.viper.SetDefault("log.format", d.Log.Format)
	cl.viper.SetDefault("log.output", d.Log.Output)
	cl.viper.SetDefault("log.max_size", 100)
	cl.viper.SetDefault("log.max_backups", 3)
	cl.viper.SetDefault("log.max_age", 28)
	cl.viper.SetDefault("log.compress", true)
	cl.viper.SetDefault("log.caller", false)

	cl.viper.SetDefault("metrics.enabled", d.Metrics.Enabled)
	cl.viper.SetDefault("metrics.listen", d.Metrics.Listen)
	cl.viper.SetDefault("metrics.path", d.Metrics.Path)

	cl.viper.SetDefault("timeouts.connect_wait_millis", d.Timeouts.ConnectWaitMillis)
	cl.viper.SetDefault("timeouts.send_drain_poll_millis", d.Timeouts.SendDrainPollMillis)

	cl.viper.SetDefault("network.client_ip", d.Network.ClientIP)
	cl.viper.SetDefault("network.gateway_ip", d.Network.GatewayIP)
	cl.viper.SetDefault("network.dns", d.Network.DNS)
	cl.viper.SetDefault("network.subnet", d.Network.Subnet)
	cl.viper.SetDefault("network.gateway_mac", d.Network.GatewayMAC)
	cl.viper.SetDefault("network.default_mac", d.Network.DefaultMAC)
	cl.viper.SetDefault("network.lease_secs", d.Network.LeaseSecs)
	cl.viper.SetDefault("network.redirect_nets", d.Network.RedirectNets)
}
