// Package config 加载 vmpool 的配置
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，例如 VMPOOL_DATABASE、VMPOOL_SSH_USER
const EnvPrefix = "VMPOOL"

type Config struct {
	// Database 是 SQLite 数据库文件路径
	// 默认：~/.local/share/vmpool/vm.db
	Database string `mapstructure:"database" yaml:"database"`

	// Address 是 HTTP API 监听地址
	Address string `mapstructure:"address" yaml:"address"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// NamePrefix 会加在所有新建机器名前面
	NamePrefix string `mapstructure:"name_prefix" yaml:"name_prefix"`

	// MachineLifetime 非 READY 机器超过该时长会被回收，同样用于旧快照镜像
	MachineLifetime time.Duration `mapstructure:"machine_lifetime" yaml:"machine_lifetime"`
	// AbandonTimeout BUILDING 状态超过该时长视为失败
	AbandonTimeout time.Duration `mapstructure:"abandon_timeout" yaml:"abandon_timeout"`
	// PollInterval 启动后轮询机器状态的间隔
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// MaxQueryErrors 提供商连续返回非 BUILD 状态的次数上限
	MaxQueryErrors int `mapstructure:"max_query_errors" yaml:"max_query_errors"`

	// serve 模式下各个循环的间隔
	LaunchInterval time.Duration `mapstructure:"launch_interval" yaml:"launch_interval"`
	ReapInterval   time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
	CheckInterval  time.Duration `mapstructure:"check_interval" yaml:"check_interval"`

	// ReadyThreshold READY 机器数量低于该值时 status --threshold 失败
	ReadyThreshold int `mapstructure:"ready_threshold" yaml:"ready_threshold"`

	SSH       SSHConfig        `mapstructure:"ssh" yaml:"ssh"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler" yaml:"scheduler"`
	Snapshot  SnapshotConfig   `mapstructure:"snapshot" yaml:"snapshot"`
	Providers []ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

// SSHConfig 可达性探测和远程执行使用的 SSH 参数
type SSHConfig struct {
	User           string        `mapstructure:"user" yaml:"user"`
	PrivateKeyFile string        `mapstructure:"private_key_file" yaml:"private_key_file"`
	PublicKeyFile  string        `mapstructure:"public_key_file" yaml:"public_key_file"`
	Port           int           `mapstructure:"port" yaml:"port"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SchedulerConfig CI 调度器（Jenkins）连接参数，URL 为空时不与调度器交互
type SchedulerConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	User     string `mapstructure:"user" yaml:"user"`
	APIToken string `mapstructure:"api_token" yaml:"api_token"`
	// Credentials 注册节点时使用的 SSH 凭据 ID
	Credentials string `mapstructure:"credentials" yaml:"credentials"`
	Labels      string `mapstructure:"labels" yaml:"labels"`
}

// SnapshotConfig 快照镜像构建参数
type SnapshotConfig struct {
	BuildTimeout time.Duration `mapstructure:"build_timeout" yaml:"build_timeout"`
	// Commands 在模板机器上依次执行的命令
	Commands []string `mapstructure:"commands" yaml:"commands"`
}

// ProviderConfig 一个云提供商
type ProviderConfig struct {
	Name           string            `mapstructure:"name" yaml:"name"`
	Driver         string            `mapstructure:"driver" yaml:"driver"`
	MaxServers     int               `mapstructure:"max_servers" yaml:"max_servers"`
	Giftable       bool              `mapstructure:"giftable" yaml:"giftable"`
	AuthURL        string            `mapstructure:"auth_url" yaml:"auth_url"`
	Username       string            `mapstructure:"username" yaml:"username"`
	Password       string            `mapstructure:"password" yaml:"password"`
	ProjectName    string            `mapstructure:"project_name" yaml:"project_name"`
	DomainName     string            `mapstructure:"domain_name" yaml:"domain_name"`
	Region         string            `mapstructure:"region" yaml:"region"`
	Endpoint       string            `mapstructure:"endpoint" yaml:"endpoint"`
	Network        string            `mapstructure:"network" yaml:"network"`
	FloatingIPPool string            `mapstructure:"floating_ip_pool" yaml:"floating_ip_pool"`
	KeypairName    string            `mapstructure:"keypair_name" yaml:"keypair_name"`
	BaseImages     []BaseImageConfig `mapstructure:"base_images" yaml:"base_images"`
}

// BaseImageConfig Provider 下的一种机器类型
type BaseImageConfig struct {
	Name       string `mapstructure:"name" yaml:"name"`
	ExternalID string `mapstructure:"external_id" yaml:"external_id"`
	MinReady   int    `mapstructure:"min_ready" yaml:"min_ready"`
	MinRAM     int    `mapstructure:"min_ram" yaml:"min_ram"`
}

// Load 读取配置文件（可为空），叠加 VMPOOL_ 前缀的环境变量和默认值
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", defaultDatabase())
	v.SetDefault("address", "0.0.0.0:7778")
	v.SetDefault("log_level", "info")
	v.SetDefault("name_prefix", "")
	v.SetDefault("machine_lifetime", 24*time.Hour)
	v.SetDefault("abandon_timeout", 900*time.Second)
	v.SetDefault("poll_interval", 3*time.Second)
	v.SetDefault("max_query_errors", 5)
	v.SetDefault("launch_interval", time.Minute)
	v.SetDefault("reap_interval", 5*time.Minute)
	v.SetDefault("check_interval", 10*time.Minute)
	v.SetDefault("ready_threshold", 0)

	v.SetDefault("ssh.user", "jenkins")
	v.SetDefault("ssh.private_key_file", defaultKeyFile("id_rsa"))
	v.SetDefault("ssh.public_key_file", defaultKeyFile("id_rsa.pub"))
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.timeout", 10*time.Second)

	v.SetDefault("scheduler.url", "")
	v.SetDefault("scheduler.user", "")
	v.SetDefault("scheduler.api_token", "")
	v.SetDefault("scheduler.credentials", "")
	v.SetDefault("scheduler.labels", "")

	v.SetDefault("snapshot.build_timeout", time.Hour)
}

// defaultDatabase 获取默认数据库路径
func defaultDatabase() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "vmpool", "vm.db")
	}
	return filepath.Join(".", "data", "vm.db")
}

func defaultKeyFile(name string) string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ssh", name)
	}
	return ""
}

func (c *Config) applyProviderDefaults() {
	for i := range c.Providers {
		if c.Providers[i].Driver == "" {
			c.Providers[i].Driver = "openstack"
		}
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.MaxQueryErrors <= 0 {
		errs = append(errs, errors.New("max_query_errors must be positive"))
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"poll_interval", c.PollInterval},
		{"machine_lifetime", c.MachineLifetime},
		{"abandon_timeout", c.AbandonTimeout},
		{"launch_interval", c.LaunchInterval},
		{"reap_interval", c.ReapInterval},
		{"check_interval", c.CheckInterval},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
		}
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, errors.New("provider name is required"))
			continue
		}
		if _, dup := seen[p.Name]; dup {
			errs = append(errs, fmt.Errorf("provider %q defined more than once", p.Name))
		}
		seen[p.Name] = struct{}{}

		switch p.Driver {
		case "openstack", "libvirt":
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown driver %q", p.Name, p.Driver))
		}
		if p.MaxServers < 0 {
			errs = append(errs, fmt.Errorf("provider %q: max_servers must not be negative", p.Name))
		}

		images := make(map[string]struct{}, len(p.BaseImages))
		for _, img := range p.BaseImages {
			if img.Name == "" {
				errs = append(errs, fmt.Errorf("provider %q: base image name is required", p.Name))
				continue
			}
			if _, dup := images[img.Name]; dup {
				errs = append(errs, fmt.Errorf("provider %q: base image %q defined more than once", p.Name, img.Name))
			}
			images[img.Name] = struct{}{}
			if img.MinReady < 0 {
				errs = append(errs, fmt.Errorf("provider %q: base image %q: min_ready must not be negative", p.Name, img.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// Provider 按名称查找 Provider 配置
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// Dump 以 YAML 输出生效的配置，密码和令牌被隐藏
func (c *Config) Dump(w io.Writer) error {
	masked := *c
	masked.Scheduler.APIToken = mask(c.Scheduler.APIToken)
	masked.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.Password = mask(p.Password)
		masked.Providers[i] = p
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "******"
}
