// Package app 提供应用容器，封装所有依赖和服务
package app

import (
	"os"
	"path/filepath"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/relay"
	"github.com/haierkeys/vault-device-sync/internal/service"
	"github.com/haierkeys/vault-device-sync/internal/transport"
	"github.com/haierkeys/vault-device-sync/pkg/storage"
	"github.com/haierkeys/vault-device-sync/pkg/util"
	"github.com/haierkeys/vault-device-sync/pkg/workerpool"
	"github.com/haierkeys/vault-device-sync/pkg/writequeue"

	"github.com/creasty/defaults"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// AppConfig 应用配置
type AppConfig struct {
	File     string         `yaml:"-"` // 配置文件路径，不序列化
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	App      AppSettings    `yaml:"app"`
	Security SecurityConfig `yaml:"security"`
	Sync     SyncConfig     `yaml:"sync"`
	Relay    RelayConfig    `yaml:"relay"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别，参见 zapcore.ParseLevel
	Level string `yaml:"level" default:"warn"`
	// File 日志文件路径，默认为 stderr
	File string `yaml:"file" default:"storage/logs/log.log"`
	// Production 是否启用 JSON 输出
	Production bool `yaml:"production" default:"true"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// RunMode 运行模式
	RunMode string `yaml:"run-mode" default:"release"`
	// HttpPort HTTP 端口
	HttpPort string `yaml:"http-port" default:":9000"`
	// ReadTimeout 读取超时（秒）
	ReadTimeout int `yaml:"read-timeout" default:"60"`
	// WriteTimeout 写入超时（秒）
	WriteTimeout int `yaml:"write-timeout" default:"60"`
	// PrivateHttpListen 私有 HTTP 监听地址
	PrivateHttpListen string `yaml:"private-http-listen" default:":9001"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	// PairToken 设备配对令牌，首次启动时自动生成
	PairToken string `yaml:"pair-token"`
	// RelayTokenKey 中继访问 Token 签名密钥
	RelayTokenKey string `yaml:"relay-token-key" default:"vault-device-sync-Relay-Token"`
	// RelayTokenExpiry 中继访问 Token 过期时间，支持格式：7d（天）、24h（小时）、30m（分钟）
	RelayTokenExpiry string `yaml:"relay-token-expiry" default:"30d"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Type 数据库类型
	Type string `yaml:"type" default:"sqlite"`
	// Path SQLite 数据库文件路径
	Path string `yaml:"path" default:"storage/database/db.sqlite3"`
	// UserName 用户名
	UserName string `yaml:"username"`
	// Password 密码
	Password string `yaml:"password"`
	// Host 主机
	Host string `yaml:"host"`
	// Name 数据库名
	Name string `yaml:"name"`
	// TablePrefix 表前缀
	TablePrefix string `yaml:"table-prefix"`
	// AutoMigrate 是否启用自动迁移
	AutoMigrate bool `yaml:"auto-migrate" default:"true"`
	// Charset 字符集
	Charset string `yaml:"charset"`
	// ParseTime 是否解析时间
	ParseTime bool `yaml:"parse-time"`
	// MaxIdleConns 最大闲置连接数，默认 10
	MaxIdleConns int `yaml:"max-idle-conns" default:"10"`
	// MaxOpenConns 最大打开连接数，默认 100
	MaxOpenConns int `yaml:"max-open-conns" default:"100"`
}

// AppSettings 应用设置
type AppSettings struct {
	// DefaultPageSize 默认页面大小
	DefaultPageSize int `yaml:"default-page-size" default:"10"`
	// MaxPageSize 最大页面大小
	MaxPageSize int `yaml:"max-page-size" default:"100"`
	// DefaultContextTimeout 默认上下文超时时间（秒）
	DefaultContextTimeout int `yaml:"default-context-timeout" default:"60"`

	// Worker Pool 配置
	WorkerPoolMaxWorkers int `yaml:"worker-pool-max-workers" default:"16"`
	WorkerPoolQueueSize  int `yaml:"worker-pool-queue-size" default:"64"`

	// Write Queue 配置
	WriteQueueCapacity int    `yaml:"write-queue-capacity" default:"100"`
	WriteQueueTimeout  string `yaml:"write-queue-timeout" default:"30s"`
	WriteQueueIdleTime string `yaml:"write-queue-idle-time" default:"10m"`
}

// SyncConfig 设备同步配置
type SyncConfig struct {
	// Enabled 同步总开关，关闭后协调器拒绝触发
	Enabled bool `yaml:"enabled" default:"true"`
	// DisplayName 本设备显示名称，空则按主机指纹生成
	DisplayName string `yaml:"display-name"`
	// BatchSize 单批次记录数上限
	BatchSize int `yaml:"batch-size" default:"200"`
	// PendingBufferSize 因果依赖待定缓冲上限
	PendingBufferSize int `yaml:"pending-buffer-size" default:"512"`
	// MaxRetries 瞬时故障最大重试次数
	MaxRetries int `yaml:"max-retries" default:"3"`
	// RetryBackoff 重试退避基数，按尝试次数线性放大
	RetryBackoff string `yaml:"retry-backoff" default:"2s"`
	// Schedule 定时同步的 cron 表达式，空则不启用定时同步
	Schedule string `yaml:"schedule" default:"*/5 * * * *"`
	// CompactionInterval 日志压缩间隔
	CompactionInterval string `yaml:"compaction-interval" default:"24h"`
	// RelayPollInterval 中继信箱轮询间隔
	RelayPollInterval string `yaml:"relay-poll-interval" default:"1m"`
	// ExchangeTimeout 直连传输单次请求超时
	ExchangeTimeout string `yaml:"exchange-timeout" default:"30s"`
}

// RelayConfig 中继配置
// 客户端侧字段供同步节点投递离线批次，服务端侧字段供 relay 子命令使用
type RelayConfig struct {
	// Enabled 是否启用中继投递（客户端侧）
	Enabled bool `yaml:"enabled" default:"false"`
	// Endpoint 中继服务地址
	Endpoint string `yaml:"endpoint"`
	// Token 中继访问令牌
	Token string `yaml:"token"`
	// Timeout 中继请求超时
	Timeout string `yaml:"timeout" default:"30s"`

	// Listen 中继服务监听地址（服务端侧）
	Listen string `yaml:"listen" default:":9100"`
	// MaxBatchBytes 单条消息密文上限
	MaxBatchBytes int `yaml:"max-batch-bytes" default:"4194304"`
	// MaxMailboxMessages 单个收件设备的信箱容量
	MaxMailboxMessages int `yaml:"max-mailbox-messages" default:"256"`
	// Storage 信箱存储后端
	Storage storage.Config `yaml:"storage"`
}

// TracerConfig 请求追踪配置
type TracerConfig struct {
	// Enabled 是否启用追踪
	Enabled bool `yaml:"enabled" default:"true"`
	// Header 追踪 ID 请求头名称，默认 X-Trace-ID
	Header string `yaml:"header" default:"X-Trace-ID"`
}

// LoadConfig 从文件加载配置
// 返回配置实例和配置文件的绝对路径
func LoadConfig(f string) (*AppConfig, string, error) {
	realpath, err := filepath.Abs(f)
	if err != nil {
		return nil, "", err
	}
	realpath = filepath.Clean(realpath)

	c := new(AppConfig)
	c.File = realpath

	// 设置默认值
	if err := defaults.Set(c); err != nil {
		return nil, realpath, errors.Wrap(err, "set default config failed")
	}

	file, err := os.ReadFile(realpath)
	if err != nil {
		return nil, realpath, errors.Wrap(err, "read config file failed")
	}

	err = yaml.Unmarshal(file, c)
	if err != nil {
		return nil, realpath, errors.Wrap(err, "parse config file failed")
	}

	// 再次设置默认值，以填充 YAML 中存在但值为空的字段
	// defaults.Set 只有在字段为该类型的零值时才会填充
	if err := defaults.Set(c); err != nil {
		return nil, realpath, errors.Wrap(err, "re-set default config failed")
	}

	return c, realpath, nil
}

// Save 保存配置到文件
func (c *AppConfig) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config failed")
	}

	err = os.WriteFile(c.File, data, 0644)
	if err != nil {
		return errors.Wrap(err, "write config file failed")
	}

	return nil
}

// GetWorkerPoolConfig 获取 Worker Pool 配置
func (c *AppConfig) GetWorkerPoolConfig() workerpool.Config {
	cfg := workerpool.DefaultConfig()

	if c.App.WorkerPoolMaxWorkers > 0 {
		cfg.MaxWorkers = c.App.WorkerPoolMaxWorkers
	}
	if c.App.WorkerPoolQueueSize > 0 {
		cfg.QueueSize = c.App.WorkerPoolQueueSize
	}

	return cfg
}

// GetWriteQueueConfig 获取 Write Queue 配置
func (c *AppConfig) GetWriteQueueConfig() writequeue.Config {
	cfg := writequeue.DefaultConfig()

	if c.App.WriteQueueCapacity > 0 {
		cfg.QueueCapacity = c.App.WriteQueueCapacity
	}
	if c.App.WriteQueueTimeout != "" {
		if timeout, err := util.ParseDuration(c.App.WriteQueueTimeout); err == nil {
			cfg.WriteTimeout = timeout
		}
	}
	if c.App.WriteQueueIdleTime != "" {
		if idleTime, err := util.ParseDuration(c.App.WriteQueueIdleTime); err == nil {
			cfg.IdleTimeout = idleTime
		}
	}

	return cfg
}

// GetCoordinatorConfig 获取同步协调器配置
func (c *AppConfig) GetCoordinatorConfig() service.CoordinatorConfig {
	cfg := service.DefaultCoordinatorConfig()

	cfg.Enabled = c.Sync.Enabled
	if c.Sync.BatchSize > 0 {
		cfg.BatchSize = c.Sync.BatchSize
	}
	if c.Sync.MaxRetries > 0 {
		cfg.MaxRetries = c.Sync.MaxRetries
	}
	if c.Sync.RetryBackoff != "" {
		if backoff, err := util.ParseDuration(c.Sync.RetryBackoff); err == nil {
			cfg.RetryBackoff = backoff
		}
	}

	return cfg
}

// GetRelayClientConfig 获取中继客户端配置
func (c *AppConfig) GetRelayClientConfig() transport.RelayClientConfig {
	timeout := 30 * time.Second
	if c.Relay.Timeout != "" {
		if d, err := util.ParseDuration(c.Relay.Timeout); err == nil {
			timeout = d
		}
	}
	return transport.RelayClientConfig{
		Endpoint: c.Relay.Endpoint,
		Token:    c.Relay.Token,
		Timeout:  timeout,
	}
}

// GetRelayServiceConfig 获取中继信箱服务配置
func (c *AppConfig) GetRelayServiceConfig() relay.Config {
	return relay.Config{
		MaxBatchBytes:      c.Relay.MaxBatchBytes,
		MaxMailboxMessages: c.Relay.MaxMailboxMessages,
	}
}

// GetExchangeTimeout 获取直连传输超时
func (c *AppConfig) GetExchangeTimeout() time.Duration {
	if d, err := util.ParseDuration(c.Sync.ExchangeTimeout); err == nil {
		return d
	}
	return 30 * time.Second
}

// GetCompactionInterval 获取日志压缩间隔
func (c *AppConfig) GetCompactionInterval() time.Duration {
	if d, err := util.ParseDuration(c.Sync.CompactionInterval); err == nil {
		return d
	}
	return 24 * time.Hour
}

// GetRelayPollInterval 获取中继信箱轮询间隔
func (c *AppConfig) GetRelayPollInterval() time.Duration {
	if d, err := util.ParseDuration(c.Sync.RelayPollInterval); err == nil {
		return d
	}
	return time.Minute
}

// GetRelayTokenExpiry 获取中继访问 Token 过期时间
func (c *AppConfig) GetRelayTokenExpiry() time.Duration {
	if expiry, err := util.ParseDuration(c.Security.RelayTokenExpiry); err == nil {
		return expiry
	}
	return 30 * 24 * time.Hour // 理论上不会走到这里，因为有默认值
}
