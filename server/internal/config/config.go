package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tour       TourConfig       `yaml:"tour"`
	Viewport   ViewportConfig   `yaml:"viewport"`
	Transition TransitionConfig `yaml:"transition"`
	Preload    PreloadConfig    `yaml:"preload"`
	Storage    StorageConfig    `yaml:"storage"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Guide      GuideConfig      `yaml:"guide"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TourConfig 场景图数据源配置
type TourConfig struct {
	// Source 是本地 .json/.yaml 文件路径，或 http(s) 地址。
	Source string `yaml:"source"`
	// Watch 为 true 时监听本地文件变化并整体替换快照。
	Watch bool `yaml:"watch"`
	// PanoramaBaseURL 非空时，下发给浏览器的全景地址改为 <base>/<scene id>（走服务端缓存）。
	PanoramaBaseURL string        `yaml:"panorama_base_url"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	// MaxBytes 限制远程场景图响应体大小。
	MaxBytes int64 `yaml:"max_bytes"`
}

// ViewportConfig 相机与按键动画参数
type ViewportConfig struct {
	MinZoom        float64       `yaml:"min_zoom"`
	MaxZoom        float64       `yaml:"max_zoom"`
	DefaultZoom    float64       `yaml:"default_zoom"`
	ZoomStep       float64       `yaml:"zoom_step"`
	YawStep        float64       `yaml:"yaw_step"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	RotateDuration time.Duration `yaml:"rotate_duration"`
	FrameInterval  time.Duration `yaml:"frame_interval"`
}

type TransitionConfig struct {
	// SettleDelay 是未预加载场景切换完成后刷新热点前的去抖延迟。
	SettleDelay time.Duration `yaml:"settle_delay"`
	// SwapTimeout 是等待浏览器确认全景切换的上限。
	SwapTimeout time.Duration `yaml:"swap_timeout"`
}

type PreloadConfig struct {
	Enabled     bool          `yaml:"enabled"`
	AssetsDir   string        `yaml:"assets_dir"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxBytes    int64         `yaml:"max_bytes"`
}

type StorageConfig struct {
	// Driver 为 memory 或 sqlite。
	Driver string `yaml:"driver"`
	DBPath string `yaml:"db_path"`
}

type GatewayConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	CustomHandlers []string      `yaml:"custom_handlers"`
}

// GuideConfig 新手引导步骤
type GuideConfig struct {
	Enabled bool        `yaml:"enabled"`
	Steps   []GuideStep `yaml:"steps"`
}

type GuideStep struct {
	ID     string `yaml:"id"`
	Title  string `yaml:"title"`
	Text   string `yaml:"text"`
	Anchor string `yaml:"anchor"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default 返回带默认值的配置，Load 在其基础上覆盖文件内容。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Preload.Enabled = true
	cfg.Guide.Enabled = true
	return cfg
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖，便于容器部署时不改文件。
func (c *Config) applyEnv() {
	if v := os.Getenv("PANOTOUR_TOUR_SOURCE"); v != "" {
		c.Tour.Source = v
	}
	if v := os.Getenv("PANOTOUR_DB_PATH"); v != "" {
		c.Storage.Driver = "sqlite"
		c.Storage.DBPath = v
	}
	if v := os.Getenv("PANOTOUR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PANOTOUR_PANORAMA_BASE_URL"); v != "" {
		c.Tour.PanoramaBaseURL = v
	}
	if v := os.Getenv("PANOTOUR_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err == nil {
			if p, err := strconv.Atoi(port); err == nil {
				c.Server.Host = host
				c.Server.Port = p
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Tour.FetchTimeout == 0 {
		c.Tour.FetchTimeout = 10 * time.Second
	}
	if c.Tour.MaxBytes == 0 {
		c.Tour.MaxBytes = 8 << 20
	}

	v := &c.Viewport
	if v.MinZoom == 0 && v.MaxZoom == 0 {
		v.MinZoom, v.MaxZoom = 40, 80
	}
	if v.DefaultZoom == 0 {
		v.DefaultZoom = 60
	}
	if v.ZoomStep == 0 {
		v.ZoomStep = 1
	}
	if v.YawStep == 0 {
		v.YawStep = 0.02
	}
	if v.TickInterval == 0 {
		v.TickInterval = 16 * time.Millisecond
	}
	if v.RotateDuration == 0 {
		v.RotateDuration = 600 * time.Millisecond
	}
	if v.FrameInterval == 0 {
		v.FrameInterval = 16 * time.Millisecond
	}

	if c.Transition.SettleDelay == 0 {
		c.Transition.SettleDelay = 100 * time.Millisecond
	}
	if c.Transition.SwapTimeout == 0 {
		c.Transition.SwapTimeout = 30 * time.Second
	}

	if c.Preload.Concurrency == 0 {
		c.Preload.Concurrency = 4
	}
	if c.Preload.Timeout == 0 {
		c.Preload.Timeout = 30 * time.Second
	}
	if c.Preload.MaxBytes == 0 {
		c.Preload.MaxBytes = 64 << 20
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = 30 * time.Second
	}
	if c.Gateway.QueueCapacity == 0 {
		c.Gateway.QueueCapacity = 100
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Tour.Source == "" {
		return fmt.Errorf("tour source is required (set PANOTOUR_TOUR_SOURCE or tour.source)")
	}
	v := c.Viewport
	if v.MinZoom >= v.MaxZoom {
		return fmt.Errorf("viewport.min_zoom (%v) must be below max_zoom (%v)", v.MinZoom, v.MaxZoom)
	}
	if v.DefaultZoom < v.MinZoom || v.DefaultZoom > v.MaxZoom {
		return fmt.Errorf("viewport.default_zoom (%v) outside [%v, %v]", v.DefaultZoom, v.MinZoom, v.MaxZoom)
	}
	if v.ZoomStep <= 0 || v.YawStep <= 0 {
		return fmt.Errorf("viewport steps must be positive")
	}
	if v.TickInterval <= 0 || v.FrameInterval <= 0 || v.RotateDuration <= 0 {
		return fmt.Errorf("viewport intervals must be positive")
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required for sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}
