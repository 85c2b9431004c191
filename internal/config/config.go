package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Engine    Engine    `mapstructure:"engine"`
	Recording Recording `mapstructure:"recording"`
	Store     Store     `mapstructure:"store"`
}

// Engine is the media-engine surface: worker count, RTC port range and the
// address announced to clients for NAT traversal. Immutable after startup.
type Engine struct {
	NumWorkers  int           `mapstructure:"num_workers"`
	RTCMinPort  int           `mapstructure:"rtc_min_port"`
	RTCMaxPort  int           `mapstructure:"rtc_max_port"`
	AnnouncedIP string        `mapstructure:"announced_ip"`
	OpTimeout   time.Duration `mapstructure:"op_timeout"`
	Codecs      []Codec       `mapstructure:"codecs"`
}

type Codec struct {
	Kind      string `mapstructure:"kind"`
	MimeType  string `mapstructure:"mime_type"`
	ClockRate uint32 `mapstructure:"clock_rate"`
	Channels  uint16 `mapstructure:"channels"`
}

type Recording struct {
	Enabled     bool   `mapstructure:"enabled"`
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	MediaPath   string `mapstructure:"media_path"`
	HLSTime     int    `mapstructure:"hls_time"`
	HLSListSize int    `mapstructure:"hls_list_size"`
	TapPortMin  int    `mapstructure:"tap_port_min"`
	TapPortMax  int    `mapstructure:"tap_port_max"`
}

// Store points at the external business-record store. Only the
// LIVE/FINISHED session fact is written there; an empty address disables
// notifications entirely.
type Store struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8000)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	v.SetDefault("engine.num_workers", runtime.NumCPU())
	v.SetDefault("engine.rtc_min_port", 10000)
	v.SetDefault("engine.rtc_max_port", 10100)
	v.SetDefault("engine.announced_ip", "127.0.0.1")
	v.SetDefault("engine.op_timeout", "10s")

	v.SetDefault("recording.enabled", true)
	v.SetDefault("recording.ffmpeg_path", "ffmpeg")
	v.SetDefault("recording.media_path", "./media_files")
	v.SetDefault("recording.hls_time", 2)
	v.SetDefault("recording.hls_list_size", 0)
	v.SetDefault("recording.tap_port_min", 5004)
	v.SetDefault("recording.tap_port_max", 5100)

	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.timeout", "2s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
