package studio

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// EngineConfig is the engine's YAML configuration.
type EngineConfig struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Video struct {
		Width      int    `yaml:"width"`
		Height     int    `yaml:"height"`
		FPS        int    `yaml:"fps"`
		Background string `yaml:"background"` // #RRGGBB
		Codec      string `yaml:"codec"`      // vp8 | vp9 | h264 | av1
		BitrateBps int    `yaml:"bitrate_bps"`
	} `yaml:"video"`

	Audio struct {
		SampleRate int    `yaml:"sample_rate"`
		Channels   int    `yaml:"channels"`
		Codec      string `yaml:"codec"` // opus
		BitrateBps int    `yaml:"bitrate_bps"`
	} `yaml:"audio"`

	Layout struct {
		Mode string `yaml:"mode"` // fullcam | fullscreen | pip | split | newsroom
	} `yaml:"layout"`

	Recording struct {
		Dir           string        `yaml:"dir"`
		ChunkInterval time.Duration `yaml:"chunk_interval"`
		VideoBitrate  int           `yaml:"video_bitrate_bps"`
		AudioBitrate  int           `yaml:"audio_bitrate_bps"`
	} `yaml:"recording"`

	Streaming struct {
		BearerToken string `yaml:"bearer_token"`
		ICEServers  []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"streaming"`

	Destinations []struct {
		ID       string `yaml:"id"`
		Platform string `yaml:"platform"`
		URL      string `yaml:"url"`
		Enabled  bool   `yaml:"enabled"`
	} `yaml:"destinations"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json | console
	} `yaml:"logging"`
}

// DefaultConfig returns configuration with sane defaults: 720p30
// program, VP9+Opus, split layout.
func DefaultConfig() *EngineConfig {
	cfg := &EngineConfig{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Video.Width = 1280
	cfg.Video.Height = 720
	cfg.Video.FPS = 30
	cfg.Video.Background = "#2D3A45"
	cfg.Video.Codec = "vp9"
	cfg.Video.BitrateBps = 2_500_000

	cfg.Audio.SampleRate = 48000
	cfg.Audio.Channels = 2
	cfg.Audio.Codec = "opus"
	cfg.Audio.BitrateBps = 128_000

	cfg.Layout.Mode = "split"

	cfg.Recording.Dir = "."
	cfg.Recording.ChunkInterval = time.Second
	cfg.Recording.VideoBitrate = 2_500_000
	cfg.Recording.AudioBitrate = 128_000

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

// LoadConfig reads configuration from a YAML file, applying defaults
// and STUDIO_* environment overrides. A missing file falls back to
// defaults.
func LoadConfig(configPath string) (*EngineConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *EngineConfig) applyEnvOverrides() {
	if addr := os.Getenv("STUDIO_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("STUDIO_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if mode := os.Getenv("STUDIO_LAYOUT"); mode != "" {
		c.Layout.Mode = mode
	}
	if dir := os.Getenv("STUDIO_RECORDING_DIR"); dir != "" {
		c.Recording.Dir = dir
	}
	if token := os.Getenv("STUDIO_WHIP_TOKEN"); token != "" {
		c.Streaming.BearerToken = token
	}
	if fps := os.Getenv("STUDIO_FPS"); fps != "" {
		if v, err := strconv.Atoi(fps); err == nil {
			c.Video.FPS = v
		}
	}
}

// Validate checks that configuration values are within acceptable
// ranges.
func (c *EngineConfig) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}

	if c.Video.Width < 2 || c.Video.Height < 2 {
		return fmt.Errorf("video.width and video.height must be >= 2")
	}
	if c.Video.FPS <= 0 || c.Video.FPS > 120 {
		return fmt.Errorf("video.fps must be in 1..120")
	}
	if _, err := parseHexColor(c.Video.Background); err != nil {
		return fmt.Errorf("video.background: %w", err)
	}
	if _, err := c.VideoCodec(); err != nil {
		return err
	}
	if c.Video.BitrateBps <= 0 {
		return fmt.Errorf("video.bitrate_bps must be > 0")
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		return fmt.Errorf("audio.channels must be 1 or 2")
	}
	if _, err := c.AudioCodec(); err != nil {
		return err
	}
	if c.Audio.BitrateBps <= 0 {
		return fmt.Errorf("audio.bitrate_bps must be > 0")
	}

	if _, err := ParseLayoutMode(c.Layout.Mode); err != nil {
		return fmt.Errorf("layout.mode: %w", err)
	}

	if c.Recording.ChunkInterval <= 0 {
		return fmt.Errorf("recording.chunk_interval must be > 0")
	}
	if c.Recording.VideoBitrate <= 0 || c.Recording.AudioBitrate <= 0 {
		return fmt.Errorf("recording bitrates must be > 0")
	}

	seen := make(map[string]bool, len(c.Destinations))
	for i, d := range c.Destinations {
		if d.URL == "" {
			return fmt.Errorf("destinations[%d].url must not be empty", i)
		}
		if d.ID != "" && seen[d.ID] {
			return fmt.Errorf("destinations[%d].id %q duplicated", i, d.ID)
		}
		seen[d.ID] = true
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	return nil
}

// VideoCodec resolves the configured video codec.
func (c *EngineConfig) VideoCodec() (VideoCodec, error) {
	switch c.Video.Codec {
	case "vp8":
		return VideoCodecVP8, nil
	case "vp9", "":
		return VideoCodecVP9, nil
	case "h264":
		return VideoCodecH264, nil
	case "av1":
		return VideoCodecAV1, nil
	default:
		return 0, fmt.Errorf("video.codec %q not recognized", c.Video.Codec)
	}
}

// AudioCodec resolves the configured audio codec.
func (c *EngineConfig) AudioCodec() (AudioCodec, error) {
	switch c.Audio.Codec {
	case "opus", "":
		return AudioCodecOpus, nil
	case "pcm":
		return AudioCodecPCM, nil
	default:
		return 0, fmt.Errorf("audio.codec %q not recognized", c.Audio.Codec)
	}
}

// BackgroundColor resolves the configured background color.
func (c *EngineConfig) BackgroundColor() YUVColor {
	col, err := parseHexColor(c.Video.Background)
	if err != nil {
		return ColorDarkSlate
	}
	return col
}

// CompositorConfig builds the compositor configuration.
func (c *EngineConfig) CompositorConfig(logger *zap.Logger) CompositorConfig {
	return CompositorConfig{
		Width:      c.Video.Width,
		Height:     c.Video.Height,
		FPS:        c.Video.FPS,
		Background: c.BackgroundColor(),
		Logger:     logger,
	}
}

// DestinationList converts the configured destinations.
func (c *EngineConfig) DestinationList() []Destination {
	out := make([]Destination, 0, len(c.Destinations))
	for _, d := range c.Destinations {
		out = append(out, Destination{
			ID:       d.ID,
			Platform: d.Platform,
			URL:      d.URL,
			Enabled:  d.Enabled,
		})
	}
	return out
}

// ICEServerList converts the configured ICE servers.
func (c *EngineConfig) ICEServerList() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.Streaming.ICEServers))
	for _, s := range c.Streaming.ICEServers {
		out = append(out, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

// NewLogger builds a zap logger from the logging section.
func (c *EngineConfig) NewLogger() (*zap.Logger, error) {
	var zcfg zap.Config
	if c.Logging.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	zcfg.Level = level

	return zcfg.Build()
}

// parseHexColor converts #RRGGBB to a studio-range YUV color.
func parseHexColor(s string) (YUVColor, error) {
	if len(s) != 7 || s[0] != '#' {
		return YUVColor{}, fmt.Errorf("color %q must be #RRGGBB", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return YUVColor{}, fmt.Errorf("color %q must be #RRGGBB", s)
	}

	y, u, cv := rgbToYUV(uint8(v>>16), uint8(v>>8), uint8(v))
	return YUVColor{Y: y, U: u, V: cv}, nil
}
