package roomscribe

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/roomscribe/pkg/agent"
	"github.com/harunnryd/roomscribe/pkg/asr"
	"github.com/harunnryd/roomscribe/pkg/configutil"
	"github.com/harunnryd/roomscribe/pkg/recorder"
	"github.com/harunnryd/roomscribe/pkg/room"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	DrainTimeout  int                 `mapstructure:"drain_timeout_ms"`
	Room          RoomConfig          `mapstructure:"room"`
	ASR           ASRConfig           `mapstructure:"asr"`
	Recorder      RecorderConfig      `mapstructure:"recorder"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type RoomConfig struct {
	URL           string `mapstructure:"url"`
	APIKey        string `mapstructure:"api_key"`
	APISecret     string `mapstructure:"api_secret"`
	Name          string `mapstructure:"name"`
	AgentIdentity string `mapstructure:"agent_identity"`
	AgentName     string `mapstructure:"agent_name"`
	Announce      bool   `mapstructure:"announce"`
	FrameBuffer   int    `mapstructure:"frame_buffer"`
}

type ASRConfig struct {
	URL           string         `mapstructure:"url"`
	Language      string         `mapstructure:"language"`
	Model         string         `mapstructure:"model"`
	UseVAD        bool           `mapstructure:"use_vad"`
	ChunkSize     int            `mapstructure:"chunk_size"`
	ReadyTimeout  int            `mapstructure:"ready_timeout_ms"`
	StaleAfter    int            `mapstructure:"stale_after_ms"`
	SweepInterval int            `mapstructure:"sweep_interval_ms"`
	Settings      map[string]any `mapstructure:"settings"`
}

type RecorderConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Dir          string   `mapstructure:"dir"`
	RollInterval int      `mapstructure:"roll_interval_ms"`
	Participants []string `mapstructure:"participants"`
}

type ObservabilityConfig struct {
	MetricsPath   string `mapstructure:"metrics_path"`
	MetricsBuffer int    `mapstructure:"metrics_buffer"`
	StatsInterval int    `mapstructure:"stats_interval_ms"`
}

// asrTuning is the passthrough section forwarded to the server in the
// session config message.
type asrTuning struct {
	SendLastNSegments   int     `mapstructure:"send_last_n_segments"`
	NoSpeechThresh      float64 `mapstructure:"no_speech_thresh"`
	ClipAudio           bool    `mapstructure:"clip_audio"`
	SameOutputThreshold int     `mapstructure:"same_output_threshold"`
	EnableTranslation   bool    `mapstructure:"enable_translation"`
	TargetLanguage      string  `mapstructure:"target_language"`
}

var asrTuningSchema = configutil.Schema{
	Optional: []string{
		"send_last_n_segments",
		"no_speech_thresh",
		"clip_audio",
		"same_output_threshold",
		"enable_translation",
		"target_language",
	},
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("drain_timeout_ms", 10000)
	v.SetDefault("room.agent_identity", "roomscribe")
	v.SetDefault("room.agent_name", "Roomscribe")
	v.SetDefault("room.announce", true)
	v.SetDefault("room.frame_buffer", 64)
	v.SetDefault("asr.language", "en")
	v.SetDefault("asr.model", "small")
	v.SetDefault("asr.use_vad", true)
	v.SetDefault("asr.chunk_size", 4096)
	v.SetDefault("asr.ready_timeout_ms", 10000)
	v.SetDefault("asr.stale_after_ms", 15000)
	v.SetDefault("asr.sweep_interval_ms", 5000)
	v.SetDefault("recorder.enabled", false)
	v.SetDefault("recorder.dir", "recordings")
	v.SetDefault("recorder.roll_interval_ms", 300000)
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.metrics_buffer", 256)
	v.SetDefault("observability.stats_interval_ms", 30000)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	expandEnvStrings(&cfg)
	cfg.ASR.Settings = expandSettings(cfg.ASR.Settings)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Room.URL, "room.url"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Room.APIKey, "room.api_key"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Room.APISecret, "room.api_secret"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Room.Name, "room.name"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.ASR.URL, "asr.url"); err != nil {
		return err
	}
	if err := configutil.ValidateSettings(c.ASR.Settings, asrTuningSchema); err != nil {
		return fmt.Errorf("asr.settings: %w", err)
	}
	return nil
}

// AgentConfig assembles the per-session and orchestration settings.
func (c *Config) AgentConfig() (agent.Config, error) {
	tuning := asrTuning{}
	if err := configutil.DecodeSettings(c.ASR.Settings, &tuning); err != nil {
		return agent.Config{}, fmt.Errorf("decode asr.settings: %w", err)
	}
	cfg := agent.Config{
		Session: asr.Config{
			URL:                 c.ASR.URL,
			Language:            c.ASR.Language,
			Model:               c.ASR.Model,
			UseVAD:              c.ASR.UseVAD,
			SendLastNSegments:   tuning.SendLastNSegments,
			NoSpeechThresh:      tuning.NoSpeechThresh,
			ClipAudio:           tuning.ClipAudio,
			SameOutputThreshold: tuning.SameOutputThreshold,
			EnableTranslation:   tuning.EnableTranslation,
			TargetLanguage:      tuning.TargetLanguage,
			ReadyTimeout:        msDuration(c.ASR.ReadyTimeout),
		},
		ChunkSize:     c.ASR.ChunkSize,
		StaleAfter:    msDuration(c.ASR.StaleAfter),
		SweepInterval: msDuration(c.ASR.SweepInterval),
	}
	if c.Room.Announce {
		cfg.AnnounceIdentity = c.Room.AgentIdentity
		cfg.AnnounceName = c.Room.AgentName
	}
	return cfg, nil
}

func (c *Config) RoomConfig() room.LiveKitConfig {
	return room.LiveKitConfig{
		URL:         c.Room.URL,
		APIKey:      c.Room.APIKey,
		APISecret:   c.Room.APISecret,
		RoomName:    c.Room.Name,
		Identity:    c.Room.AgentIdentity,
		Name:        c.Room.AgentName,
		FrameBuffer: c.Room.FrameBuffer,
	}
}

func (c *Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		Enabled:      c.Recorder.Enabled,
		Dir:          c.Recorder.Dir,
		RollInterval: msDuration(c.Recorder.RollInterval),
		Participants: c.Recorder.Participants,
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
