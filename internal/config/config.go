package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MinCacheFiles is the smallest non-zero tts.max_cache_files. A full
// lesson narrates nine slides and their clips must survive eviction until
// the lesson has linked them.
const MinCacheFiles = 9

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	LLM         LLMConfig         `yaml:"llm"`
	TTS         TTSConfig         `yaml:"tts"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Templates   TemplatesConfig   `yaml:"templates"`
	Audio       AudioConfig       `yaml:"audio"`
	Lesson      LessonConfig      `yaml:"lesson"`
	Assets      AssetsConfig      `yaml:"assets"`
	Worker      WorkerConfig      `yaml:"worker"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxLessons    int    `yaml:"max_lessons"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode              string  `yaml:"mode"` // mock, ollama, exec
	Endpoint          string  `yaml:"endpoint"`
	Command           string  `yaml:"command"`
	ModelFast         string  `yaml:"model_fast"`
	ModelBalanced     string  `yaml:"model_balanced"`
	DefaultTier       string  `yaml:"default_tier"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	TimeoutMS         int     `yaml:"timeout_ms"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type TTSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Mode          string `yaml:"mode"` // mock, exec
	Command       string `yaml:"command"`
	Voice         string `yaml:"voice"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	TimeoutMS     int    `yaml:"timeout_ms"`
	CacheDir      string `yaml:"cache_dir"`
	MaxCacheFiles int    `yaml:"max_cache_files"`
	BaseURL       string `yaml:"base_url"`
}

type CalibrationConfig struct {
	Path string `yaml:"path"`
}

type TemplatesConfig struct {
	// Path is a catalog file or a directory of catalog files. Empty selects the built-in catalog.
	Path string `yaml:"path"`
}

type AudioConfig struct {
	Mode             string `yaml:"mode"` // silence, crossfade
	Format           string `yaml:"format"`
	PauseMS          int    `yaml:"pause_ms"`
	FadeMS           int    `yaml:"fade_ms"`
	CrossfadeMS      int    `yaml:"crossfade_ms"`
	EncoderCommand   string `yaml:"encoder_command"`
	TranscodeCommand string `yaml:"transcode_command"`
	OutputDir        string `yaml:"output_dir"`
	CleanupClips     bool   `yaml:"cleanup_clips"`
	PublicBaseURL    string `yaml:"public_base_url"`
}

type LessonConfig struct {
	ContainerWidth   int     `yaml:"container_width"`
	ContainerHeight  int     `yaml:"container_height"`
	SlideWidth       int     `yaml:"slide_width"`
	SlideSpacing     int     `yaml:"slide_spacing"`
	MaxRetries       int     `yaml:"max_retries"`
	EventBuffer      int     `yaml:"event_buffer"`
	SuccessThreshold float64 `yaml:"success_threshold"`
	RequestTimeoutMS int     `yaml:"request_timeout_ms"`
}

type WorkerConfig struct {
	// ID names this process on the bus. Empty derives one from runtime_name.
	ID                  string `yaml:"id"`
	HeartbeatIntervalMS int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int    `yaml:"heartbeat_timeout_ms"`
}

type AssetsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-lessons",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/lessons.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxLessons:    10000,
		},
		LLM: LLMConfig{
			Mode:              "mock",
			Endpoint:          "http://localhost:11434",
			ModelFast:         "llama3.2:latest",
			ModelBalanced:     "llama3.2:latest",
			DefaultTier:       "balanced",
			MaxTokens:         256,
			Temperature:       0.7,
			TimeoutMS:         60000,
			RequestsPerSecond: 4,
			Burst:             4,
		},
		TTS: TTSConfig{
			Enabled:       true,
			Mode:          "mock",
			Voice:         "en_US-lessac-medium",
			SampleRate:    22050,
			Channels:      1,
			TimeoutMS:     45000,
			CacheDir:      "./data/audio",
			MaxCacheFiles: 1000,
			BaseURL:       "/api/tts/audio",
		},
		Calibration: CalibrationConfig{
			Path: "./data/audio/voice_calibration.json",
		},
		Audio: AudioConfig{
			Mode:          "silence",
			Format:        "wav",
			PauseMS:       500,
			FadeMS:        50,
			CrossfadeMS:   1500,
			OutputDir:     "./data/audio/merged",
			CleanupClips:  true,
			PublicBaseURL: "/api/lesson",
		},
		Lesson: LessonConfig{
			ContainerWidth:   1200,
			ContainerHeight:  800,
			SlideWidth:       1200,
			SlideSpacing:     100,
			MaxRetries:       2,
			EventBuffer:      16,
			SuccessThreshold: 0.8,
			RequestTimeoutMS: 600000,
		},
		Assets: AssetsConfig{
			Enabled: false,
			Bucket:  "lesson-audio",
		},
		Worker: WorkerConfig{
			HeartbeatIntervalMS: 5000,
			HeartbeatTimeoutMS:  15000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxLessons, "LOQA_EVENT_STORE_MAX_LESSONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "LOQA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LOQA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "LOQA_LLM_COMMAND")
	overrideString(&cfg.LLM.ModelFast, "LOQA_LLM_MODEL_FAST")
	overrideString(&cfg.LLM.ModelBalanced, "LOQA_LLM_MODEL_BALANCED")
	overrideString(&cfg.LLM.DefaultTier, "LOQA_LLM_DEFAULT_TIER")
	overrideInt(&cfg.LLM.MaxTokens, "LOQA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LOQA_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "LOQA_LLM_TIMEOUT_MS")
	overrideFloat(&cfg.LLM.RequestsPerSecond, "LOQA_LLM_REQUESTS_PER_SECOND")
	overrideInt(&cfg.LLM.Burst, "LOQA_LLM_BURST")
	overrideBool(&cfg.TTS.Enabled, "LOQA_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TimeoutMS, "LOQA_TTS_TIMEOUT_MS")
	overrideString(&cfg.TTS.CacheDir, "LOQA_TTS_CACHE_DIR")
	overrideInt(&cfg.TTS.MaxCacheFiles, "LOQA_TTS_MAX_CACHE_FILES")
	overrideString(&cfg.TTS.BaseURL, "LOQA_TTS_BASE_URL")
	overrideString(&cfg.Calibration.Path, "LOQA_CALIBRATION_PATH")
	overrideString(&cfg.Templates.Path, "LOQA_TEMPLATES_PATH")
	overrideString(&cfg.Audio.Mode, "LOQA_AUDIO_MODE")
	overrideString(&cfg.Audio.Format, "LOQA_AUDIO_FORMAT")
	overrideInt(&cfg.Audio.PauseMS, "LOQA_AUDIO_PAUSE_MS")
	overrideInt(&cfg.Audio.FadeMS, "LOQA_AUDIO_FADE_MS")
	overrideInt(&cfg.Audio.CrossfadeMS, "LOQA_AUDIO_CROSSFADE_MS")
	overrideString(&cfg.Audio.EncoderCommand, "LOQA_AUDIO_ENCODER_COMMAND")
	overrideString(&cfg.Audio.TranscodeCommand, "LOQA_AUDIO_TRANSCODE_COMMAND")
	overrideString(&cfg.Audio.OutputDir, "LOQA_AUDIO_OUTPUT_DIR")
	overrideBool(&cfg.Audio.CleanupClips, "LOQA_AUDIO_CLEANUP_CLIPS")
	overrideString(&cfg.Audio.PublicBaseURL, "LOQA_AUDIO_PUBLIC_BASE_URL")
	overrideInt(&cfg.Lesson.ContainerWidth, "LOQA_LESSON_CONTAINER_WIDTH")
	overrideInt(&cfg.Lesson.ContainerHeight, "LOQA_LESSON_CONTAINER_HEIGHT")
	overrideInt(&cfg.Lesson.SlideWidth, "LOQA_LESSON_SLIDE_WIDTH")
	overrideInt(&cfg.Lesson.SlideSpacing, "LOQA_LESSON_SLIDE_SPACING")
	overrideInt(&cfg.Lesson.MaxRetries, "LOQA_LESSON_MAX_RETRIES")
	overrideInt(&cfg.Lesson.EventBuffer, "LOQA_LESSON_EVENT_BUFFER")
	overrideFloat(&cfg.Lesson.SuccessThreshold, "LOQA_LESSON_SUCCESS_THRESHOLD")
	overrideInt(&cfg.Lesson.RequestTimeoutMS, "LOQA_LESSON_REQUEST_TIMEOUT_MS")
	overrideBool(&cfg.Assets.Enabled, "LOQA_ASSETS_ENABLED")
	overrideString(&cfg.Assets.Bucket, "LOQA_ASSETS_BUCKET")
	overrideString(&cfg.Worker.ID, "LOQA_WORKER_ID")
	overrideInt(&cfg.Worker.HeartbeatIntervalMS, "LOQA_WORKER_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Worker.HeartbeatTimeoutMS, "LOQA_WORKER_HEARTBEAT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "exec":
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.TimeoutMS <= 0 {
		return errors.New("llm.timeout_ms must be positive")
	}
	if cfg.LLM.RequestsPerSecond < 0 {
		return errors.New("llm.requests_per_second must be >= 0")
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
		if cfg.TTS.CacheDir == "" {
			return errors.New("tts.cache_dir must not be empty when tts is enabled")
		}
		if cfg.TTS.TimeoutMS <= 0 {
			return errors.New("tts.timeout_ms must be positive")
		}
		if cfg.TTS.MaxCacheFiles < 0 || (cfg.TTS.MaxCacheFiles > 0 && cfg.TTS.MaxCacheFiles < MinCacheFiles) {
			return fmt.Errorf("tts.max_cache_files must be 0 (unlimited) or at least %d", MinCacheFiles)
		}
	}
	if cfg.TTS.Voice == "" {
		return errors.New("tts.voice must not be empty")
	}
	if cfg.Calibration.Path == "" {
		return errors.New("calibration.path must not be empty")
	}
	switch cfg.Audio.Mode {
	case "silence", "crossfade":
	default:
		return errors.New("audio.mode must be one of silence|crossfade")
	}
	switch cfg.Audio.Format {
	case "wav":
	case "mp3":
		if cfg.Audio.EncoderCommand == "" {
			return errors.New("audio.encoder_command must be set when format=mp3")
		}
	default:
		return errors.New("audio.format must be one of wav|mp3")
	}
	if cfg.Audio.PauseMS < 0 || cfg.Audio.FadeMS < 0 || cfg.Audio.CrossfadeMS < 0 {
		return errors.New("audio.pause_ms, audio.fade_ms and audio.crossfade_ms must be >= 0")
	}
	if cfg.Audio.OutputDir == "" {
		return errors.New("audio.output_dir must not be empty")
	}
	if cfg.Lesson.ContainerWidth <= 0 || cfg.Lesson.ContainerHeight <= 0 {
		return errors.New("lesson.container_width and lesson.container_height must be positive")
	}
	if cfg.Lesson.SlideWidth <= 0 || cfg.Lesson.SlideSpacing < 0 {
		return errors.New("lesson.slide_width must be positive and lesson.slide_spacing >= 0")
	}
	if cfg.Lesson.MaxRetries < 0 {
		return errors.New("lesson.max_retries must be >= 0")
	}
	if cfg.Lesson.EventBuffer <= 0 {
		return errors.New("lesson.event_buffer must be >= 1")
	}
	if cfg.Lesson.SuccessThreshold <= 0 || cfg.Lesson.SuccessThreshold > 1 {
		return errors.New("lesson.success_threshold must be in (0, 1]")
	}
	if cfg.Worker.HeartbeatIntervalMS <= 0 || cfg.Worker.HeartbeatTimeoutMS < cfg.Worker.HeartbeatIntervalMS {
		return errors.New("worker.heartbeat_interval_ms must be positive and not exceed worker.heartbeat_timeout_ms")
	}
	if cfg.Assets.Enabled {
		if !cfg.Bus.Enabled {
			return errors.New("assets.enabled requires bus.enabled")
		}
		if cfg.Assets.Bucket == "" {
			return errors.New("assets.bucket must not be empty when assets are enabled")
		}
	}
	return nil
}
