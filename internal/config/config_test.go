package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Audio.PauseMS != 500 || cfg.Audio.FadeMS != 50 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Lesson.ContainerWidth != 1200 || cfg.Lesson.ContainerHeight != 800 {
		t.Fatalf("unexpected container defaults: %+v", cfg.Lesson)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_LESSONS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_LLM_REQUESTS_PER_SECOND", "1.5")
	t.Setenv("LOQA_AUDIO_MODE", "crossfade")
	t.Setenv("LOQA_LESSON_MAX_RETRIES", "4")
	t.Setenv("LOQA_TEMPLATES_PATH", "/etc/lessons/templates")
	t.Setenv("LOQA_WORKER_ID", "worker-a")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxLessons != 123 {
		t.Fatalf("expected event store max lessons override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.LLM.RequestsPerSecond != 1.5 {
		t.Fatalf("expected llm rate override, got %v", cfg.LLM.RequestsPerSecond)
	}
	if cfg.Audio.Mode != "crossfade" {
		t.Fatalf("expected audio mode override")
	}
	if cfg.Lesson.MaxRetries != 4 {
		t.Fatalf("expected max retries override")
	}
	if cfg.Templates.Path != "/etc/lessons/templates" {
		t.Fatalf("expected templates path override")
	}
	if cfg.Worker.ID != "worker-a" {
		t.Fatalf("expected worker id override, got %q", cfg.Worker.ID)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lessons.yaml")
	data := []byte("runtime_name: classroom\naudio:\n  pause_ms: 750\nllm:\n  mode: ollama\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "classroom" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Audio.PauseMS != 750 || cfg.Audio.FadeMS != 50 {
		t.Fatalf("expected merged audio config, got %+v", cfg.Audio)
	}
	if cfg.LLM.Mode != "ollama" || cfg.LLM.Endpoint == "" {
		t.Fatalf("expected ollama mode with default endpoint, got %+v", cfg.LLM)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateCacheFloor(t *testing.T) {
	for _, n := range []int{0, MinCacheFiles, 1000} {
		cfg := Default()
		cfg.TTS.MaxCacheFiles = n
		if err := validate(cfg); err != nil {
			t.Errorf("max_cache_files=%d: unexpected error %v", n, err)
		}
	}
	cfg := Default()
	cfg.TTS.Enabled = false
	cfg.TTS.MaxCacheFiles = 1
	if err := validate(cfg); err != nil {
		t.Errorf("disabled tts: unexpected error %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"llm mode":       func(c *Config) { c.LLM.Mode = "gpt" },
		"exec command":   func(c *Config) { c.LLM.Mode = "exec"; c.LLM.Command = "" },
		"audio mode":     func(c *Config) { c.Audio.Mode = "overlay" },
		"mp3 encoder":    func(c *Config) { c.Audio.Format = "mp3" },
		"retention":      func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"threshold":      func(c *Config) { c.Lesson.SuccessThreshold = 1.5 },
		"event buffer":   func(c *Config) { c.Lesson.EventBuffer = 0 },
		"assets w/o bus": func(c *Config) { c.Assets.Enabled = true; c.Bus.Enabled = false },
		"heartbeat":      func(c *Config) { c.Worker.HeartbeatTimeoutMS = c.Worker.HeartbeatIntervalMS - 1 },
		"tiny tts cache": func(c *Config) { c.TTS.MaxCacheFiles = MinCacheFiles - 1 },
		"negative cache": func(c *Config) { c.TTS.MaxCacheFiles = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
