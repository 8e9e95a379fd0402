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
	if cfg.ASR.SessionResultTimeoutMS != 20000 {
		t.Fatalf("expected 20s result timeout, got %d", cfg.ASR.SessionResultTimeoutMS)
	}
	if cfg.ASR.ReuseTranscribers {
		t.Fatal("expected transcriber reuse disabled by default")
	}
	if cfg.Training.ArchiveURL != "profile/model.zip" {
		t.Fatalf("unexpected archive url %q", cfg.Training.ArchiveURL)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asr.yaml")
	data := []byte(`
runtime_name: kitchen-asr
asr:
  site_ids: [kitchen, hall]
  reuse_transcribers: true
  session_result_timeout_ms: 5000
recognizer:
  mode: exec
  command: "kaldi-decode --json"
training:
  base_dictionaries: [/opt/base.dict, /opt/custom.dict]
  no_overwrite: true
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "kitchen-asr" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if len(cfg.ASR.SiteIDs) != 2 || cfg.ASR.SiteIDs[0] != "kitchen" {
		t.Fatalf("unexpected site ids %v", cfg.ASR.SiteIDs)
	}
	if !cfg.ASR.ReuseTranscribers || cfg.ASR.SessionResultTimeoutMS != 5000 {
		t.Fatalf("expected asr overrides from file")
	}
	if cfg.Recognizer.Command != "kaldi-decode --json" {
		t.Fatalf("unexpected recognizer command %q", cfg.Recognizer.Command)
	}
	if len(cfg.Training.BaseDictionaries) != 2 || !cfg.Training.NoOverwrite {
		t.Fatalf("unexpected training config %+v", cfg.Training)
	}
	// untouched sections keep defaults
	if cfg.ASR.SampleRate != 16000 {
		t.Fatalf("expected default sample rate, got %d", cfg.ASR.SampleRate)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_MQTT_ENABLED", "true")
	t.Setenv("LOQA_MQTT_BROKER_URL", "tcp://broker:1883")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_ASR_SITE_IDS", "kitchen,,office")
	t.Setenv("LOQA_ASR_REUSE_TRANSCRIBERS", "true")
	t.Setenv("LOQA_ASR_SESSION_RESULT_TIMEOUT_MS", "750")
	t.Setenv("LOQA_SILENCE_SILENCE_SECONDS", "1.5")
	t.Setenv("LOQA_TRAINING_BASE_DICTIONARIES", "/a.dict,/b.dict")

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
	if !cfg.MQTT.Enabled || cfg.MQTT.BrokerURL != "tcp://broker:1883" {
		t.Fatalf("expected mqtt override, got %+v", cfg.MQTT)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store override")
	}
	if len(cfg.ASR.SiteIDs) != 2 || cfg.ASR.SiteIDs[1] != "office" {
		t.Fatalf("expected trimmed site ids, got %v", cfg.ASR.SiteIDs)
	}
	if !cfg.ASR.ReuseTranscribers {
		t.Fatal("expected reuse override")
	}
	if cfg.ASR.SessionResultTimeoutMS != 750 {
		t.Fatalf("expected result timeout override, got %d", cfg.ASR.SessionResultTimeoutMS)
	}
	if cfg.Silence.SilenceSeconds != 1.5 {
		t.Fatalf("expected silence seconds override, got %v", cfg.Silence.SilenceSeconds)
	}
	if len(cfg.Training.BaseDictionaries) != 2 {
		t.Fatalf("expected base dictionaries override, got %v", cfg.Training.BaseDictionaries)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"exec recognizer without command", func(c *Config) { c.Recognizer.Mode = "exec" }},
		{"unknown recognizer mode", func(c *Config) { c.Recognizer.Mode = "cloud" }},
		{"non 16-bit width", func(c *Config) { c.ASR.SampleWidth = 1 }},
		{"zero timeout", func(c *Config) { c.ASR.SessionResultTimeoutMS = 0 }},
		{"bad log format", func(c *Config) { c.Telemetry.LogFormat = "xml" }},
		{"bad retention", func(c *Config) { c.EventStore.RetentionMode = "forever" }},
		{"bad casing", func(c *Config) { c.Training.DictionaryCasing = "title" }},
		{"g2p model without command", func(c *Config) { c.G2P.ModelPath = "/g2p.fst" }},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.BrokerURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
