package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	MQTT        MQTTConfig       `yaml:"mqtt"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	ASR         ASRConfig        `yaml:"asr"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Silence     SilenceConfig    `yaml:"silence"`
	Training    TrainingConfig   `yaml:"training"`
	G2P         G2PConfig        `yaml:"g2p"`
}

type BusConfig struct {
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

// MQTTConfig configures the optional Hermes bridge.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QoS       int    `yaml:"qos"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	StoreAudio    bool   `yaml:"store_audio"`
}

type ASRConfig struct {
	Enabled                bool     `yaml:"enabled"`
	SiteIDs                []string `yaml:"site_ids"`
	Language               string   `yaml:"language"`
	SampleRate             int      `yaml:"sample_rate"`
	SampleWidth            int      `yaml:"sample_width"`
	Channels               int      `yaml:"channels"`
	ReuseTranscribers      bool     `yaml:"reuse_transcribers"`
	SessionResultTimeoutMS int      `yaml:"session_result_timeout_ms"`
}

type RecognizerConfig struct {
	Mode     string `yaml:"mode"` // mock, exec
	Command  string `yaml:"command"`
	ModelDir string `yaml:"model_dir"`
	GraphDir string `yaml:"graph_dir"`
}

type SilenceConfig struct {
	SkipSeconds         float64 `yaml:"skip_seconds"`
	MinSeconds          float64 `yaml:"min_seconds"`
	MaxSeconds          float64 `yaml:"max_seconds"`
	SpeechSeconds       float64 `yaml:"speech_seconds"`
	SilenceSeconds      float64 `yaml:"silence_seconds"`
	BeforeSeconds       float64 `yaml:"before_seconds"`
	WindowMS            int     `yaml:"window_ms"`
	EnergyThresholdDBFS float64 `yaml:"energy_threshold_dbfs"`
}

type TrainingConfig struct {
	ModelDir                string   `yaml:"model_dir"`
	GraphDir                string   `yaml:"graph_dir"`
	BaseDictionaries        []string `yaml:"base_dictionaries"`
	DictionaryPath          string   `yaml:"dictionary_path"`
	DictionaryCasing        string   `yaml:"dictionary_casing"`
	LanguageModelPath       string   `yaml:"language_model_path"`
	LanguageModelType       string   `yaml:"language_model_type"`
	UnknownWordsPath        string   `yaml:"unknown_words_path"`
	NoOverwrite             bool     `yaml:"no_overwrite"`
	BaseLanguageModelFST    string   `yaml:"base_language_model_fst"`
	BaseLanguageModelWeight float64  `yaml:"base_language_model_weight"`
	MixedLanguageModelFST   string   `yaml:"mixed_language_model_fst"`
	SpnPhone                string   `yaml:"spn_phone"`
	SilPhone                string   `yaml:"sil_phone"`
	AllowUnknownWords       bool     `yaml:"allow_unknown_words"`
	FrequentWordsPath       string   `yaml:"frequent_words_path"`
	UnknownWordsProbability float64  `yaml:"unknown_words_probability"`
	UnknownToken            string   `yaml:"unknown_token"`
	MaxUnknownWords         int      `yaml:"max_unknown_words"`
	SilenceProbability      float64  `yaml:"silence_probability"`
	CancelWord              string   `yaml:"cancel_word"`
	CancelProbability       float64  `yaml:"cancel_probability"`
	CompileCommand          string   `yaml:"compile_command"`
	PrepareCommand          string   `yaml:"prepare_command"`
	ArchivePath             string   `yaml:"archive_path"`
	ArchiveURL              string   `yaml:"archive_url"`
}

type G2PConfig struct {
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Casing    string `yaml:"casing"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-asr",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8081,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		MQTT: MQTTConfig{
			Enabled:   false,
			BrokerURL: "tcp://localhost:1883",
			ClientID:  "loqa-asr",
			QoS:       0,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-asr-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		ASR: ASRConfig{
			Enabled:                true,
			Language:               "en-US",
			SampleRate:             16000,
			SampleWidth:            2,
			Channels:               1,
			ReuseTranscribers:      false,
			SessionResultTimeoutMS: 20000,
		},
		Recognizer: RecognizerConfig{
			Mode: "mock",
		},
		Silence: SilenceConfig{
			SkipSeconds:         0,
			MinSeconds:          1,
			MaxSeconds:          0,
			SpeechSeconds:       0.3,
			SilenceSeconds:      0.5,
			BeforeSeconds:       0.5,
			WindowMS:            30,
			EnergyThresholdDBFS: -40,
		},
		Training: TrainingConfig{
			DictionaryCasing:        "ignore",
			LanguageModelType:       "arpa",
			SpnPhone:                "SPN",
			SilPhone:                "SIL",
			UnknownWordsProbability: 1e-10,
			UnknownToken:            "<unk>",
			MaxUnknownWords:         8,
			SilenceProbability:      0.5,
			CancelProbability:       1e-2,
			ArchiveURL:              "profile/model.zip",
		},
		G2P: G2PConfig{
			Casing: "ignore",
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
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.MQTT.Enabled, "LOQA_MQTT_ENABLED")
	overrideString(&cfg.MQTT.BrokerURL, "LOQA_MQTT_BROKER_URL")
	overrideString(&cfg.MQTT.ClientID, "LOQA_MQTT_CLIENT_ID")
	overrideString(&cfg.MQTT.Username, "LOQA_MQTT_USERNAME")
	overrideString(&cfg.MQTT.Password, "LOQA_MQTT_PASSWORD")
	overrideInt(&cfg.MQTT.QoS, "LOQA_MQTT_QOS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.EventStore.StoreAudio, "LOQA_EVENT_STORE_STORE_AUDIO")
	overrideBool(&cfg.ASR.Enabled, "LOQA_ASR_ENABLED")
	overrideStringSlice(&cfg.ASR.SiteIDs, "LOQA_ASR_SITE_IDS")
	overrideString(&cfg.ASR.Language, "LOQA_ASR_LANGUAGE")
	overrideInt(&cfg.ASR.SampleRate, "LOQA_ASR_SAMPLE_RATE")
	overrideInt(&cfg.ASR.SampleWidth, "LOQA_ASR_SAMPLE_WIDTH")
	overrideInt(&cfg.ASR.Channels, "LOQA_ASR_CHANNELS")
	overrideBool(&cfg.ASR.ReuseTranscribers, "LOQA_ASR_REUSE_TRANSCRIBERS")
	overrideInt(&cfg.ASR.SessionResultTimeoutMS, "LOQA_ASR_SESSION_RESULT_TIMEOUT_MS")
	overrideString(&cfg.Recognizer.Mode, "LOQA_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "LOQA_RECOGNIZER_COMMAND")
	overrideString(&cfg.Recognizer.ModelDir, "LOQA_RECOGNIZER_MODEL_DIR")
	overrideString(&cfg.Recognizer.GraphDir, "LOQA_RECOGNIZER_GRAPH_DIR")
	overrideFloat(&cfg.Silence.SkipSeconds, "LOQA_SILENCE_SKIP_SECONDS")
	overrideFloat(&cfg.Silence.MinSeconds, "LOQA_SILENCE_MIN_SECONDS")
	overrideFloat(&cfg.Silence.MaxSeconds, "LOQA_SILENCE_MAX_SECONDS")
	overrideFloat(&cfg.Silence.SpeechSeconds, "LOQA_SILENCE_SPEECH_SECONDS")
	overrideFloat(&cfg.Silence.SilenceSeconds, "LOQA_SILENCE_SILENCE_SECONDS")
	overrideFloat(&cfg.Silence.BeforeSeconds, "LOQA_SILENCE_BEFORE_SECONDS")
	overrideInt(&cfg.Silence.WindowMS, "LOQA_SILENCE_WINDOW_MS")
	overrideFloat(&cfg.Silence.EnergyThresholdDBFS, "LOQA_SILENCE_ENERGY_THRESHOLD_DBFS")
	overrideString(&cfg.Training.ModelDir, "LOQA_TRAINING_MODEL_DIR")
	overrideString(&cfg.Training.GraphDir, "LOQA_TRAINING_GRAPH_DIR")
	overrideStringSlice(&cfg.Training.BaseDictionaries, "LOQA_TRAINING_BASE_DICTIONARIES")
	overrideString(&cfg.Training.DictionaryPath, "LOQA_TRAINING_DICTIONARY_PATH")
	overrideString(&cfg.Training.DictionaryCasing, "LOQA_TRAINING_DICTIONARY_CASING")
	overrideString(&cfg.Training.LanguageModelPath, "LOQA_TRAINING_LANGUAGE_MODEL_PATH")
	overrideString(&cfg.Training.LanguageModelType, "LOQA_TRAINING_LANGUAGE_MODEL_TYPE")
	overrideString(&cfg.Training.UnknownWordsPath, "LOQA_TRAINING_UNKNOWN_WORDS_PATH")
	overrideBool(&cfg.Training.NoOverwrite, "LOQA_TRAINING_NO_OVERWRITE")
	overrideBool(&cfg.Training.AllowUnknownWords, "LOQA_TRAINING_ALLOW_UNKNOWN_WORDS")
	overrideString(&cfg.Training.CompileCommand, "LOQA_TRAINING_COMPILE_COMMAND")
	overrideString(&cfg.Training.PrepareCommand, "LOQA_TRAINING_PREPARE_COMMAND")
	overrideString(&cfg.Training.ArchivePath, "LOQA_TRAINING_ARCHIVE_PATH")
	overrideString(&cfg.G2P.Command, "LOQA_G2P_COMMAND")
	overrideString(&cfg.G2P.ModelPath, "LOQA_G2P_MODEL_PATH")
	overrideString(&cfg.G2P.Casing, "LOQA_G2P_CASING")
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
	switch cfg.Telemetry.LogFormat {
	case "json", "console":
	default:
		return errors.New("telemetry.log_format must be one of json|console")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.MQTT.Enabled {
		if cfg.MQTT.BrokerURL == "" {
			return errors.New("mqtt.broker_url must be set when mqtt is enabled")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return errors.New("mqtt.qos must be 0, 1 or 2")
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.ASR.SampleRate <= 0 {
		return errors.New("asr.sample_rate must be positive")
	}
	if cfg.ASR.SampleWidth != 2 {
		return errors.New("asr.sample_width must be 2 (16-bit PCM)")
	}
	if cfg.ASR.Channels <= 0 {
		return errors.New("asr.channels must be positive")
	}
	if cfg.ASR.SessionResultTimeoutMS <= 0 {
		return errors.New("asr.session_result_timeout_ms must be positive")
	}
	switch cfg.Recognizer.Mode {
	case "mock", "exec":
	default:
		return errors.New("recognizer.mode must be one of mock|exec")
	}
	if cfg.Recognizer.Mode == "exec" && cfg.Recognizer.Command == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Silence.WindowMS <= 0 {
		return errors.New("silence.window_ms must be positive")
	}
	if cfg.Silence.MaxSeconds < 0 || cfg.Silence.MinSeconds < 0 || cfg.Silence.SkipSeconds < 0 {
		return errors.New("silence durations must be >= 0")
	}
	switch cfg.Training.LanguageModelType {
	case "arpa", "text_fst":
	default:
		return errors.New("training.language_model_type must be one of arpa|text_fst")
	}
	for _, casing := range []string{cfg.Training.DictionaryCasing, cfg.G2P.Casing} {
		switch casing {
		case "", "ignore", "lower", "upper":
		default:
			return fmt.Errorf("casing %q must be one of ignore|lower|upper", casing)
		}
	}
	if cfg.G2P.ModelPath != "" && cfg.G2P.Command == "" {
		return errors.New("g2p.command must be set when g2p.model_path is configured")
	}
	return nil
}
