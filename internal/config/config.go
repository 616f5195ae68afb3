package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain/entities"
)

// EnvPrefix prefixes every environment override, e.g. VOICEAGENT_AI_MODEL.
const EnvPrefix = "VOICEAGENT"

// Config is the full agent and relay configuration.
type Config struct {
	LogLevel      string              `mapstructure:"logLevel"`
	AI            AIConfig            `mapstructure:"ai"`
	Voice         VoiceConfig         `mapstructure:"voice"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	VAD           VADConfig           `mapstructure:"vad"`
	Features      FeaturesConfig      `mapstructure:"features"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledgeBase"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Persona       PersonaConfig       `mapstructure:"persona"`
	Relay         RelayConfig         `mapstructure:"relay"`
	Mongo         MongoConfig         `mapstructure:"mongo"`
}

type AIConfig struct {
	// Provider is the primary backend: groq or gemini. The other one, when
	// configured, is the secondary.
	Provider         string   `mapstructure:"provider"`
	Model            string   `mapstructure:"model"`
	Temperature      float32  `mapstructure:"temperature"`
	MaxTokens        int      `mapstructure:"maxTokens"`
	TopP             float32  `mapstructure:"topP"`
	FrequencyPenalty float32  `mapstructure:"frequencyPenalty"`
	PresencePenalty  float32  `mapstructure:"presencePenalty"`
	Stop             []string `mapstructure:"stop"`
	// ProxyURL routes groq requests through the relay instead of calling Groq directly.
	ProxyURL     string `mapstructure:"proxyURL"`
	GroqBaseURL  string `mapstructure:"groqBaseURL"`
	APIKey       string `mapstructure:"apiKey"`
	GeminiAPIKey string `mapstructure:"geminiAPIKey"`
	GeminiModel  string `mapstructure:"geminiModel"`
}

type VoiceConfig struct {
	// Provider is rest, elevenlabs or google.
	Provider     string  `mapstructure:"provider"`
	LanguageCode string  `mapstructure:"languageCode"`
	VoiceName    string  `mapstructure:"voiceName"`
	Pitch        float64 `mapstructure:"pitch"`
	SpeakingRate float64 `mapstructure:"speakingRate"`
	Endpoint     string  `mapstructure:"endpoint"`
	APIKey       string  `mapstructure:"apiKey"`
	Encoding     string  `mapstructure:"encoding"`
	// Fallback is google or empty.
	Fallback        string           `mapstructure:"fallback"`
	CredentialsFile string           `mapstructure:"credentialsFile"`
	ElevenLabs      ElevenLabsConfig `mapstructure:"elevenLabs"`
}

type ElevenLabsConfig struct {
	APIKey       string `mapstructure:"apiKey"`
	VoiceID      string `mapstructure:"voiceID"`
	ModelID      string `mapstructure:"modelID"`
	OutputFormat string `mapstructure:"outputFormat"`
}

type SpeechConfig struct {
	LanguageCode               string `mapstructure:"languageCode"`
	Model                      string `mapstructure:"model"`
	UseEnhanced                bool   `mapstructure:"useEnhanced"`
	EnableAutomaticPunctuation bool   `mapstructure:"enableAutomaticPunctuation"`
	SampleRate                 int    `mapstructure:"sampleRate"`
	Encoding                   string `mapstructure:"encoding"`
	TokenURL                   string `mapstructure:"tokenURL"`
	RESTBaseURL                string `mapstructure:"restBaseURL"`
	RelayURL                   string `mapstructure:"relayURL"`
	CredentialsFile            string `mapstructure:"credentialsFile"`
	// ClientToken authenticates the agent with the relay.
	ClientToken string `mapstructure:"clientToken"`
}

type VADConfig struct {
	Profile       string `mapstructure:"profile"`
	Calibrate     bool   `mapstructure:"calibrate"`
	CalibrationMs int    `mapstructure:"calibrationMs"`
	// Zero values keep the profile thresholds.
	EnergyThreshold          float64 `mapstructure:"energyThreshold"`
	SpeechFrequencyThreshold float64 `mapstructure:"speechFrequencyThreshold"`
	SilenceMs                int     `mapstructure:"silenceMs"`
	MinSpeechMs              int     `mapstructure:"minSpeechMs"`
}

// Thresholds returns the profile thresholds with any overrides applied.
func (v VADConfig) Thresholds() entities.VADThresholds {
	t := entities.ThresholdsForProfile(v.Profile)
	if v.EnergyThreshold > 0 {
		t.EnergyThreshold = v.EnergyThreshold
	}
	if v.SpeechFrequencyThreshold > 0 {
		t.SpeechFrequencyThreshold = v.SpeechFrequencyThreshold
	}
	if v.SilenceMs > 0 {
		t.SilenceThreshold = time.Duration(v.SilenceMs) * time.Millisecond
	}
	if v.MinSpeechMs > 0 {
		t.MinSpeechDuration = time.Duration(v.MinSpeechMs) * time.Millisecond
	}
	return t
}

type FeaturesConfig struct {
	EnableStreaming  bool `mapstructure:"enableStreaming"`
	EnableBargeIn    bool `mapstructure:"enableBargeIn"`
	EnableAudio      bool `mapstructure:"enableAudio"`
	TypingIntervalMs int  `mapstructure:"typingIntervalMs"`
}

type KnowledgeBaseConfig struct {
	ContextFile         string  `mapstructure:"contextFile"`
	TopK                int     `mapstructure:"topK"`
	SimilarityThreshold float64 `mapstructure:"similarityThreshold"`
}

type ConversationConfig struct {
	// HistoryCap bounds the messages sent to the model.
	HistoryCap   int `mapstructure:"historyCap"`
	DisplayTurns int `mapstructure:"displayTurns"`
	MinBlobBytes int `mapstructure:"minBlobBytes"`
}

type PersonaConfig struct {
	AssistantName string `mapstructure:"assistantName"`
	CompanyName   string `mapstructure:"companyName"`
	Description   string `mapstructure:"description"`
	SystemPrompt  string `mapstructure:"systemPrompt"`
}

type RelayConfig struct {
	Port                  int    `mapstructure:"port"`
	ClientSecret          string `mapstructure:"clientSecret"`
	GoogleCredentialsJSON string `mapstructure:"googleCredentialsJSON"`
	GroqAPIKey            string `mapstructure:"groqAPIKey"`
	GroqBaseURL           string `mapstructure:"groqBaseURL"`
	IdleTimeoutSeconds    int    `mapstructure:"idleTimeoutSeconds"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")

	v.SetDefault("ai.provider", "groq")
	v.SetDefault("ai.model", "llama-3.1-8b-instant")
	v.SetDefault("ai.temperature", 0.8)
	v.SetDefault("ai.maxTokens", 1024)
	v.SetDefault("ai.topP", 0.9)
	v.SetDefault("ai.frequencyPenalty", 0.2)
	v.SetDefault("ai.presencePenalty", 0.2)
	v.SetDefault("ai.stop", []string{"---", "###"})
	v.SetDefault("ai.proxyURL", "")
	v.SetDefault("ai.groqBaseURL", "")
	v.SetDefault("ai.apiKey", "")
	v.SetDefault("ai.geminiAPIKey", "")
	v.SetDefault("ai.geminiModel", "gemini-2.0-flash")

	v.SetDefault("voice.provider", "rest")
	v.SetDefault("voice.languageCode", "en-US")
	v.SetDefault("voice.voiceName", "en-US-Neural2-F")
	v.SetDefault("voice.pitch", 0.0)
	v.SetDefault("voice.speakingRate", 1.15)
	v.SetDefault("voice.endpoint", "")
	v.SetDefault("voice.apiKey", "")
	v.SetDefault("voice.encoding", entities.EncodingMP3)
	v.SetDefault("voice.fallback", "")
	v.SetDefault("voice.credentialsFile", "")
	v.SetDefault("voice.elevenLabs.apiKey", "")
	v.SetDefault("voice.elevenLabs.voiceID", "")
	v.SetDefault("voice.elevenLabs.modelID", "")
	v.SetDefault("voice.elevenLabs.outputFormat", "pcm_24000")

	v.SetDefault("speech.languageCode", "en-US")
	v.SetDefault("speech.model", "latest_long")
	v.SetDefault("speech.useEnhanced", true)
	v.SetDefault("speech.enableAutomaticPunctuation", true)
	v.SetDefault("speech.sampleRate", 16000)
	v.SetDefault("speech.encoding", entities.EncodingLinear16)
	v.SetDefault("speech.tokenURL", "")
	v.SetDefault("speech.restBaseURL", "")
	v.SetDefault("speech.relayURL", "")
	v.SetDefault("speech.credentialsFile", "")
	v.SetDefault("speech.clientToken", "")

	v.SetDefault("vad.profile", "desktop")
	v.SetDefault("vad.calibrate", true)
	v.SetDefault("vad.calibrationMs", 1000)
	v.SetDefault("vad.energyThreshold", 0.0)
	v.SetDefault("vad.speechFrequencyThreshold", 0.0)
	v.SetDefault("vad.silenceMs", 0)
	v.SetDefault("vad.minSpeechMs", 0)

	v.SetDefault("features.enableStreaming", false)
	v.SetDefault("features.enableBargeIn", true)
	v.SetDefault("features.enableAudio", true)
	v.SetDefault("features.typingIntervalMs", 60)

	v.SetDefault("knowledgeBase.contextFile", "")
	v.SetDefault("knowledgeBase.topK", 3)
	v.SetDefault("knowledgeBase.similarityThreshold", 0.7)

	v.SetDefault("conversation.historyCap", 20)
	v.SetDefault("conversation.displayTurns", 6)
	v.SetDefault("conversation.minBlobBytes", 5000)

	v.SetDefault("persona.assistantName", "")
	v.SetDefault("persona.companyName", "")
	v.SetDefault("persona.description", "")
	v.SetDefault("persona.systemPrompt", "")

	v.SetDefault("relay.port", 8080)
	v.SetDefault("relay.clientSecret", "")
	v.SetDefault("relay.googleCredentialsJSON", "")
	v.SetDefault("relay.groqAPIKey", "")
	v.SetDefault("relay.groqBaseURL", "")
	v.SetDefault("relay.idleTimeoutSeconds", 120)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "voiceagent")
}

// wellKnownEnv maps keys to the unprefixed variables the hosted services use.
var wellKnownEnv = map[string][]string{
	"logLevel":                    {"LOG_LEVEL"},
	"ai.apiKey":                   {"GROQ_API_KEY"},
	"ai.geminiAPIKey":             {"GOOGLE_AI_API_KEY"},
	"voice.elevenLabs.apiKey":     {"ELEVEN_LABS_API_KEY"},
	"voice.credentialsFile":       {"GOOGLE_APPLICATION_CREDENTIALS"},
	"speech.credentialsFile":      {"GOOGLE_APPLICATION_CREDENTIALS"},
	"relay.port":                  {"PORT"},
	"relay.groqAPIKey":            {"GROQ_API_KEY"},
	"relay.googleCredentialsJSON": {"GOOGLE_SERVICE_ACCOUNT_JSON"},
	"mongo.uri":                   {"MONGODB_URI"},
}

// Load reads .env, the optional config file named by VOICEAGENT_CONFIG and
// VOICEAGENT_* environment overrides, in increasing precedence.
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to load .env file", zap.Error(err))
		}
	} else {
		logger.Info("Loaded .env file")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range wellKnownEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		logger.Info("Loaded config file", zap.String("path", path))
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks enumerated settings.
func Validate(config Config) error {
	switch config.AI.Provider {
	case "groq", "gemini":
	default:
		return fmt.Errorf("invalid ai.provider %q: must be groq or gemini", config.AI.Provider)
	}
	switch config.Voice.Provider {
	case "rest", "elevenlabs", "google":
	default:
		return fmt.Errorf("invalid voice.provider %q: must be rest, elevenlabs or google", config.Voice.Provider)
	}
	switch config.Voice.Fallback {
	case "", "google":
	default:
		return fmt.Errorf("invalid voice.fallback %q: must be google or empty", config.Voice.Fallback)
	}
	switch config.VAD.Profile {
	case "desktop", "mobile":
	default:
		return fmt.Errorf("invalid vad.profile %q: must be desktop or mobile", config.VAD.Profile)
	}
	if config.Speech.SampleRate <= 0 {
		return errors.New("speech.sampleRate must be positive")
	}
	return nil
}
