package domain

import "github.com/resonira/voiceagent/domain/repositories"

// Streaming transcription relay message types.
const (
	StreamMessageConfig  = "config"
	StreamMessageAudio   = "audio"
	StreamMessagePartial = "partial"
	StreamMessageFinal   = "final"
	StreamMessageError   = "error"
)

// StreamConfig is the recognition config a client sends when opening a relay stream.
type StreamConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz,omitempty"`
	LanguageCode               string `json:"languageCode"`
	Model                      string `json:"model,omitempty"`
	UseEnhanced                bool   `json:"useEnhanced"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
	EnableInterimResults       bool   `json:"enableInterimResults"`
}

// StreamClientMessage is sent from the agent to the relay.
type StreamClientMessage struct {
	Type   string        `json:"type"`
	Config *StreamConfig `json:"config,omitempty"`
	Token  string        `json:"token,omitempty"`
	Audio  string        `json:"audio,omitempty"` // base64 encoded
}

// StreamServerMessage is sent from the relay to the agent.
type StreamServerMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ChatProxyRequest is the chat proxy request body.
type ChatProxyRequest struct {
	Messages         []repositories.ChatMessage `json:"messages"`
	Model            string                     `json:"model,omitempty"`
	Temperature      *float32                   `json:"temperature,omitempty"`
	MaxTokens        int                        `json:"max_tokens,omitempty"`
	TopP             *float32                   `json:"top_p,omitempty"`
	FrequencyPenalty *float32                   `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32                   `json:"presence_penalty,omitempty"`
	Stop             []string                   `json:"stop,omitempty"`
}

// ChatUsage mirrors the token accounting returned by the completion backend.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatProxyResponse is the normalized shape returned by the chat proxy.
type ChatProxyResponse struct {
	Response string     `json:"response,omitempty"`
	Model    string     `json:"model,omitempty"`
	Usage    *ChatUsage `json:"usage,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// TokenResponse is returned by the OAuth token backend.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at,omitempty"` // unix millis
	Error       string `json:"error,omitempty"`
}
