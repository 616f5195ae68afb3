package api

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by the health check.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Connections int    `json:"connections"`
}

const (
	tokenLifetimeSeconds = 3600

	defaultChatModel     = "llama-3.1-8b-instant"
	defaultChatMaxTokens = 80
)

var (
	defaultChatTemperature float32 = 0.8
	defaultChatTopP        float32 = 0.9
	defaultChatPenalty     float32 = 0.2
	defaultChatStop                = []string{"\n\n", "---", "###"}
)
