package openai

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
	defaultTimeout      = 90 * time.Second
	defaultMaxTextChars = 12000
)

// Config selects the chat-completions endpoint and model.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
	// LenientOptional drops entities labelled outside the request instead of
	// failing the whole response.
	LenientOptional bool
	// MaxTextChars truncates the document text sent in the prompt.
	MaxTextChars int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxTextChars <= 0 {
		c.MaxTextChars = defaultMaxTextChars
	}
	return c
}

// Client classifies text with an OpenAI-compatible JSON-mode model.
type Client struct {
	cfg      Config
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With("model", cfg.Model),
	}
}
