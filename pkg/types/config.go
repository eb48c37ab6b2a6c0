package types

// Config represents the pair-review configuration, merged from config
// files and environment overrides.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	Server ServerConfig `json:"server,omitempty" yaml:"server,omitempty"`
	Client ClientConfig `json:"client,omitempty" yaml:"client,omitempty"`
	Log    LogConfig    `json:"log,omitempty" yaml:"log,omitempty"`
}

// ServerConfig holds backend server settings.
type ServerConfig struct {
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
	// DataDir is where session history and run metadata are persisted.
	DataDir    string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`
	EnableCORS bool   `json:"enableCORS,omitempty" yaml:"enableCORS,omitempty"`
	// SessionTTLSeconds controls when inactive sessions expire and start
	// answering 410 to message sends. Zero keeps the default TTL.
	SessionTTLSeconds int `json:"sessionTTLSeconds,omitempty" yaml:"sessionTTLSeconds,omitempty"`
}

// ClientConfig holds settings for the sync-layer client.
type ClientConfig struct {
	BaseURL  string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	ReviewID string `json:"reviewID,omitempty" yaml:"reviewID,omitempty"`
	// ProviderHint is forwarded on session creation.
	ProviderHint string `json:"providerHint,omitempty" yaml:"providerHint,omitempty"`
	// ReconnectDelayMS overrides the fixed reconnect backoff. Zero keeps
	// the default.
	ReconnectDelayMS int `json:"reconnectDelayMS,omitempty" yaml:"reconnectDelayMS,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty" yaml:"pretty,omitempty"`
}
