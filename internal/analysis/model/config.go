package model

// ================ Config ================
type AnalysisConfig struct {
	DefaultModel string `envconfig:"ANALYSIS_DEFAULT_MODEL" default:"gemini-2.5-flash"`

	// CacheEnabled switches uploads from the attach-on-first-message strategy
	// to the paid-tier content cache with a heartbeat-renewed lease.
	CacheEnabled bool `envconfig:"ANALYSIS_CACHE_ENABLED" default:"false"`
	CacheTTLMins int  `envconfig:"ANALYSIS_CACHE_TTL_MINUTES" default:"10"`

	// StorageApproxMins adds a fixed-duration storage cost to each
	// interaction's cost summary. Zero disables the component entirely.
	StorageApproxMins int `envconfig:"ANALYSIS_STORAGE_APPROX_MINUTES" default:"10"`
}

type ServerConfig struct {
	Port           int    `envconfig:"SERVER_PORT" default:"8000"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS"`
	AdminToken     string `envconfig:"ADMIN_TOKEN"`
}
