package cfg

type Cfg struct {
	// HTTP server configuration
	Port    string
	BaseUrl string

	// Storage configuration
	DBPath string

	// Cache configuration
	RedisAddr   string
	CachePrefix string

	// Upstream API configuration
	UpstreamURL       string
	UpstreamTimeout   int
	RateLimitCooldown int
	MaxRetries        int
	BackoffMultiplier float64
	BackoffMin        int
	BackoffMax        int
	BreakerThreshold  int
	BreakerRecovery   int
	PageDelayMS       int
	MaxIdleConns      int
	MaxConnsPerHost   int

	// Sync configuration
	SyncInterval int
	StartupDelay int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
