package config

import "time"

// AppVersion is sent as the cache-busting v parameter of stream list requests.
const AppVersion = "20260214-1"

// Settings is the process configuration read from the environment.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	// StreamsURL is a file path or http(s) URL of the stream list.
	StreamsURL string
	// ProbeURL is checked for connectivity. Empty means always online.
	ProbeURL      string
	ProbeInterval time.Duration
	NativeHLS     bool

	ViewportWidth  float64
	ViewportHeight float64
	SoftReload     time.Duration
	OutageDuration time.Duration
	StallWindow    time.Duration

	EngineWorkers int
	PlaylistRate  int

	PrefsBackend  string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// DemoStreams > 0 serves a simulated origin under /demo and, when
	// StreamsURL is empty, puts its streams on the wall.
	DemoStreams         int
	DemoSegmentDuration time.Duration
	DemoWindowSize      int
}

// FromEnv reads Settings, applying defaults for anything unset.
func FromEnv() Settings {
	return Settings{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		StreamsURL:    GetEnv("STREAMS_URL", ""),
		ProbeURL:      GetEnv("PROBE_URL", ""),
		ProbeInterval: GetEnvDuration("PROBE_INTERVAL", 10*time.Second),
		NativeHLS:     GetEnvBool("NATIVE_HLS", false),

		ViewportWidth:  GetEnvFloat("VIEWPORT_WIDTH", 1920),
		ViewportHeight: GetEnvFloat("VIEWPORT_HEIGHT", 1080),
		SoftReload:     GetEnvDuration("SOFT_RELOAD_INTERVAL", 6*time.Hour),
		OutageDuration: GetEnvDuration("OUTAGE_DURATION", 2*time.Minute),
		StallWindow:    GetEnvDuration("STALL_WINDOW", 40*time.Second),

		EngineWorkers: GetEnvInt("ENGINE_WORKERS", 16),
		PlaylistRate:  GetEnvInt("PLAYLIST_RATE", 20),

		PrefsBackend:  GetEnv("PREFS_BACKEND", "memory"),
		SQLitePath:    GetEnv("PREFS_SQLITE_PATH", "streamwall.db"),
		RedisAddr:     GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("REDIS_DB", 0),

		DemoStreams:         GetEnvInt("DEMO_STREAMS", 0),
		DemoSegmentDuration: GetEnvDuration("DEMO_SEGMENT_DURATION", 2*time.Second),
		DemoWindowSize:      GetEnvInt("SLIDING_WINDOW_SIZE", 6),
	}
}
