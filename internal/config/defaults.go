package config

const (
	defaultConfigPath = "~/.config/livemarks/config.toml"

	// IdleSourceTTY measures user idle time from terminal device access times.
	IdleSourceTTY = "tty"
	// IdleSourceNone disables idle suppression.
	IdleSourceNone = "none"

	defaultRefreshIntervalSeconds = 3600
	minRefreshIntervalSeconds     = 60
	defaultFetchTimeoutSeconds    = 30
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Paths: Paths{
			Database: "~/.local/share/livemarks/livemarks.db",
			LockFile: "~/.local/share/livemarks/livemarks.lock",
		},
		Refresh: Refresh{
			RefreshIntervalSeconds: defaultRefreshIntervalSeconds,
			IdleSource:             IdleSourceTTY,
			UserAgent:              "Livemarks/1.0",
			FetchTimeoutSeconds:    defaultFetchTimeoutSeconds,
			LoadingTitle:           "Live Bookmark loading...",
		},
		Server: Server{
			Bind: "127.0.0.1:7489",
		},
		Logging: Logging{
			Level: "info",
		},
	}
}
