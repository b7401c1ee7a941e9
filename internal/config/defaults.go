package config

import "time"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Cookies: map[string]string{},
		},
		Relay: RelayConfig{
			Secure:            true,
			HeartbeatInterval: Duration(30 * time.Second),
			HandshakeTimeout:  Duration(10 * time.Second),
			DialTimeout:       Duration(10 * time.Second),
		},
		Output: OutputConfig{
			Format:        "text",
			TimeZone:      "Asia/Shanghai",
			TimeLayout:    "15:04:05",
			TimestampUnit: "s",
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9090",
			Path:    "/metrics",
		},
		API: APIConfig{
			BaseURL: "https://api.bilibili.com",
			LiveURL: "https://api.live.bilibili.com",
			Timeout: Duration(10 * time.Second),
		},
	}
}
