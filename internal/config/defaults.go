package config

import "time"

// DefaultConfig returns the built-in settings and an empty pipeline.
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel:     "info",
			LogFormat:    "text",
			Parallelism:  0,
			PollInterval: Duration{time.Second},
			MarkerDB:     ".jobpipe/markers.db",
			Retry: RetrySettings{
				InitialInterval: Duration{100 * time.Millisecond},
				MaxInterval:     Duration{10 * time.Second},
				Multiplier:      2.0,
				Jitter:          0.5,
			},
			Telemetry: TelemetrySettings{
				ServiceName: "jobpipe",
			},
		},
	}
}
