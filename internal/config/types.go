package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes JSON as "1s", "250ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// RetrySettings shape the pause between retries of a failing task.
type RetrySettings struct {
	InitialInterval Duration `json:"initial_interval"`
	MaxInterval     Duration `json:"max_interval"`
	Multiplier      float64  `json:"multiplier" validate:"omitempty,gte=1"`
	Jitter          float64  `json:"jitter" validate:"gte=0,lte=1"`
}

// BreakerSettings enable the per-task circuit breaker.
type BreakerSettings struct {
	ConsecutiveFailures uint32   `json:"consecutive_failures" validate:"gte=1"`
	MaxRequests         uint32   `json:"max_requests" validate:"gte=1"`
	Timeout             Duration `json:"timeout"`
}

// TelemetrySettings configure OTLP trace export.
type TelemetrySettings struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"` // host:port, empty uses the OTEL_* environment
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// Settings are the run-wide knobs.
type Settings struct {
	LogLevel     string            `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	LogFormat    string            `json:"log_format,omitempty" validate:"omitempty,oneof=text json"`
	Timezone     string            `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Parallelism  int               `json:"parallelism" validate:"gte=0"` // 0 runs every node on its own goroutine
	PollInterval Duration          `json:"poll_interval"`
	MarkerDB     string            `json:"marker_db,omitempty"` // SQLite path for marker outputs
	Retry        RetrySettings     `json:"retry"`
	Breaker      *BreakerSettings  `json:"breaker,omitempty"`
	Telemetry    TelemetrySettings `json:"telemetry"`
}

// OutputConfig selects how a task records completion.
type OutputConfig struct {
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=memory file marker"`
	Path string `json:"path,omitempty" validate:"required_if=Kind file"` // template, see output.Expand
}

// TaskConfig declares one shell task of the pipeline.
type TaskConfig struct {
	ID          string       `json:"id" validate:"required"`
	Command     string       `json:"command" validate:"required"`
	Granularity string       `json:"granularity" validate:"required,granularity"`
	DependsOn   []string     `json:"depends_on,omitempty"`
	Retries     int          `json:"retries,omitempty" validate:"gte=0"`
	Dir         string       `json:"dir,omitempty"`
	Env         []string     `json:"env,omitempty"`
	Output      OutputConfig `json:"output"`
	Locks       []string     `json:"locks,omitempty"` // resource names held while the command runs
	Parallelism int          `json:"parallelism,omitempty" validate:"gte=0"` // >0 gives the task its own executor
}

// Config is the top-level configuration: settings plus the pipeline, in
// dependency order.
type Config struct {
	Settings Settings     `json:"settings"`
	Tasks    []TaskConfig `json:"tasks" validate:"dive"`
}

// Task returns the task with the given id.
func (c *Config) Task(id string) (TaskConfig, bool) {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return TaskConfig{}, false
}
