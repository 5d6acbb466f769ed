// Package observability wires OpenTelemetry tracing and metrics and a
// context-aware structured logger for every specpriv entry point
// (profile, plan, remedy, run, version).
package observability

import "log/slog"

// AppMode identifies which specpriv subcommand is running.
type AppMode string

const (
	// ModeProfile is the points-to/allocation-unit profiling run.
	ModeProfile AppMode = "profile"
	// ModePlan is the critic + remediator planning run.
	ModePlan AppMode = "plan"
	// ModeRemedy is a standalone remedy-selection run.
	ModeRemedy AppMode = "remedy"
	// ModeRun is the speculative parallel execution run.
	ModeRun AppMode = "run"
)

const (
	// defaultServiceName is the default OTel service name.
	defaultServiceName = "specpriv"

	// defaultShutdownTimeoutSec is the default shutdown timeout in seconds.
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the semantic version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment (e.g. "production", "staging", "dev").
	Environment string

	// Mode identifies which subcommand launched this process.
	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	// Empty disables export; providers become no-op.
	OTLPEndpoint string

	// OTLPHeaders are additional gRPC metadata headers for the OTLP exporter.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the OTLP gRPC connection.
	OTLPInsecure bool

	// DebugTrace forces 100% trace sampling when true.
	DebugTrace bool

	// SampleRatio is the trace sampling ratio (0.0 to 1.0) when DebugTrace is false.
	// Zero uses the OTel SDK default (parent-based with always-on root).
	SampleRatio float64

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// TraceVerbose enables per-iteration spans (begin_iter/end_iter, commit
	// steps). When false (default), only structural spans are recorded.
	TraceVerbose bool

	// LogJSON enables JSON-formatted log output.
	LogJSON bool

	// ShutdownTimeoutSec is the maximum seconds to wait for flush on shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config with sensible defaults for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModePlan,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
