package commands

import (
	"os"

	"github.com/liberty-specpriv/specpriv/pkg/observability"
	"github.com/liberty-specpriv/specpriv/pkg/version"
)

// initObservability builds the Providers for one subcommand invocation,
// reading the standard OTEL_EXPORTER_OTLP_* environment variables the way
// every subcommand does regardless of which one is running.
func initObservability(mode observability.AppMode, debugTrace bool) (observability.Providers, error) {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version.Version
	cfg.Mode = mode
	cfg.DebugTrace = debugTrace
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	cfg.OTLPInsecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"

	return observability.Init(cfg)
}
