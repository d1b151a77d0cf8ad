package llmclient

import (
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/tractvcs/tract/internal/telemetry"
)

var llmMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var once sync.Once

// llmMetricsOnce lazily initializes the package's OTel instruments; named
// as a function (rather than exposing the sync.Once directly) so callers
// just call it.
func llmMetricsOnce() {
	once.Do(func() {
		m := telemetry.Meter("github.com/tractvcs/tract/llm")
		llmMetrics.inputTokens, _ = m.Int64Counter("tract.llm.input_tokens",
			metric.WithDescription("LLM API input tokens consumed"),
			metric.WithUnit("{token}"),
		)
		llmMetrics.outputTokens, _ = m.Int64Counter("tract.llm.output_tokens",
			metric.WithDescription("LLM API output tokens generated"),
			metric.WithUnit("{token}"),
		)
		llmMetrics.duration, _ = m.Float64Histogram("tract.llm.request.duration",
			metric.WithDescription("LLM API request duration in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}
