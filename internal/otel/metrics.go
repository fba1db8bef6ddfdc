package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all workflow metric instruments.
type Metrics struct {
	StageDuration     metric.Float64Histogram
	LLMCallDuration   metric.Float64Histogram
	LoopCycles        metric.Int64Counter
	StageErrors       metric.Int64Counter
	BufferTruncations metric.Int64Counter
	WebSearches       metric.Int64Counter
	ForcedStops       metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.StageDuration, err = meter.Float64Histogram("llamia.stage.duration",
		metric.WithDescription("Stage execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("llamia.llm.duration",
		metric.WithDescription("LLM API call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.LoopCycles, err = meter.Int64Counter("llamia.loop.cycles",
		metric.WithDescription("Total driver cycles executed"),
	)
	if err != nil {
		return nil, err
	}

	m.StageErrors, err = meter.Int64Counter("llamia.stage.errors",
		metric.WithDescription("Collaborator failures recovered by the driver"),
	)
	if err != nil {
		return nil, err
	}

	m.BufferTruncations, err = meter.Int64Counter("llamia.state.truncations",
		metric.WithDescription("Bounded state buffer eviction events"),
	)
	if err != nil {
		return nil, err
	}

	m.WebSearches, err = meter.Int64Counter("llamia.web.searches",
		metric.WithDescription("Web search queries issued"),
	)
	if err != nil {
		return nil, err
	}

	m.ForcedStops, err = meter.Int64Counter("llamia.loop.forced_stops",
		metric.WithDescription("Turns terminated by the loop ceiling"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
