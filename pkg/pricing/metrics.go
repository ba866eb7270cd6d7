package pricing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for quote resolution.
var (
	quoteResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_quote_resolutions_total",
		Help: "Total successful quote resolutions by winning source",
	}, []string{"source"})

	quoteSourceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_quote_source_failures_total",
		Help: "Total quote source failures by source and reason",
	}, []string{"source", "reason"})

	quoteResolutionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_quote_resolution_failures_total",
		Help: "Total resolutions where no source produced a valid quote",
	})
)
