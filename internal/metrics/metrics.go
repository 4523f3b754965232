// Package metrics holds the Prometheus collectors of the price indicator.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the application exports.
type Metrics struct {
	// Download service
	DownloadsTotal   *prometheus.CounterVec
	DownloadDuration *prometheus.HistogramVec
	DownloadsActive  prometheus.Gauge

	// Discovery rounds
	DiscoveryRoundsTotal   *prometheus.CounterVec
	DiscoveryRoundDuration prometheus.Histogram
	ExchangeDiscoveryTotal *prometheus.CounterVec
	CatalogPairs           *prometheus.GaugeVec
	AssetGraphBases        prometheus.Gauge

	// Tickers
	PriceUpdatesTotal *prometheus.CounterVec
}

// New registers the collectors on reg. Passing prometheus.DefaultRegisterer
// exposes them on the default promhttp handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DownloadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coin_downloads_total",
				Help: "Outbound requests by owner and outcome",
			},
			[]string{"owner", "outcome"},
		),
		DownloadDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coin_download_duration_seconds",
				Help:    "Outbound request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"owner"},
		),
		DownloadsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "coin_downloads_active",
				Help: "Requests currently holding a download slot",
			},
		),
		DiscoveryRoundsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coin_discovery_rounds_total",
				Help: "Completed discovery rounds by outcome",
			},
			[]string{"outcome"},
		),
		DiscoveryRoundDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coin_discovery_round_duration_seconds",
				Help:    "Time from round start to the last exchange completing",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		ExchangeDiscoveryTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coin_exchange_discovery_total",
				Help: "Per exchange discovery results",
			},
			[]string{"exchange", "result"},
		),
		CatalogPairs: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coin_catalog_pairs",
				Help: "Asset pairs known per exchange after the last rebuild",
			},
			[]string{"exchange"},
		),
		AssetGraphBases: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "coin_asset_graph_bases",
				Help: "Base symbols in the current asset graph",
			},
		),
		PriceUpdatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coin_price_updates_total",
				Help: "Ticker price updates by exchange and result",
			},
			[]string{"exchange", "result"},
		),
	}
}

func (m *Metrics) ObserveDownload(owner string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.DownloadsTotal.WithLabelValues(owner, outcome(err)).Inc()
	m.DownloadDuration.WithLabelValues(owner).Observe(d.Seconds())
}

func (m *Metrics) DownloadStarted() {
	if m == nil {
		return
	}
	m.DownloadsActive.Inc()
}

func (m *Metrics) DownloadFinished() {
	if m == nil {
		return
	}
	m.DownloadsActive.Dec()
}

func (m *Metrics) ObserveExchangeDiscovery(exchange string, err error) {
	if m == nil {
		return
	}
	m.ExchangeDiscoveryTotal.WithLabelValues(exchange, outcome(err)).Inc()
}

// ObserveRound records a finished round. failed is the number of exchanges
// whose discovery did not succeed.
func (m *Metrics) ObserveRound(failed int, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if failed > 0 {
		result = "partial"
	}
	m.DiscoveryRoundsTotal.WithLabelValues(result).Inc()
	m.DiscoveryRoundDuration.Observe(d.Seconds())
}

// ObserveGraph records catalog sizes per exchange and the graph width.
func (m *Metrics) ObserveGraph(pairs map[string]int, bases int) {
	if m == nil {
		return
	}
	for code, n := range pairs {
		m.CatalogPairs.WithLabelValues(code).Set(float64(n))
	}
	m.AssetGraphBases.Set(float64(bases))
}

func (m *Metrics) ObservePrice(exchange string, err error) {
	if m == nil {
		return
	}
	m.PriceUpdatesTotal.WithLabelValues(exchange, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
