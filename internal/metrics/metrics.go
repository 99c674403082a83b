package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// DispatchTable exposes the number of registered handlers per section.
type DispatchTable interface {
	SectionKeys() map[string]int
}

// ProvisioningCounter is the subset of the provisioning store the collector
// reads at scrape time.
type ProvisioningCounter interface {
	Gateways(ctx context.Context) ([]provisioning.Gateway, error)
	DidExtensions(ctx context.Context) ([]provisioning.DidExtension, error)
}

// Collector is a prometheus.Collector that gathers intercompbx metrics. Request
// counters are updated as documents are served; provisioning gauges are read
// at scrape time.
type Collector struct {
	dispatch  DispatchTable
	store     ProvisioningCounter
	startTime time.Time
	logger    *slog.Logger

	documents   *prometheus.CounterVec
	routes      *prometheus.CounterVec
	vertoLogins *prometheus.CounterVec

	dispatchKeysDesc *prometheus.Desc
	gatewaysDesc     *prometheus.Desc
	didsDesc         *prometheus.Desc
	uptimeDesc       *prometheus.Desc
}

// NewCollector creates a new metrics collector. store may be nil if
// unavailable; SetDispatch attaches the table once it is built.
func NewCollector(store ProvisioningCounter, startTime time.Time, logger *slog.Logger) *Collector {
	return &Collector{
		store:     store,
		startTime: startTime,
		logger:    logger.With("subsystem", "metrics"),

		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercompbx_documents_total",
			Help: "Documents served to the switch by route and outcome",
		}, []string{"route", "outcome"}),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercompbx_dialplan_routes_total",
			Help: "Dialplan resolutions by route kind",
		}, []string{"kind"}),
		vertoLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intercompbx_verto_logins_total",
			Help: "Verto client logins by outcome (ok, unknown_client, session_mismatch)",
		}, []string{"outcome"}),

		dispatchKeysDesc: prometheus.NewDesc(
			"intercompbx_dispatch_keys",
			"Handlers registered per dispatch section",
			[]string{"section"}, nil,
		),
		gatewaysDesc: prometheus.NewDesc(
			"intercompbx_gateways",
			"Number of provisioned carrier gateways",
			nil, nil,
		),
		didsDesc: prometheus.NewDesc(
			"intercompbx_did_extensions",
			"Number of provisioned DIDs by binding state",
			[]string{"bound"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"intercompbx_uptime_seconds",
			"Seconds since the intercompbx process started",
			nil, nil,
		),
	}
}

// SetDispatch attaches the dispatch table reported by intercompbx_dispatch_keys.
// It must be called before the collector is registered.
func (c *Collector) SetDispatch(d DispatchTable) {
	c.dispatch = d
}

// ObserveDocument counts a document served on route with the given outcome.
func (c *Collector) ObserveDocument(route, outcome string) {
	c.documents.WithLabelValues(route, outcome).Inc()
}

// ObserveRoute counts a dialplan resolution of the given kind.
func (c *Collector) ObserveRoute(kind string) {
	c.routes.WithLabelValues(kind).Inc()
}

// ObserveVertoLogin counts a verto client login with the given outcome.
func (c *Collector) ObserveVertoLogin(outcome string) {
	c.vertoLogins.WithLabelValues(outcome).Inc()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.documents.Describe(ch)
	c.routes.Describe(ch)
	c.vertoLogins.Describe(ch)
	ch <- c.dispatchKeysDesc
	ch <- c.gatewaysDesc
	ch <- c.didsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.documents.Collect(ch)
	c.routes.Collect(ch)
	c.vertoLogins.Collect(ch)

	if c.dispatch != nil {
		for section, n := range c.dispatch.SectionKeys() {
			ch <- prometheus.MustNewConstMetric(
				c.dispatchKeysDesc, prometheus.GaugeValue, float64(n), section,
			)
		}
	}

	if c.store != nil {
		gateways, err := c.store.Gateways(ctx)
		if err != nil {
			c.logger.Error("failed to list gateways", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.gatewaysDesc, prometheus.GaugeValue, float64(len(gateways)),
			)
		}

		dids, err := c.store.DidExtensions(ctx)
		if err != nil {
			c.logger.Error("failed to list did extensions", "error", err)
		} else {
			var bound, unbound int
			for _, d := range dids {
				if d.Extension != nil {
					bound++
				} else {
					unbound++
				}
			}
			ch <- prometheus.MustNewConstMetric(c.didsDesc, prometheus.GaugeValue, float64(bound), "true")
			ch <- prometheus.MustNewConstMetric(c.didsDesc, prometheus.GaugeValue, float64(unbound), "false")
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
