package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/linkprobe/model"
)

// Flow outcome label values.
const (
	OutcomeMeasured   = "measured"
	OutcomeDegenerate = "degenerate"
)

// Packet direction label values.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// CampaignCollector bundles Prometheus metrics for measurement campaigns
// and the route reconciler, and exposes them over HTTP.
type CampaignCollector struct {
	gatherer prometheus.Gatherer

	Campaigns       *prometheus.CounterVec
	FlowsScheduled  *prometheus.CounterVec
	FlowsMeasured   *prometheus.CounterVec
	Packets         *prometheus.CounterVec
	Throughput      prometheus.Histogram
	PSR             prometheus.Histogram
	RouteOperations *prometheus.CounterVec
	SimulationTime  prometheus.Gauge
}

// NewCampaignCollector registers campaign metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCampaignCollector(reg prometheus.Registerer) (*CampaignCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	campaigns, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkprobe_campaigns_total",
		Help: "Campaigns started, labeled by mode.",
	}, []string{"mode"}), "linkprobe_campaigns_total")
	if err != nil {
		return nil, err
	}

	scheduled, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkprobe_flows_scheduled_total",
		Help: "Measurement flows installed, labeled by campaign mode.",
	}, []string{"mode"}), "linkprobe_flows_scheduled_total")
	if err != nil {
		return nil, err
	}

	measured, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkprobe_flows_measured_total",
		Help: "Flows whose statistics were collected, labeled by outcome.",
	}, []string{"outcome"}), "linkprobe_flows_measured_total")
	if err != nil {
		return nil, err
	}

	packets, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkprobe_packets_total",
		Help: "Packets simulated across finished flows, labeled by direction.",
	}, []string{"direction"}), "linkprobe_packets_total")
	if err != nil {
		return nil, err
	}

	throughput, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkprobe_flow_throughput_mbps",
		Help:    "Measured per-flow throughput in Mbps (2^20 bits).",
		Buckets: []float64{0.1, 0.5, 1, 2, 4, 6, 8, 12, 16, 24, 32, 48, 64},
	}), "linkprobe_flow_throughput_mbps")
	if err != nil {
		return nil, err
	}

	psr, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkprobe_flow_psr_percent",
		Help:    "Measured per-flow packet success rate in percent.",
		Buckets: prometheus.LinearBuckets(10, 10, 10),
	}), "linkprobe_flow_psr_percent")
	if err != nil {
		return nil, err
	}

	routes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linkprobe_route_operations_total",
		Help: "Forwarding table operations performed by the reconciler, labeled by op.",
	}, []string{"op"}), "linkprobe_route_operations_total")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "linkprobe_simulation_time_seconds",
		Help: "Simulation clock offset of the running campaign.",
	}), "linkprobe_simulation_time_seconds")
	if err != nil {
		return nil, err
	}

	return &CampaignCollector{
		gatherer:        gatherer,
		Campaigns:       campaigns,
		FlowsScheduled:  scheduled,
		FlowsMeasured:   measured,
		Packets:         packets,
		Throughput:      throughput,
		PSR:             psr,
		RouteOperations: routes,
		SimulationTime:  simTime,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *CampaignCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *CampaignCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// CampaignStarted counts a campaign and the flows it scheduled.
func (c *CampaignCollector) CampaignStarted(mode string, flows int) {
	if c == nil {
		return
	}
	c.Campaigns.WithLabelValues(mode).Inc()
	c.FlowsScheduled.WithLabelValues(mode).Add(float64(flows))
}

// ObserveFlowResult records one collected flow. Degenerate flows are
// counted but kept out of the histograms.
func (c *CampaignCollector) ObserveFlowResult(res model.FlowResult) {
	if c == nil {
		return
	}
	if res.Degenerate {
		c.FlowsMeasured.WithLabelValues(OutcomeDegenerate).Inc()
		return
	}
	c.FlowsMeasured.WithLabelValues(OutcomeMeasured).Inc()
	c.Throughput.Observe(res.ThroughputMbps)
	c.PSR.Observe(res.PSR)
}

// ObserveFlowPackets adds the final packet counters of a simulated flow.
func (c *CampaignCollector) ObserveFlowPackets(stats model.FlowStats) {
	if c == nil {
		return
	}
	c.Packets.WithLabelValues(DirectionSent).Add(float64(stats.TxPackets))
	c.Packets.WithLabelValues(DirectionReceived).Add(float64(stats.RxPackets))
}

// ObserveRouteOperations satisfies routing.OperationRecorder.
func (c *CampaignCollector) ObserveRouteOperations(op string, count int) {
	if c == nil || count <= 0 {
		return
	}
	c.RouteOperations.WithLabelValues(op).Add(float64(count))
}

// ObserveSimTime sets the simulation clock gauge.
func (c *CampaignCollector) ObserveSimTime(offset time.Duration) {
	if c == nil {
		return
	}
	c.SimulationTime.Set(offset.Seconds())
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
