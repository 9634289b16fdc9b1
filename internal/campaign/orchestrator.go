package campaign

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/linkprobe/internal/datalogger"
	"github.com/signalsfoundry/linkprobe/internal/events"
	"github.com/signalsfoundry/linkprobe/internal/logging"
	"github.com/signalsfoundry/linkprobe/internal/matrix"
	"github.com/signalsfoundry/linkprobe/internal/routing"
	"github.com/signalsfoundry/linkprobe/model"
)

const tracerName = "github.com/signalsfoundry/linkprobe/internal/campaign"

// Network is the simulated deployment a campaign measures.
type Network interface {
	Transport
	// Size is the number of wireless nodes.
	Size() int
	// Routing exposes every node's forwarding table to the reconciler.
	Routing() routing.Network
}

// Metrics receives campaign telemetry. A nil Metrics disables it.
type Metrics interface {
	ResultRecorder
	routing.OperationRecorder
	CampaignStarted(mode string, flows int)
	ObserveSimTime(offset time.Duration)
}

// Options are the operator's campaign choices.
type Options struct {
	Nodes        int
	Seed         uint64
	Source       int
	Sink         int
	LinkTest     bool
	UpdateRoutes bool
	Reset        bool
	Timing       Timing
	Flow         FlowSpec
}

// Report describes a finished campaign.
type Report struct {
	CampaignID string
	Plan       Plan
	// ForcedLinkTest is set when no baseline existed and a sweep ran
	// regardless of Options.LinkTest.
	ForcedLinkTest bool
	DirectRoutes   routing.Stats
	Reconciled     routing.Stats
	Matrices       *Matrices
	Results        []model.FlowResult
	Summary        Summary
	Paths          Paths
}

// Orchestrator runs one campaign end to end: routing setup, matrix
// loading, flow scheduling and persistence.
type Orchestrator struct {
	opts    Options
	paths   Paths
	network Network
	events  events.EventScheduler
	epoch   time.Time
	log     logging.Logger
	metrics Metrics
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the base logger; a campaign_id is added per run.
func WithLogger(log logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = log }
}

// WithMetrics attaches a telemetry sink.
func WithMetrics(m Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires a campaign over network. Window offsets are
// measured from epoch on ev's clock.
func NewOrchestrator(opts Options, paths Paths, network Network, ev events.EventScheduler, epoch time.Time, options ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		opts:    opts,
		paths:   paths,
		network: network,
		events:  ev,
		epoch:   epoch,
		log:     logging.Noop(),
	}
	for _, opt := range options {
		opt(o)
	}
	if o.log == nil {
		o.log = logging.Noop()
	}
	return o
}

// Run executes the campaign and persists its matrices.
func (o *Orchestrator) Run(ctx context.Context) (_ *Report, err error) {
	ctx, log := logging.WithCampaignLogger(ctx, o.log)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "campaign.Run", trace.WithAttributes(
		attribute.Int("nodes", o.opts.Nodes),
		attribute.Int64("seed", int64(o.opts.Seed)),
		attribute.Bool("link_test", o.opts.LinkTest),
		attribute.Bool("update_routes", o.opts.UpdateRoutes),
		attribute.Bool("reset", o.opts.Reset),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	n := o.opts.Nodes
	if size := o.network.Size(); size != n {
		return nil, fmt.Errorf("%w: network has %d nodes, campaign expects %d", ErrInvalidConfiguration, size, n)
	}
	report := &Report{
		CampaignID: logging.CampaignIDFromContext(ctx),
		Paths:      o.paths,
	}

	if err := o.setupRoutes(ctx, log, report); err != nil {
		return nil, err
	}

	m, linkTest, err := o.loadMatrices(ctx, log)
	if err != nil {
		return nil, err
	}
	report.Matrices = m
	report.ForcedLinkTest = linkTest && !o.opts.LinkTest

	var plan Plan
	if linkTest {
		plan = LinkTestPlan(n, o.opts.Timing)
	} else {
		plan, err = SinglePairPlan(n, o.opts.Source, o.opts.Sink, o.opts.Timing)
		if err != nil {
			log.Warn(ctx, "single-pair campaign skipped", logging.Err(err))
			plan = Plan{Mode: ModeSinglePair, Timing: o.opts.Timing}
		}
	}
	report.Plan = plan
	span.SetAttributes(
		attribute.String("mode", plan.Mode.String()),
		attribute.Int("flows", len(plan.Tasks)),
	)

	results, err := o.measure(ctx, log, plan, m)
	if err != nil {
		return nil, err
	}
	report.Results = results
	report.Summary = Summarize(results)

	if err := o.persist(ctx, log, plan, m, results); err != nil {
		return nil, err
	}

	log.Info(ctx, "campaign complete",
		logging.String("mode", plan.Mode.String()),
		logging.Int("flows", report.Summary.Flows),
		logging.Int("degenerate", report.Summary.Degenerate),
		logging.Float64("p50_throughput_mbps", report.Summary.P50Throughput),
		logging.Float64("mean_psr_percent", report.Summary.MeanPSR),
	)
	return report, nil
}

// setupRoutes makes sure a routing matrix exists, installs direct routes
// and, when requested, reconciles them against the matrix.
func (o *Orchestrator) setupRoutes(ctx context.Context, log logging.Logger, report *Report) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "campaign.SetupRoutes")
	defer span.End()

	n := o.opts.Nodes
	if !matrix.Exists(o.paths.Routing) {
		log.Info(ctx, "routing matrix missing; writing direct routing", logging.String("path", o.paths.Routing))
		if err := matrix.InitRoutingMatrix(o.paths.Routing, n); err != nil {
			return err
		}
	}
	routes, err := matrix.Load[int](o.paths.Routing)
	if err != nil {
		return err
	}
	if err := routes.RequireSquare(n); err != nil {
		return fmt.Errorf("%s: %w", o.paths.Routing, err)
	}
	if err := routing.ValidateMatrix(routes, n); err != nil {
		return fmt.Errorf("%s: %w", o.paths.Routing, err)
	}

	rOpts := []routing.Option{
		routing.WithRand(rand.New(rand.NewPCG(o.opts.Seed, o.opts.Seed))),
		routing.WithLogger(log),
	}
	if o.metrics != nil {
		rOpts = append(rOpts, routing.WithMetrics(o.metrics))
	}
	rec := routing.NewReconciler(rOpts...)
	net := o.network.Routing()

	report.DirectRoutes, err = rec.InitializeDirectRoutes(ctx, net)
	if err != nil {
		return fmt.Errorf("initialise direct routes: %w", err)
	}
	if !o.opts.UpdateRoutes {
		return nil
	}
	report.Reconciled, err = rec.Reconcile(ctx, net, routes)
	if err != nil {
		return fmt.Errorf("reconcile routes: %w", err)
	}
	span.SetAttributes(
		attribute.Int("routes.added", report.Reconciled.Added),
		attribute.Int("routes.removed", report.Reconciled.Removed),
		attribute.Int("routes.kept", report.Reconciled.Kept),
	)
	return nil
}

// loadMatrices picks the starting matrices. Without a baseline the
// campaign is forced into a link test from zero.
func (o *Orchestrator) loadMatrices(ctx context.Context, log logging.Logger) (*Matrices, bool, error) {
	n := o.opts.Nodes
	if !matrix.Exists(o.paths.ThroughputBaseline) {
		log.Info(ctx, "no baseline matrices; forcing link test", logging.String("path", o.paths.ThroughputBaseline))
		return NewMatrices(n), true, nil
	}

	thrPath, psrPath := o.paths.Throughput, o.paths.PSR
	if o.opts.Reset {
		thrPath, psrPath = o.paths.ThroughputBaseline, o.paths.PSRBaseline
	}
	thr, err := loadSquare[float64](thrPath, n)
	if err != nil {
		return nil, false, err
	}
	psr, err := loadSquare[float64](psrPath, n)
	if err != nil {
		return nil, false, err
	}
	log.Debug(ctx, "matrices loaded",
		logging.String("throughput", thrPath),
		logging.String("psr", psrPath),
	)
	return &Matrices{Throughput: thr, PSR: psr}, o.opts.LinkTest, nil
}

func loadSquare[T matrix.Number](path string, n int) (matrix.Matrix[T], error) {
	m, err := matrix.Load[T](path)
	if err != nil {
		return nil, err
	}
	if err := m.RequireSquare(n); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (o *Orchestrator) measure(ctx context.Context, log logging.Logger, plan Plan, m *Matrices) ([]model.FlowResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "campaign.Measure")
	defer span.End()

	var recorder ResultRecorder
	if o.metrics != nil {
		recorder = o.metrics
		o.metrics.CampaignStarted(plan.Mode.String(), len(plan.Tasks))
	}
	collector := NewCollector(m, o.network, log, recorder)
	scheduler := NewFlowScheduler(o.network, o.events, o.epoch, log)

	collect := func(ctx context.Context, task model.FlowTask, id model.FlowID) {
		res := collector.Collect(ctx, task, id)
		span.AddEvent("flow.collected", trace.WithAttributes(
			attribute.Int("source", task.Source),
			attribute.Int("sink", task.Sink),
			attribute.Float64("throughput_mbps", res.ThroughputMbps),
			attribute.Float64("psr_percent", res.PSR),
		))
		if o.metrics != nil {
			o.metrics.ObserveSimTime(plan.CollectAt(task.Sequence))
		}
	}
	if err := scheduler.Start(ctx, plan, o.opts.Flow, collect); err != nil {
		return nil, err
	}
	log.Info(ctx, "campaign scheduled",
		logging.String("mode", plan.Mode.String()),
		logging.Int("flows", len(plan.Tasks)),
		logging.Duration("stop_time", plan.StopTime()),
	)
	if err := scheduler.Run(ctx); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ObserveSimTime(plan.StopTime())
	}
	scheduler.Finish()
	return collector.Results(), nil
}

// persist writes the baseline (link tests only) and canonical matrices,
// then the per-flow log.
func (o *Orchestrator) persist(ctx context.Context, log logging.Logger, plan Plan, m *Matrices, results []model.FlowResult) error {
	_, span := otel.Tracer(tracerName).Start(ctx, "campaign.Persist")
	defer span.End()

	type target struct {
		m    matrix.Matrix[float64]
		path string
	}
	var targets []target
	if plan.Mode == ModeLinkTest {
		targets = append(targets,
			target{m.Throughput, o.paths.ThroughputBaseline},
			target{m.PSR, o.paths.PSRBaseline},
		)
	}
	targets = append(targets,
		target{m.Throughput, o.paths.Throughput},
		target{m.PSR, o.paths.PSR},
	)
	var errs []error
	for _, t := range targets {
		if err := matrix.Save(t.m, t.path); err != nil {
			errs = append(errs, err)
		}
	}
	if err := writeFlowLog(o.paths.FlowLog, results); err != nil {
		log.Warn(ctx, "flow log not written", logging.String("path", o.paths.FlowLog), logging.Err(err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Info(ctx, "matrices persisted",
		logging.String("throughput", o.paths.Throughput),
		logging.String("psr", o.paths.PSR),
		logging.Bool("baseline", plan.Mode == ModeLinkTest),
	)
	return nil
}

type flowRecord struct {
	Sequence   int     `Description:"sequence"`
	Source     int     `Description:"source"`
	Sink       int     `Description:"sink"`
	FlowID     uint32  `Description:"flow_id"`
	TxPackets  uint64  `Description:"tx_packets"`
	RxPackets  uint64  `Description:"rx_packets"`
	RxBytes    uint64  `Description:"rx_bytes"`
	FirstTx    float64 `Description:"first_tx_s"`
	LastRx     float64 `Description:"last_rx_s"`
	Throughput float64 `Description:"throughput_mbps"`
	PSR        float64 `Description:"psr_percent"`
	Degenerate bool    `Description:"degenerate"`
}

func writeFlowLog(path string, results []model.FlowResult) (err error) {
	dl, err := datalogger.CreateCSVDataLogger[flowRecord](path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dl.Close(); err == nil {
			err = cerr
		}
	}()
	for _, r := range results {
		dl.LogRecord(flowRecord{
			Sequence:   r.Task.Sequence,
			Source:     r.Task.Source,
			Sink:       r.Task.Sink,
			FlowID:     uint32(r.FlowID),
			TxPackets:  r.Stats.TxPackets,
			RxPackets:  r.Stats.RxPackets,
			RxBytes:    r.Stats.RxBytes,
			FirstTx:    r.Stats.FirstTx.Seconds(),
			LastRx:     r.Stats.LastRx.Seconds(),
			Throughput: r.ThroughputMbps,
			PSR:        r.PSR,
			Degenerate: r.Degenerate,
		})
	}
	return dl.Export()
}
