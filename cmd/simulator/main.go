package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/signalsfoundry/linkprobe/core"
	"github.com/signalsfoundry/linkprobe/internal/campaign"
	"github.com/signalsfoundry/linkprobe/internal/config"
	"github.com/signalsfoundry/linkprobe/internal/events"
	"github.com/signalsfoundry/linkprobe/internal/logging"
	"github.com/signalsfoundry/linkprobe/internal/observability"
	"github.com/signalsfoundry/linkprobe/kb"
	"github.com/signalsfoundry/linkprobe/model"
	"github.com/signalsfoundry/linkprobe/timectrl"
)

// nodeSubnet is the wireless segment node addresses are drawn from.
var nodeSubnet = netip.MustParsePrefix("10.0.0.0/24")

// simEpoch anchors simulation time so persisted logs are reproducible.
var simEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, executes one campaign and returns the exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "optional YAML configuration file")
	nodes := fs.Int("N", config.DefaultNodes, "number of wireless nodes")
	interferers := fs.Int("M", config.DefaultInterferers, "number of interferers")
	source := fs.Int("sourceNode", 0, "source node index for a single-pair campaign")
	sink := fs.Int("sinkNode", -1, "sink node index for a single-pair campaign (default N-1)")
	power := fs.Float64("power", config.DefaultInterferencePower, "interference power level")
	seed := fs.Uint64("seed", config.DefaultSeed, "random seed for placement and route interfaces")
	mcsIndex := fs.Int("mcsIndex", config.DefaultMCSIndex, "HT MCS index (0-7)")
	dataRate := fs.Float64("datarate", config.DefaultDataRateMbps, "application data rate in Mb/s")
	linkTest := fs.Bool("linkTest", false, "measure every ordered pair")
	updateRoutes := fs.Bool("updateRoutes", true, "reconcile routes against the routing matrix")
	reset := fs.Bool("reset", false, "start from the link-test baseline matrices")
	dataDir := fs.String("data-dir", config.DefaultDataDir, "directory holding the persisted matrices")
	positions := fs.String("positions", "", "optional JSON file with node and interferer positions")
	metricsAddr := fs.String("metrics-addr", "", "HTTP address for Prometheus /metrics (empty disables)")
	realtime := fs.Bool("realtime", false, "pace the simulation against the wall clock")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	var cfg config.Config
	if *configPath != "" {
		var err error
		if cfg, err = config.Decode(*configPath); err != nil {
			fmt.Fprintf(stderr, "load config: %v\n", err)
			return 1
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "N":
			cfg.Network.Nodes = *nodes
		case "M":
			cfg.Network.Interferers = interferers
		case "sourceNode":
			cfg.Network.SourceNode = source
		case "sinkNode":
			cfg.Network.SinkNode = sink
		case "power":
			cfg.Network.InterferencePower = *power
		case "seed":
			cfg.Network.Seed = *seed
		case "mcsIndex":
			cfg.Network.MCSIndex = mcsIndex
		case "datarate":
			cfg.Network.DataRateMbps = *dataRate
		case "linkTest":
			cfg.Campaign.LinkTest = *linkTest
		case "updateRoutes":
			cfg.Campaign.UpdateRoutes = updateRoutes
		case "reset":
			cfg.Campaign.Reset = *reset
		case "data-dir":
			cfg.Storage.DataDir = *dataDir
		case "positions":
			cfg.Network.PositionsFile = *positions
		case "metrics-addr":
			cfg.Observability.MetricsAddr = *metricsAddr
		case "realtime":
			cfg.Campaign.RealTime = *realtime
		}
	})
	config.ApplyDefaults(&cfg)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintln(stderr, err)
		if errors.Is(err, config.ErrInvalidMCS) {
			return 0
		}
		return 1
	}

	log := logging.NewFromEnv()
	if err := runCampaign(ctx, cfg, log, stdout); err != nil {
		log.Error(ctx, "campaign failed", logging.Err(err))
		return 1
	}
	return 0
}

func runCampaign(ctx context.Context, cfg config.Config, log logging.Logger, stdout io.Writer) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewCampaignCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if srv := serveMetrics(cfg.Observability.MetricsAddr, collector, log); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	mcs, err := cfg.MCS()
	if err != nil {
		return err
	}
	n := cfg.Network.Nodes
	paths := campaign.NewPaths(cfg.Storage.DataDir, cfg.Storage.Prefix, n, cfg.Network.Seed)
	if err := os.MkdirAll(paths.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store := kb.NewKnowledgeBase(nodeSubnet)
	if err := placeTopology(store, cfg); err != nil {
		return err
	}
	if err := savePositions(store, paths.Positions); err != nil {
		log.Warn(ctx, "failed to save positions", logging.String("path", paths.Positions), logging.Err(err))
	}

	mode := timectrl.Accelerated
	if cfg.Campaign.RealTime {
		mode = timectrl.RealTime
	}
	tc := timectrl.NewTimeController(simEpoch, mode)
	tc.AddListener(func(t time.Time) { collector.ObserveSimTime(t.Sub(simEpoch)) })
	ev := events.NewEventScheduler(tc)

	connectivity := core.NewConnectivityService(store, core.DefaultWiFiTransceiver())
	for _, lb := range connectivity.EvaluateLinks() {
		log.Debug(ctx, "link budget",
			logging.Int("source", lb.Source),
			logging.Int("sink", lb.Sink),
			logging.Float64("distance_m", lb.DistanceM),
			logging.Float64("sinr_db", lb.SINRdB),
			logging.Float64("delivery", core.DeliveryProbability(lb.SINRdB, mcs, connectivity.Radio.RetryLimit)),
		)
	}
	engine := core.NewSimulationEngine(connectivity, ev, simEpoch, mcs,
		core.WithEngineLogger(log),
		core.WithEngineSeed(cfg.Network.Seed),
	)
	engine.RegisterFlowListener(func(_ model.FlowID, stats model.FlowStats) {
		collector.ObserveFlowPackets(stats)
	})

	opts := campaign.Options{
		Nodes:        n,
		Seed:         cfg.Network.Seed,
		Source:       *cfg.Network.SourceNode,
		Sink:         *cfg.Network.SinkNode,
		LinkTest:     cfg.Campaign.LinkTest,
		UpdateRoutes: *cfg.Campaign.UpdateRoutes,
		Reset:        cfg.Campaign.Reset,
		Timing: campaign.Timing{
			InitialDelay:       cfg.Campaign.InitialDelay,
			SimulationDuration: cfg.Campaign.SimulationDuration,
			InterFlowGap:       cfg.Campaign.InterFlowGap,
		},
		Flow: campaign.FlowSpec{
			RateBps:    cfg.Network.DataRateMbps * 1e6,
			PacketSize: cfg.Campaign.PacketSize,
			Port:       cfg.Campaign.Port,
		},
	}

	log.Info(ctx, "starting campaign",
		logging.Int("nodes", n),
		logging.Int("interferers", *cfg.Network.Interferers),
		logging.String("mcs", mcs.Mode),
		logging.String("time_mode", mode.String()),
		logging.String("data_dir", paths.Dir),
	)

	orch := campaign.NewOrchestrator(opts, paths, engine, ev, simEpoch,
		campaign.WithLogger(log),
		campaign.WithMetrics(collector),
	)
	report, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	printReport(stdout, report)
	return nil
}

// placeTopology fills store from the positions file when one is set, and
// from a seeded random layout otherwise.
func placeTopology(store *kb.KnowledgeBase, cfg config.Config) error {
	watts := core.InterfererWatts(cfg.Network.InterferencePower)
	if path := cfg.Network.PositionsFile; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open positions: %w", err)
		}
		defer f.Close()
		if err := core.LoadPlacement(store, f, watts); err != nil {
			return err
		}
		if got := store.NodeCount(); got != cfg.Network.Nodes {
			return fmt.Errorf("%w: positions file %s places %d nodes, want %d", config.ErrInvalid, path, got, cfg.Network.Nodes)
		}
		return nil
	}
	return core.PlaceRandom(store, core.PlacementConfig{
		Nodes:             cfg.Network.Nodes,
		Interferers:       *cfg.Network.Interferers,
		InterferencePower: cfg.Network.InterferencePower,
		Seed:              cfg.Network.Seed,
	})
}

func savePositions(store *kb.KnowledgeBase, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := core.SavePlacement(store, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printReport(w io.Writer, r *campaign.Report) {
	s := r.Summary
	fmt.Fprintf(w, "Campaign %s: mode=%s flows=%d degenerate=%d\n",
		r.CampaignID, r.Plan.Mode, s.Flows, s.Degenerate)
	if r.ForcedLinkTest {
		fmt.Fprintln(w, "No baseline found; ran a full link test.")
	}
	fmt.Fprintf(w, "Routes: direct added=%d; reconciled added=%d removed=%d kept=%d\n",
		r.DirectRoutes.Added, r.Reconciled.Added, r.Reconciled.Removed, r.Reconciled.Kept)
	if s.Flows > s.Degenerate {
		fmt.Fprintf(w, "Throughput Mb/s: min=%.3f p50=%.3f p90=%.3f max=%.3f; mean PSR=%.3f%%\n",
			s.MinThroughput, s.P50Throughput, s.P90Throughput, s.MaxThroughput, s.MeanPSR)
	}
	fmt.Fprintf(w, "Throughput matrix: %s\nPSR matrix: %s\n", r.Paths.Throughput, r.Paths.PSR)
}

func serveMetrics(addr string, collector *observability.CampaignCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
