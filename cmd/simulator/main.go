package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/observability"
	"github.com/signalsfoundry/sensornet-simulator/internal/sched"
	"github.com/signalsfoundry/sensornet-simulator/internal/sim"
	simstate "github.com/signalsfoundry/sensornet-simulator/internal/sim/state"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
	"github.com/signalsfoundry/sensornet-simulator/timectrl"
)

// Config carries everything main() parses from flags, split out so tests
// can drive run() directly.
type Config struct {
	MetricsAddress  string
	ScenarioPath    string
	NodeCount       int
	HeadProbability float64
	Profile         string // distance | priority
	Duration        time.Duration
	TickInterval    time.Duration
	Accelerated     bool
	Seed            int64
	LogLevel        string
	LogFormat       string
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&cfg.ScenarioPath, "scenario", "", "Path to a JSON sensor field description (empty uses a generated grid)")
	flag.IntVar(&cfg.NodeCount, "nodes", 10, "Number of generated grid nodes when no scenario file is given")
	flag.Float64Var(&cfg.HeadProbability, "head-probability", 0.2, "Per-node chance of self-electing as cluster head each round")
	flag.StringVar(&cfg.Profile, "profile", "distance", "Transmit power profile: distance or priority")
	flag.DurationVar(&cfg.Duration, "duration", 0, "Simulated time to run before exiting (0 runs until interrupted)")
	flag.DurationVar(&cfg.TickInterval, "tick", time.Second, "Simulation tick interval")
	flag.BoolVar(&cfg.Accelerated, "accelerated", false, "Advance simulation time as fast as the loop allows")
	flag.Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "Election RNG seed")
	flag.StringVar(&cfg.LogLevel, "log-level", os.Getenv("LOG_LEVEL"), "Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", os.Getenv("LOG_FORMAT"), "Log format: text or json")
	flag.Parse()

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "simulator exited with error", logging.String("error", err.Error()))
		os.Exit(1)
	}
}

// run wires the simulator together and drives it until ctx is cancelled or
// the configured duration elapses.
func run(ctx context.Context, cfg Config, log logging.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}
	schedCollector, err := observability.NewSchedCollector(reg)
	if err != nil {
		return fmt.Errorf("init scheduler collector: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddress, collector, log)

	registry := kb.NewKnowledgeBase()
	field, err := loadField(registry, cfg)
	if err != nil {
		return err
	}
	log.Info(ctx, "sensor field loaded",
		logging.Int("nodes", len(field.NodeIDs)),
		logging.Uint32("sink", uint32(field.SinkID)),
	)

	simCfg := sim.DefaultConfig(field.SinkID)
	simCfg.HeadProbability = cfg.HeadProbability
	switch cfg.Profile {
	case "", "distance":
		simCfg.Profile = core.DistanceTieredProfile()
	case "priority":
		simCfg.Profile = core.PriorityAwareProfile()
	default:
		return fmt.Errorf("unknown power profile %q", cfg.Profile)
	}

	ledger := core.NewEnergyLedger()
	ledger.Initialize(field.NodeIDs, simCfg.InitialEnergy)

	state := simstate.NewSimulationState(registry, ledger, log,
		simstate.WithMetricsRecorder(collector),
		simstate.WithSinkID(field.SinkID),
	)

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now(), cfg.TickInterval, mode)
	events := sched.NewEventScheduler(tc, sched.WithMetrics(schedCollector))
	manager := core.NewClusterManager(registry, rand.New(rand.NewSource(cfg.Seed)), log)
	reporter := simstate.NewEnergyReporter(simstate.LogSink{Log: log})

	rounds, err := sim.NewRoundScheduler(simCfg, state, events, manager, reporter, log)
	if err != nil {
		return fmt.Errorf("init round scheduler: %w", err)
	}

	runSimLoop(ctx, tc, events, rounds, cfg.Duration, log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// runSimLoop starts the protocol and pumps due events on every tick until
// the duration elapses or ctx is cancelled.
func runSimLoop(ctx context.Context, tc *timectrl.TimeController, events sched.EventScheduler, rounds *sim.RoundScheduler, duration time.Duration, log logging.Logger) {
	tc.AddListener(func(time.Time) {
		events.RunDue()
	})

	rounds.Start(tc.Now())
	log.Info(ctx, "simulation started",
		logging.String("sim_time", tc.Now().Format(time.RFC3339)),
	)

	done := tc.Start(duration)
	select {
	case <-ctx.Done():
	case <-done:
	}

	rounds.Stop()
	log.Info(context.Background(), "simulation stopped",
		logging.Uint64("rounds", rounds.Round()),
	)
}

// loadField reads the scenario file when one is configured, and otherwise
// generates a diagonal grid with the sink at the origin.
func loadField(registry *kb.KnowledgeBase, cfg Config) (*kb.SensorField, error) {
	if cfg.ScenarioPath != "" {
		f, err := os.Open(cfg.ScenarioPath)
		if err != nil {
			return nil, fmt.Errorf("open scenario: %w", err)
		}
		defer f.Close()
		return kb.LoadSensorField(registry, f)
	}

	if cfg.NodeCount <= 0 {
		return nil, fmt.Errorf("node count %d must be positive", cfg.NodeCount)
	}

	field := &kb.SensorField{SinkID: model.NodeID(cfg.NodeCount)}
	for i := 0; i < cfg.NodeCount; i++ {
		id := model.NodeID(i)
		node := &model.SensorNode{ID: id, Name: fmt.Sprintf("sensor-%d", i)}
		pos := core.Vec2{X: 10 * float64(i), Y: 10 * float64(i)}
		if err := registry.AddNode(node, pos); err != nil {
			return nil, fmt.Errorf("generate grid: %w", err)
		}
		field.NodeIDs = append(field.NodeIDs, id)
	}
	sink := &model.SensorNode{ID: field.SinkID, Name: "base-station"}
	if err := registry.AddNode(sink, core.Vec2{}); err != nil {
		return nil, fmt.Errorf("generate grid: %w", err)
	}
	return field, nil
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
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
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
