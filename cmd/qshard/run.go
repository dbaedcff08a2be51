package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/theapemachine/errnie"
	"github.com/theapemachine/qshard"
	"github.com/theapemachine/qshard/wsnet"
)

type runOptions struct {
	config      string
	circuit     string
	qubits      uint
	page        uint
	unit        uint
	ranks       int
	policy      string
	fusion      int
	samples     int
	seed        int64
	hub         string
	rank        int
	metricsAddr string
	debug       bool
}

func newRunCmd() *cobra.Command {
	return newRunCommand(&runOptions{})
}

// newRunCommand binds the run flags to opts.
func newRunCommand(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate a named circuit and report spins, norm and samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCircuit(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.config, "config", "", "YAML configuration file")
	flags.StringVar(&opts.circuit, "circuit", "qft", "circuit: "+strings.Join(qshard.CircuitNames(), ", "))
	flags.UintVar(&opts.qubits, "qubits", 12, "register size")
	flags.UintVar(&opts.page, "page", 0, "page bits")
	flags.UintVar(&opts.unit, "unit", 0, "unit bits (data blocks per rank)")
	flags.IntVar(&opts.ranks, "ranks", 1, "number of ranks, a power of two")
	flags.StringVar(&opts.policy, "policy", string(qshard.PolicySimple), "paging policy: simple, one-page, two-page, three-page")
	flags.IntVar(&opts.fusion, "fusion", 0, "fuse gates into blocks of up to this many qubits, 0 disables")
	flags.IntVar(&opts.samples, "samples", 8, "basis states to sample")
	flags.Int64Var(&opts.seed, "seed", 1, "seed for measurement and sampling")
	flags.StringVar(&opts.hub, "hub", "", "websocket hub URL; run a single rank through it")
	flags.IntVar(&opts.rank, "rank", 0, "this process's rank when --hub is set")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics of rank 0 on this address")
	flags.BoolVar(&opts.debug, "debug", false, "dump permutations while running")

	return cmd
}

// buildConfig layers flags over the file over the defaults.
func buildConfig(cmd *cobra.Command, opts *runOptions) (*qshard.Config, error) {
	cfg := qshard.NewConfig()
	if opts.config != "" {
		var err error
		if cfg, err = qshard.LoadConfig(opts.config); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	// without a file every flag applies, defaults included
	override := func(names ...string) bool {
		for _, name := range names {
			if flags.Changed(name) {
				return true
			}
		}
		return opts.config == ""
	}

	if override("qubits", "page", "unit", "ranks") {
		global := uint(0)
		for 1<<global < opts.ranks {
			global++
		}

		if opts.qubits < opts.page+opts.unit+global+1 {
			return nil, fmt.Errorf("%w: %d qubits leave no local bits", qshard.ErrConfiguration, opts.qubits)
		}

		cfg.Layout = qshard.Layout{
			LocalBits:  opts.qubits - opts.page - opts.unit - global,
			PageBits:   opts.page,
			UnitBits:   opts.unit,
			GlobalBits: global,
		}
	}

	if override("policy") {
		cfg.Policy = qshard.Policy(opts.policy)
	}
	if override("seed") {
		cfg.Seed = opts.seed
	}
	if flags.Changed("fusion") && opts.fusion > 0 {
		cfg.MaxFusedQubits = opts.fusion
	}
	if chunk := int(cfg.Layout.ChunkBits()); cfg.MaxFusedQubits > chunk {
		cfg.MaxFusedQubits = chunk
	}
	cfg.Debug = cfg.Debug || opts.debug

	return cfg, nil
}

func runCircuit(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := buildConfig(cmd, opts)
	if err != nil {
		return err
	}

	gates, err := qshard.Circuit(opts.circuit, cfg.Layout.NumQubits())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	runID := uuid.New().String()
	errnie.Info("run %s: %s on %s over %d ranks", runID, opts.circuit, cfg.Layout, cfg.Layout.NumProcesses())

	fuse := cmd.Flags().Changed("fusion") && opts.fusion > 0
	simulate := func(ctx context.Context, comm qshard.Communicator) error {
		metrics := qshard.NewMetrics()
		if comm.Rank() == 0 && opts.metricsAddr != "" {
			serveMetrics(ctx, opts.metricsAddr, metrics)
		}
		return simulateRank(ctx, cfg, comm, gates, metrics, fuse, opts, runID)
	}

	if opts.hub == "" {
		world, err := qshard.NewWorld(cfg.Layout.NumProcesses())
		if err != nil {
			return err
		}
		return world.Run(ctx, simulate)
	}

	client, err := wsnet.Dial(ctx, opts.hub, opts.rank, cfg.Layout.NumProcesses(), qshard.DefaultRetryPolicy())
	if err != nil {
		return err
	}
	defer client.Close()

	return simulate(ctx, client.Communicator())
}

func simulateRank(
	ctx context.Context,
	cfg *qshard.Config,
	comm qshard.Communicator,
	gates []qshard.Gate,
	metrics *qshard.Metrics,
	fuse bool,
	opts *runOptions,
	runID string,
) error {
	engine, err := qshard.NewEngine(cfg, comm, qshard.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer engine.Close()

	if fuse {
		engine.BeginFusion()
	}
	if err := engine.ApplyAll(ctx, gates...); err != nil {
		return err
	}
	if err := engine.EndFusion(ctx); err != nil {
		return err
	}

	spins, err := engine.ExpectationValues(ctx)
	if err != nil {
		return err
	}

	total, err := engine.TotalProbability(ctx)
	if err != nil {
		return err
	}

	samples, err := engine.Sample(ctx, opts.samples, cfg.Seed)
	if err != nil {
		return err
	}

	if comm.Rank() != 0 {
		return nil
	}

	fmt.Printf("run %s\n", runID)
	fmt.Printf("total probability %.12f\n", total)
	for q, spin := range spins {
		fmt.Printf("qubit %3d  <Sx> %+.6f  <Sy> %+.6f  <Sz> %+.6f\n", q, spin.X, spin.Y, spin.Z)
	}
	fmt.Printf("samples %v\n", samples)

	exported := metrics.ExportMetrics()
	keys := make([]string, 0, len(exported))
	for key := range exported {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%s %v\n", key, exported[key])
	}

	return nil
}

func serveMetrics(ctx context.Context, addr string, metrics *qshard.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errnie.Info("metrics server on %s stopped: %v", addr, err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
}
