package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/internal/engine"
	"github.com/signalsfoundry/section-twin/internal/feed"
	"github.com/signalsfoundry/section-twin/internal/kpi"
	"github.com/signalsfoundry/section-twin/internal/logging"
	"github.com/signalsfoundry/section-twin/internal/optimize"
	"github.com/signalsfoundry/section-twin/internal/predict"
	"github.com/signalsfoundry/section-twin/internal/twin"
	"github.com/signalsfoundry/section-twin/model"
	"github.com/signalsfoundry/section-twin/timectrl"
)

func main() {
	sectionPath := flag.String("section", "", "path to a section topology JSON file (empty uses the built-in demo section)")
	duration := flag.Duration("duration", 30*time.Minute, "total simulated duration")
	tick := flag.Duration("tick", 5*time.Second, "tick interval")
	budget := flag.Duration("budget", 2*time.Second, "solver budget per optimization request")
	seed := flag.Int64("seed", 1, "synthetic feed seed")
	spawnEvery := flag.Int("spawn-every", 60, "ticks between synthetic trains (0 disables the feed)")
	autoCommit := flag.Bool("auto-commit", true, "commit the top recommendation whenever conflicts appear")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	topo, err := loadTopology(*sectionPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	start := time.Date(2026, time.March, 2, 6, 0, 0, 0, time.UTC)
	tw := twin.New(topo, start, log, twin.WithTick(*tick))

	calib := predict.NewCalibration(0.1)
	pred := predict.New(tw.Tracker(), log, predict.WithScorer(&predict.HeuristicScorer{Calibration: calib}))
	opt := optimize.New(tw, log, optimize.WithBudget(*budget))

	store, err := kpi.OpenInMemory()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer store.Close()

	opts := []engine.Option{engine.WithKPIStore(store)}
	if *spawnEvery > 0 {
		opts = append(opts, engine.WithFeed(feed.New(topo, *seed, *spawnEvery)))
	}
	eng := engine.New(tw, pred, opt, calib, log, opts...)

	seedDemoTrains(tw, start)

	driver := timectrl.NewTickDriver(start, *tick, timectrl.Accelerated)
	committed := 0
	driver.AddListener(func(ctx context.Context, at time.Time) {
		if _, err := eng.Tick(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "tick at %s failed: %v\n", at.Format(time.TimeOnly), err)
			return
		}
		conflicts := eng.Conflicts(ctx)
		if len(conflicts) == 0 || !*autoCommit {
			return
		}

		result, err := eng.Optimize(ctx, engine.OptimizeRequest{})
		if err != nil || len(result.Actions) == 0 {
			return
		}
		top := result.Actions[0]
		fmt.Printf("[%s] %d conflict(s); %s recommends %s on %s: %s\n",
			at.Format(time.TimeOnly), len(conflicts), result.Status, top.Type, top.TrainID, top.Explanation)
		if _, err := eng.CommitAction(ctx, &top); err != nil {
			fmt.Printf("  commit rejected: %v\n", err)
			return
		}
		committed++
		_ = eng.Feedback(ctx, &model.OperatorFeedback{ActionID: top.ID, Verdict: model.VerdictAccepted})
	})

	if err := driver.Run(ctx, *duration); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	printSummary(ctx, eng, store, start, committed)
}

func loadTopology(path string) (*core.Topology, error) {
	if path == "" {
		return demoTopology()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	topo, _, err := core.LoadSection(f)
	return topo, err
}

// demoTopology is a small double-track corridor with one single-line
// loop, enough to provoke headway and platform conflicts.
func demoTopology() (*core.Topology, error) {
	headway := 5 * time.Minute
	return core.NewTopology(
		[]*model.Node{
			{ID: "STN-A", Name: "Arandur Jn", Type: model.NodeStation, Platforms: 2},
			{ID: "SIG-1", Name: "Km 12 Signal", Type: model.NodeSignal},
			{ID: "STN-B", Name: "Belwai", Type: model.NodeStation, Platforms: 1},
			{ID: "SIG-2", Name: "Km 31 Signal", Type: model.NodeSignal},
			{ID: "STN-C", Name: "Candrapur", Type: model.NodeStation, Platforms: 2},
		},
		[]*model.Edge{
			{ID: "A-1", From: "STN-A", To: "SIG-1", LengthM: 12000, MaxSpeedMPS: 30, MinHeadway: headway},
			{ID: "1-B", From: "SIG-1", To: "STN-B", LengthM: 8000, MaxSpeedMPS: 25, MinHeadway: headway},
			{ID: "B-2", From: "STN-B", To: "SIG-2", LengthM: 11000, MaxSpeedMPS: 25, MinHeadway: headway, SingleLine: true},
			{ID: "2-C", From: "SIG-2", To: "STN-C", LengthM: 9000, MaxSpeedMPS: 30, MinHeadway: headway},
			{ID: "B-2:alt", From: "STN-B", To: "SIG-2", LengthM: 14000, MaxSpeedMPS: 20, MinHeadway: headway},
		},
	)
}

func seedDemoTrains(tw *twin.Twin, start time.Time) {
	route := func(dep time.Time) []model.RouteStop {
		return []model.RouteStop{
			{NodeID: "STN-A", EdgeID: "A-1", Departure: dep},
			{NodeID: "SIG-1", EdgeID: "1-B", Arrival: dep.Add(8 * time.Minute)},
			{NodeID: "STN-B", EdgeID: "B-2", Arrival: dep.Add(14 * time.Minute), DwellS: 120},
			{NodeID: "SIG-2", EdgeID: "2-C", Arrival: dep.Add(24 * time.Minute)},
			{NodeID: "STN-C", Arrival: dep.Add(30 * time.Minute)},
		}
	}

	express := &model.Train{
		ID: "trn-12951", Number: "12951", Priority: model.PriorityExpress,
		Route: route(start.Add(2 * time.Minute)), MaxSpeedMPS: 30, LengthM: 550, WeightTons: 1400,
	}
	freight := &model.Train{
		ID: "trn-90412", Number: "90412", Priority: model.PriorityFreight,
		Route: route(start.Add(4 * time.Minute)), MaxSpeedMPS: 20, LengthM: 700, WeightTons: 4200,
	}
	for _, t := range []*model.Train{express, freight} {
		if err := tw.AddTrain(t); err != nil {
			fmt.Fprintf(os.Stderr, "seed train %s: %v\n", t.ID, err)
		}
	}
}

func printSummary(ctx context.Context, eng *engine.Engine, store *kpi.Store, since time.Time, committed int) {
	fmt.Println("---")
	snap := eng.Snapshot(ctx)
	fmt.Printf("final state: version %d at %s, %d train(s)\n", snap.Version, snap.Now.Format(time.TimeOnly), len(snap.Trains))
	for _, t := range snap.Trains {
		fmt.Printf("  %-10s %-9s %-9s delay %s\n", t.Number, t.Priority, t.Status, t.Delay.Round(time.Second))
	}

	operational, err := store.Operational(ctx, since)
	if err == nil {
		fmt.Printf("operational: avg total delay %s, peak max delay %s, avg open conflicts %.2f\n",
			operational.AvgTotalDelay.Round(time.Second), operational.PeakMaxDelay.Round(time.Second), operational.AvgConflicts)
	}
	advisory, err := store.Advisory(ctx, since)
	if err == nil {
		fmt.Printf("advisory: %d committed (%d this run), acceptance rate %.0f%%, avg net delay reduction %s\n",
			advisory.ActionsCommitted, committed, advisory.AcceptanceRate*100, advisory.AvgDelayReduction.Round(time.Second))
	}
}
