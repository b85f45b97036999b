package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aidkit/loopcore/internal/config"
	"github.com/aidkit/loopcore/internal/delivery"
	"github.com/aidkit/loopcore/internal/glucose"
	"github.com/aidkit/loopcore/internal/history"
	"github.com/aidkit/loopcore/internal/logging"
	"github.com/aidkit/loopcore/internal/loop"
	"github.com/aidkit/loopcore/internal/profile"
	"github.com/aidkit/loopcore/internal/pump"
	"github.com/aidkit/loopcore/internal/stats"
	"github.com/aidkit/loopcore/internal/tdd"
)

var (
	simCycles int
	simDBPath string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the loop offline against a fake pump and synthetic glucose",
	Long: `Simulate runs the full loop pipeline in virtual time: a sine-wave
glucose feed, the in-memory fake pump, and a fresh history database. One
cycle is ticked per configured loop interval and a statistics summary is
printed at the end.

Examples:
  # Simulate one day of 5-minute cycles
  loopcored simulate --cycles 288`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simCycles, "cycles", 288, "number of loop cycles to simulate")
	simulateCmd.Flags().StringVar(&simDBPath, "db", "", "history database path (default: temp file)")
}

// syntheticGlucose generates a sine wave around a baseline, sampled every
// five minutes, newest first. Clock is advanced by the simulation driver.
type syntheticGlucose struct {
	base      float64
	amplitude float64
	period    time.Duration
	start     time.Time
	now       time.Time
}

func (s *syntheticGlucose) valueAt(t time.Time) float64 {
	phase := 2 * math.Pi * t.Sub(s.start).Seconds() / s.period.Seconds()
	return s.base + s.amplitude*math.Sin(phase)
}

func (s *syntheticGlucose) RecentSamples(_ context.Context, window time.Duration) ([]glucose.Sample, error) {
	const spacing = 5 * time.Minute
	var samples []glucose.Sample
	for ts := s.now; !ts.Before(s.now.Add(-window)); ts = ts.Add(-spacing) {
		if ts.Before(s.start) {
			break
		}
		samples = append(samples, glucose.Sample{
			ID:        uuid.NewString(),
			Value:     math.Round(s.valueAt(ts)),
			Timestamp: ts,
		})
	}
	return samples, nil
}

// staticProfile is a fixed basal schedule for simulation runs.
type staticProfile struct {
	schedule  profile.Schedule
	increment float64
}

func (p staticProfile) Schedule() profile.Schedule { return p.schedule }
func (p staticProfile) BasalIncrement() float64    { return p.increment }

func runSimulate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg := config.NewDefaultConfig()
	cfg.Loop.ClosedLoop = true

	logger, err := logging.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	dbPath := simDBPath
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "loopcore-sim-*")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "sim.db")
	}
	store, err := history.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	schedule, err := profile.NewSchedule([]profile.Entry{
		{StartMinutes: 0, Rate: 0.8},
		{StartMinutes: 6 * 60, Rate: 1.1},
		{StartMinutes: 22 * 60, Rate: 0.9},
	})
	if err != nil {
		return fmt.Errorf("build schedule: %w", err)
	}

	start := time.Now().Add(-time.Duration(simCycles) * cfg.Loop.Interval.Duration())
	feed := &syntheticGlucose{
		base:      130,
		amplitude: 45,
		period:    4 * time.Hour,
		start:     start.Add(-time.Hour),
		now:       start,
	}

	// The simulation runs in virtual time: each cycle's end is pinned a
	// few seconds after its tick so durations and intervals stay sane.
	current := start
	virtualNow := func() time.Time { return current.Add(15 * time.Second) }

	fake := pump.NewFake()
	enactor := delivery.NewEnactor(fake, store, cfg.Pump.MaxBolus, logger)
	enactor.SetClock(virtualNow)
	calculator := &tdd.Calculator{
		Store:            store,
		WeightPercentage: cfg.Loop.TDDWeightPercentage,
		Logger:           logger,
	}

	manager, err := loop.NewManager(loop.Deps{
		Logger:   logger,
		Driver:   fake,
		Glucose:  feed,
		Checker:  glucoseChecker(cfg),
		Profiles: staticProfile{schedule: schedule, increment: cfg.Pump.BasalIncrement},
		TDD:      calculator,
		Engine:   newSetpointEngine(),
		Enactor:  enactor,
		Store:    store,
		Settings: func() loop.Settings {
			return loop.Settings{
				Interval:                cfg.Loop.Interval.Duration(),
				ClosedLoop:              true,
				DeterminationExpiration: cfg.Loop.DeterminationExpiration.Duration(),
			}
		},
		Now: virtualNow,
	})
	if err != nil {
		return fmt.Errorf("wire loop manager: %w", err)
	}

	enactedTemps := 0
	for i := 0; i < simCycles; i++ {
		now := start.Add(time.Duration(i) * cfg.Loop.Interval.Duration())
		current = now
		feed.now = now
		manager.Tick(ctx, now)

		// Mirror enacted temp basals into the pump event log the way a
		// real driver does: the duration marker immediately precedes
		// its paired rate event.
		for _, tb := range fake.TempBasals[enactedTemps:] {
			rate := tb.Rate
			duration := tb.DurationMinutes
			if err := store.AppendPumpEvents(ctx, []pump.HistoryEvent{
				{ID: uuid.NewString(), Kind: pump.EventTempBasalDuration, Timestamp: now, DurationMinutes: &duration},
				{ID: uuid.NewString(), Kind: pump.EventTempBasalRate, Timestamp: now.Add(time.Second), Rate: &rate},
			}); err != nil {
				return fmt.Errorf("append pump events: %w", err)
			}
		}
		enactedTemps = len(fake.TempBasals)
	}

	records, err := store.CycleRecords(ctx, simCycles)
	if err != nil {
		return fmt.Errorf("read cycle records: %w", err)
	}
	summary := stats.Compute(records)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "cycles:        %d (%d success, %d failed)\n", summary.Cycles, summary.Successes, summary.Failures)
	fmt.Fprintf(out, "success rate:  %.1f%%\n", summary.SuccessRate)
	fmt.Fprintf(out, "loops per day: %.0f\n", summary.LoopsPerDay)
	fmt.Fprintf(out, "interval min:  avg %.1f median %.1f\n", summary.IntervalMinutes.Average, summary.IntervalMinutes.Median)
	fmt.Fprintf(out, "temp basals:   %d issued\n", len(fake.TempBasals))
	fmt.Fprintf(out, "boluses:       %d issued\n", len(fake.Boluses))
	return nil
}
