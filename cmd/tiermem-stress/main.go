// Command tiermem-stress drives the tiered allocator with concurrent
// allocate/write/verify/release cycles and reports the statistics at the
// end. It exists to shake out routing, accounting and corruption bugs under
// load, and doubles as a harness for the debug and metrics servers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/tiermem/bridge"
	"github.com/orizon-lang/tiermem/config"
	"github.com/orizon-lang/tiermem/diag"
)

func main() {
	var (
		configPath  string
		workers     int
		iterations  int
		duration    time.Duration
		sizeList    string
		debugAddr   string
		metricsAddr string
		watch       bool
		selftest    bool
		report      bool
		verbose     bool
	)
	flag.StringVar(&configPath, "config", "", "path to a JSON configuration file (defaults used when empty)")
	flag.IntVar(&workers, "workers", 8, "number of concurrent workers")
	flag.IntVar(&iterations, "iterations", 1000, "allocation cycles per worker (ignored when -duration is set)")
	flag.DurationVar(&duration, "duration", 0, "run for a fixed wall-clock time instead of a fixed cycle count")
	flag.StringVar(&sizeList, "sizes", "256,4096,16384,262144,2097152", "comma-separated allocation sizes in bytes")
	flag.StringVar(&debugAddr, "debug-addr", "", "debug HTTP listen address (overrides config)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address (overrides config)")
	flag.BoolVar(&watch, "watch", false, "watch the config file and log changes")
	flag.BoolVar(&selftest, "selftest", false, "run the allocator self test before the stress cycle")
	flag.BoolVar(&report, "report", true, "print the statistics report when done")
	flag.BoolVar(&verbose, "v", false, "debug-level logging")
	flag.Parse()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			fatal(err)
		}
	}
	if debugAddr != "" {
		cfg.Debug.HTTPAddr = debugAddr
	}
	if metricsAddr != "" {
		cfg.Debug.MetricsAddr = metricsAddr
	}

	sizes, err := parseSizes(sizeList)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b := bridge.New(bridge.WithLogger(logger))
	if err := b.Initialize(cfg.PoolConfig()); err != nil {
		fatal(err)
	}
	defer b.Close()

	if selftest {
		if err := b.SelfTest(); err != nil {
			fatal(err)
		}
	}

	if cfg.Debug.HTTPAddr != "" {
		shutdown, bound, err := diag.StartDebugHTTPOn(b, cfg.Debug.HTTPAddr)
		if err != nil {
			fatal(err)
		}
		logger.Info("debug server listening", "addr", bound)
		defer func() { _ = shutdown(context.Background()) }()
	}
	if cfg.Debug.MetricsAddr != "" {
		bound, shutdown, err := diag.StartMetricsServer(cfg.Debug.MetricsAddr, diag.DefaultCollectors(b))
		if err != nil {
			fatal(err)
		}
		logger.Info("metrics server listening", "addr", bound)
		defer func() { _ = shutdown(context.Background()) }()
	}

	if watch && configPath != "" {
		w, err := config.Watch(ctx, configPath, logger)
		if err != nil {
			fatal(err)
		}
		defer w.Close()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-w.Configs():
					logger.Info("configuration changed on disk; restart to apply")
				case err := <-w.Errors():
					logger.Warn("configuration watch", "error", err)
				}
			}
		}()
	}

	logger.Info("stress starting",
		"workers", workers, "iterations", iterations, "duration", duration, "sizes", sizes)

	var ops atomic.Uint64
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for id := 0; id < workers; id++ {
		id := id
		g.Go(func() error {
			for i := 0; ; i++ {
				if duration > 0 {
					if time.Since(start) >= duration {
						return nil
					}
				} else if i >= iterations {
					return nil
				}
				if err := ctx.Err(); err != nil {
					return err
				}

				size := sizes[(id+i)%len(sizes)]
				buf, err := b.Allocate(size)
				if err != nil {
					return fmt.Errorf("worker %d cycle %d: %w", id, i, err)
				}
				data := buf.Bytes()
				data[0] = byte(id)
				data[len(data)-1] = byte(i)
				if data[0] != byte(id) || data[len(data)-1] != byte(i) {
					return fmt.Errorf("worker %d cycle %d: buffer corruption at size %d", id, i, size)
				}
				if err := b.Deallocate(buf); err != nil {
					return fmt.Errorf("worker %d cycle %d: %w", id, i, err)
				}
				ops.Add(1)
			}
		})
	}
	err = g.Wait()
	elapsed := time.Since(start)
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}

	total := ops.Load()
	logger.Info("stress complete",
		"ops", total,
		"elapsed", elapsed.Round(time.Millisecond),
		"ops_per_sec", fmt.Sprintf("%.0f", float64(total)/elapsed.Seconds()),
	)

	if report {
		stats, err := b.Statistics()
		if err != nil {
			fatal(err)
		}
		fmt.Println(stats.DetailedReport())
		fmt.Println(b.AllocatorStats())
	}

	if b.DetectLeaks() {
		logger.Error("live allocations remain after the stress cycle")
		os.Exit(1)
	}
}

// parseSizes turns "256,4096" into allocation sizes, rejecting zero.
func parseSizes(list string) ([]uintptr, error) {
	parts := strings.Split(list, ",")
	sizes := make([]uintptr, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid size %q: %w", p, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("size 0 is not allocatable")
		}
		sizes = append(sizes, uintptr(n))
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no sizes given")
	}
	return sizes, nil
}

func fatal(a ...interface{}) {
	fmt.Fprintln(os.Stderr, a...)
	os.Exit(1)
}
