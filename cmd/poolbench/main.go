// Command poolbench drives concurrent Acquire/Release load against a
// DataSource and reports throughput, latency, and final pool stats.
// Grounded on scripts/test_phase4.go's concurrent-connection harness
// (goroutine-per-worker, atomic success/failure counters, sync.WaitGroup)
// from joaobrasildev-poc-connection-pooling-for-some-rds, adapted from a
// one-shot saturation script into a configurable CLI flag around
// cmd/api/main.go's flag-parsed-config shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kafitramarna/fibersql/config"
	"github.com/kafitramarna/fibersql/datasource"
	"github.com/kafitramarna/fibersql/internal/logger"
	"github.com/kafitramarna/fibersql/pool"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
	workers    = flag.Int("workers", 20, "Number of concurrent workers")
	duration   = flag.Duration("duration", 10*time.Second, "How long to run the benchmark")
	holdTime   = flag.Duration("hold", 0, "How long each worker holds its connection before releasing")
	query      = flag.String("query", "SELECT 1", "Query to run on each acquired connection, empty to skip")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.Init("WARN")

	ds, err := datasource.Open(*cfg)
	if err != nil {
		log.Fatalf("failed to open datasource: %v", err)
	}
	defer ds.Close(context.Background())

	fmt.Printf("poolbench: %d workers for %s against %s (min=%d max=%d)\n",
		*workers, *duration, cfg.Connection.Address(), cfg.Pool.MinConnections, cfg.Pool.MaxConnections)

	var (
		success  atomic.Int64
		failures atomic.Int64
		lats     = make(chan time.Duration, 4096)
		wg       sync.WaitGroup
	)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, ds, id, &success, &failures, lats)
		}(i)
	}
	wg.Wait()
	close(lats)
	elapsed := time.Since(start)

	samples := make([]time.Duration, 0, len(lats))
	for d := range lats {
		samples = append(samples, d)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	report(elapsed, success.Load(), failures.Load(), samples)
	snap := ds.Snapshot()
	fmt.Printf("final pool state: total=%d idle=%d in_use=%d waiting=%d created=%d destroyed=%d\n",
		snap.Total, snap.Idle, snap.InUse, snap.Waiting, snap.TotalCreated, snap.TotalDestroyed)
}

func runWorker(ctx context.Context, ds *datasource.DataSource, id int, success, failures *atomic.Int64, lats chan<- time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t0 := time.Now()
		err := ds.WithConnection(ctx, func(conn pool.Conn) error {
			if *query != "" {
				if execer, ok := conn.(interface {
					Exec(context.Context, string) error
				}); ok {
					if err := execer.Exec(ctx, *query); err != nil {
						return err
					}
				}
			}
			if *holdTime > 0 {
				select {
				case <-time.After(*holdTime):
				case <-ctx.Done():
				}
			}
			return nil
		})
		elapsed := time.Since(t0)

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures.Add(1)
			continue
		}
		success.Add(1)
		select {
		case lats <- elapsed:
		default:
		}
	}
}

func report(elapsed time.Duration, success, failures int64, samples []time.Duration) {
	total := success + failures
	fmt.Printf("\n=== poolbench results ===\n")
	fmt.Printf("elapsed:   %s\n", elapsed)
	fmt.Printf("total:     %d (%.1f ops/sec)\n", total, float64(total)/elapsed.Seconds())
	fmt.Printf("success:   %d\n", success)
	fmt.Printf("failures:  %d\n", failures)

	if len(samples) == 0 {
		return
	}
	fmt.Printf("latency:   p50=%s p95=%s p99=%s max=%s\n",
		percentile(samples, 0.50), percentile(samples, 0.95), percentile(samples, 0.99), samples[len(samples)-1])
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
