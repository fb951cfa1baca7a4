package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/go-nvme"
	"github.com/ehrlich-b/go-nvme/backend"
	"github.com/ehrlich-b/go-nvme/internal/devsim"
	"github.com/ehrlich-b/go-nvme/internal/logging"
)

const nsid = 1

func main() {
	var (
		sizeStr   = flag.String("size", "256M", "Size of the simulated namespace (e.g., 64M, 1G)")
		bsStr     = flag.String("bs", "4K", "I/O block size (e.g., 512, 4K, 128K)")
		pattern   = flag.String("rw", "randread", "Workload: read, write, randread, randwrite, randrw")
		duration  = flag.Duration("runtime", 5*time.Second, "How long to run the workload")
		jobs      = flag.Int("jobs", 4, "Concurrent worker goroutines")
		queues    = flag.Int("queues", 0, "I/O queue pairs (0 = one per CPU)")
		depth     = flag.Int("iodepth", nvme.DefaultQueueDepth, "Queue depth per pair")
		scheduler = flag.String("scheduler", "cpu", "Scheduler policy: none, roundrobin, cpu, priority, deadline")
		poll      = flag.Bool("poll", false, "Poll for completions instead of waiting on interrupts")
		jsonOut   = flag.Bool("json", false, "Emit the report as JSON instead of fio-style text")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("Invalid size '%s': %v", *sizeStr, err)
	}
	bs, err := parseSize(*bsStr)
	if err != nil {
		log.Fatalf("Invalid block size '%s': %v", *bsStr, err)
	}
	if bs <= 0 || bs%nvme.DefaultLogicalBlockSize != 0 {
		log.Fatalf("Block size must be a positive multiple of %d", nvme.DefaultLogicalBlockSize)
	}

	policy, err := nvme.ParsePolicy(*scheduler)
	if err != nil {
		log.Fatalf("Invalid scheduler: %v", err)
	}

	// Set up logging
	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	// Simulated controller with one RAM namespace
	blocks := uint64(size) / nvme.DefaultLogicalBlockSize
	sim := devsim.New()
	store := backend.NewMemory(blocks, nvme.DefaultLogicalBlockSize)
	defer store.Close()
	sim.AddNamespace(nsid, store)

	cfg := nvme.ConfigFromEnv()
	cfg.Scheduler = policy
	cfg.PollMode = *poll
	cfg.QueueDepth = *depth
	if *queues > 0 {
		cfg.NumQueues = *queues
	}

	drv, err := nvme.Open(sim, cfg)
	if err != nil {
		logger.Error("failed to open driver", "error", err)
		os.Exit(1)
	}
	defer drv.Close()

	logger.Info("benchmark starting",
		"pattern", *pattern,
		"size", formatSize(size),
		"bs", bs,
		"jobs", *jobs,
		"runtime", *duration)

	elapsed, err := runWorkload(drv, *pattern, int(bs), blocks, *jobs, *duration)
	if err != nil {
		logger.Error("workload failed", "error", err)
		os.Exit(1)
	}

	snap := drv.Stats().Snapshot()
	results := nvme.NewBenchmarkResults(*pattern, snap, elapsed, int(bs), cfg.QueueDepth, cfg.NumQueues)

	if *jsonOut {
		out, err := results.JSON()
		if err != nil {
			logger.Error("failed to encode report", "error", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	} else {
		fmt.Print(results.FioText())
	}
}

// runWorkload drives the pattern with jobs synchronous workers until the
// runtime expires, then waits for stragglers.
func runWorkload(drv *nvme.Driver, pattern string, bs int, blocks uint64, jobs int, runtime time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), runtime)
	defer cancel()

	blocksPerIO := uint64(bs) / nvme.DefaultLogicalBlockSize
	if blocksPerIO == 0 || blocksPerIO > blocks {
		return 0, fmt.Errorf("block size %d does not fit the namespace", bs)
	}
	span := blocks - blocksPerIO + 1

	start := time.Now()
	var wg sync.WaitGroup
	errCh := make(chan error, jobs)

	for j := 0; j < jobs; j++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			buf := make([]byte, bs)
			var seq uint64

			for ctx.Err() == nil {
				var lba uint64
				write := false
				switch pattern {
				case "read":
					lba = seq % span
					seq += blocksPerIO
				case "write":
					lba = seq % span
					seq += blocksPerIO
					write = true
				case "randread":
					lba = uint64(rng.Int63n(int64(span)))
				case "randwrite":
					lba = uint64(rng.Int63n(int64(span)))
					write = true
				case "randrw":
					lba = uint64(rng.Int63n(int64(span)))
					write = rng.Intn(2) == 0
				default:
					errCh <- fmt.Errorf("unknown pattern %q", pattern)
					return
				}

				var err error
				if write {
					err = drv.Write(context.Background(), nsid, lba, buf)
				} else {
					err = drv.Read(context.Background(), nsid, lba, buf)
				}
				if err != nil {
					errCh <- err
					return
				}
			}
		}(int64(j) + 1)
	}

	wg.Wait()
	elapsed := time.Since(start)

	select {
	case err := <-errCh:
		return elapsed, err
	default:
		return elapsed, nil
	}
}

// parseSize parses a size string like "64M", "1G", "512K"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	if strings.HasSuffix(s, "K") {
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	} else if strings.HasSuffix(s, "M") {
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	} else if strings.HasSuffix(s, "G") {
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	} else {
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
