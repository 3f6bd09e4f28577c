package perf

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/htab/cmd/util"
	"github.com/ValentinKolb/htab/lib/hmap"
	"github.com/ValentinKolb/htab/lib/hmap/engines/htab"
	"github.com/ValentinKolb/htab/lib/lockmgr"
	"github.com/ValentinKolb/htab/lib/logging"
	"github.com/ValentinKolb/htab/lib/store/lstore"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("perf")

var (
	PerfCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for htab tables",
		Long: `Create a table with the given configuration in this process and measure the latency and throughput of its operations.
The configuration can be set via command line flags or environment variables. The format of the environment variables is HTAB_<flag> (e.g. HTAB_MAX_ENTRIES=1000)`,
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 8
	perfOps        = 1_000_000
	perfKeySpread  = 10_000
	perfSkip       = make([]string, 0)
)

func init() {
	util.SetupTableFlags(PerfCmd)

	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. update,lookup)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 8, util.WrapString("Number of goroutines to use for the benchmark"))
	key = "ops"
	PerfCmd.Flags().Int(key, 1_000_000, util.WrapString("Number of operations per benchmark (spread over all goroutines)"))
	key = "keys"
	PerfCmd.Flags().Int(key, 10_000, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "info"
	PerfCmd.Flags().Bool(key, false, util.WrapString("Print the table info as JSON after the benchmarks"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := logging.InitLoggers(viper.GetString("log-level")); err != nil {
		return err
	}

	perfNumThreads = viper.GetInt("threads")
	perfOps = viper.GetInt("ops")
	perfKeySpread = viper.GetInt("keys")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfNumThreads <= 0 || perfOps <= 0 || perfKeySpread <= 0 {
		return fmt.Errorf("threads, ops and keys must be positive")
	}
	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

// perfTest is one benchmark. prepare runs untimed before the workers start,
// op is timed for every call. A test whose applies returns false is skipped.
type perfTest struct {
	name    string
	applies func(opts *htab.Options) bool
	prepare func(m hmap.Map) error
	op      func(m hmap.Map, i int) error
}

// result is the outcome of one benchmark
type result struct {
	test    string
	skipped bool
	ops     int64
	errors  int64
	wall    time.Duration
	timer   gometrics.Timer
}

func perfTests(value []byte) []perfTest {
	prefill := func(m hmap.Map) error {
		for i := 0; i < perfKeySpread; i++ {
			if err := m.Update(perfKey(m, i), value, hmap.Upsert); err != nil {
				return fmt.Errorf("prefill key %d: %w", i, err)
			}
		}
		return nil
	}

	var locks lockmgr.ILockManager

	return []perfTest{
		{
			name: "update",
			op: func(m hmap.Map, i int) error {
				return m.Update(perfKey(m, i%perfKeySpread), value, hmap.Upsert)
			},
		},
		{
			name:    "lookup",
			prepare: prefill,
			op: func(m hmap.Map, i int) error {
				if _, ok := m.Lookup(perfKey(m, i%perfKeySpread)); !ok {
					return hmap.ErrNotFound
				}
				return nil
			},
		},
		{
			name: "lookup-miss",
			op: func(m hmap.Map, i int) error {
				m.Lookup(perfKey(m, perfKeySpread+i%perfKeySpread))
				return nil
			},
		},
		{
			name:    "delete",
			prepare: prefill,
			op: func(m hmap.Map, i int) error {
				err := m.Delete(perfKey(m, i%perfKeySpread))
				if errors.Is(err, hmap.ErrNotFound) {
					return nil
				}
				return err
			},
		},
		{
			name:    "batch",
			prepare: prefill,
			op: func(m hmap.Map, i int) error {
				_, _, err := m.LookupBatch(uint32(i), 64)
				if errors.Is(err, hmap.ErrNotFound) {
					return nil
				}
				return err
			},
		},
		{
			name:    "mixed",
			prepare: prefill,
			op: func(m hmap.Map, i int) error {
				key := perfKey(m, i%perfKeySpread)
				var err error
				switch i % 4 {
				case 0:
					err = m.Update(key, value, hmap.Upsert)
				case 1, 2:
					m.Lookup(key)
				case 3:
					err = m.Delete(key)
				}
				if errors.Is(err, hmap.ErrNotFound) {
					return nil
				}
				return err
			},
		},
		{
			name: "lock",
			applies: func(opts *htab.Options) bool {
				return !opts.PerCPU && opts.ValueSize >= 8
			},
			prepare: func(m hmap.Map) error {
				// the store does not own m, it is closed by run
				s, err := lstore.NewLocalStore(func() (hmap.Map, error) { return m, nil }, nil)
				if err != nil {
					return err
				}
				locks, err = lockmgr.NewLockManager(s)
				return err
			},
			op: func(_ hmap.Map, i int) error {
				key := strconv.Itoa(i % perfKeySpread)
				ok, owner, err := locks.AcquireLock(key, 0)
				if err != nil || !ok {
					return err
				}
				_, err = locks.ReleaseLock(key, owner)
				return err
			},
		},
	}
}

func run(_ *cobra.Command, _ []string) error {
	opts, err := util.GetTableOptions()
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for htab tables")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(opts.String())
	fmt.Printf("Threads: %d, Ops: %d, Keys: %d\n", perfNumThreads, perfOps, perfKeySpread)
	fmt.Println()

	value := bytes.Repeat([]byte{0xab}, opts.ValueSize)
	registry := gometrics.NewRegistry()
	var results []result
	var last hmap.Map

	for _, test := range perfTests(value) {
		if shouldSkip(test.name) || (test.applies != nil && !test.applies(opts)) {
			results = append(results, result{test: test.name, skipped: true})
			printResult(results[len(results)-1])
			continue
		}

		// every benchmark starts with a fresh table
		m, err := htab.New(opts)
		if err != nil {
			return err
		}

		res, err := runTest(m, test, gometrics.GetOrRegisterTimer(test.name, registry))
		if err != nil {
			m.Close()
			return fmt.Errorf("benchmark %s: %w", test.name, err)
		}
		results = append(results, res)
		printResult(res)

		if last != nil {
			last.Close()
		}
		last = m
	}

	if last != nil {
		defer last.Close()
		if viper.GetBool("info") {
			if err := printInfo(last); err != nil {
				return err
			}
		}
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, opts); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runTest runs a benchmark on m with perfNumThreads workers
func runTest(m hmap.Map, test perfTest, timer gometrics.Timer) (result, error) {
	if test.prepare != nil {
		if err := test.prepare(m); err != nil {
			return result{}, err
		}
	}

	var failed atomic.Int64
	var g errgroup.Group
	perWorker := perfOps / perfNumThreads
	if perWorker == 0 {
		perWorker = 1
	}

	start := time.Now()
	for w := 0; w < perfNumThreads; w++ {
		base := w * perWorker
		g.Go(func() error {
			for i := base; i < base+perWorker; i++ {
				opStart := time.Now()
				err := test.op(m, i)
				timer.UpdateSince(opStart)
				if err != nil {
					if failed.Add(1) == 1 {
						Logger.Warningf("(%s) - first error: %v", test.name, err)
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}

	return result{
		test:   test.name,
		ops:    int64(perWorker * perfNumThreads),
		errors: failed.Load(),
		wall:   time.Since(start),
		timer:  timer,
	}, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// perfKey encodes i as a key of the table's key size
func perfKey(m hmap.Map, i int) []byte {
	key := make([]byte, m.KeySize())
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(i))
	copy(key, tmp[:])
	return key
}

// opsPerSec returns the throughput of a result
func (r result) opsPerSec() float64 {
	if r.wall <= 0 {
		return 0
	}
	return float64(r.ops) / r.wall.Seconds()
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(r result) {
	if r.skipped {
		fmt.Printf("%-14sskipped\n", r.test)
		return
	}

	s := r.timer.Snapshot()
	fmt.Printf("%-14smean %-10s p50 %-10s p99 %-10s max %-10s %10.0f ops/sec  (%d errors)\n",
		r.test,
		time.Duration(s.Mean()),
		time.Duration(s.Percentile(0.5)),
		time.Duration(s.Percentile(0.99)),
		time.Duration(s.Max()),
		r.opsPerSec(),
		r.errors,
	)
}

// printInfo prints the table info as indented JSON
func printInfo(m hmap.Map) error {
	raw, err := sonnet.Marshal(m.Info())
	if err != nil {
		return fmt.Errorf("failed to encode table info: %v", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format table info: %v", err)
	}
	fmt.Printf("\nTable info (last benchmark):\n%s\n", out.String())
	return nil
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []result, opts *htab.Options) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "Skipped", "Ops", "Errors", "MeanNs", "P50Ns", "P99Ns", "MaxNs", "OpsPerSec",
		"Variant", "Allocation", "PerCPU", "KeySize", "ValueSize", "MaxEntries", "CPUs",
		"Threads", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, r := range results {
		var mean, p50, p99 float64
		var max int64
		if !r.skipped {
			s := r.timer.Snapshot()
			mean, p50, p99, max = s.Mean(), s.Percentile(0.5), s.Percentile(0.99), s.Max()
		}

		row := []string{
			r.test,
			strconv.FormatBool(r.skipped),
			strconv.FormatInt(r.ops, 10),
			strconv.FormatInt(r.errors, 10),
			fmt.Sprintf("%.0f", mean),
			fmt.Sprintf("%.0f", p50),
			fmt.Sprintf("%.0f", p99),
			strconv.FormatInt(max, 10),
			fmt.Sprintf("%.0f", r.opsPerSec()),
			opts.Variant.String(),
			opts.Allocation.String(),
			strconv.FormatBool(opts.PerCPU),
			strconv.Itoa(opts.KeySize),
			strconv.Itoa(opts.ValueSize),
			strconv.Itoa(opts.MaxEntries),
			strconv.Itoa(opts.NumCPU),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.test, err)
		}
	}

	return nil
}
