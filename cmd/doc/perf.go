package doc

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dDoc clusters",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfBucket         = "__perf"
	perfLargeFieldSize = 100
	perfNumThreads     = 10
	perfKeySpread      = 100
	perfSkip           = make([]string, 0)
)

// benchmark is one operation measured by the perf command
type benchmark struct {
	name string
	// seed stores the documents before the measurement
	seed bool
	op   func(ctx context.Context, key string, counter int) error
}

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-field-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the field of the put-large documents should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfLargeFieldSize = viper.GetInt("large-field-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfKeySpread <= 0 {
		return fmt.Errorf("--keys must be positive")
	}
	return nil
}

func benchmarks() []benchmark {
	small := json.RawMessage(`{"test":true,"n":1}`)
	large, _ := json.Marshal(map[string]string{"payload": strings.Repeat("x", perfLargeFieldSize*1024)})

	return []benchmark{
		{name: "put", op: func(ctx context.Context, key string, _ int) error {
			_, err := rpcClient.Put(ctx, perfBucket, key, small)
			return err
		}},
		{name: "put-large", op: func(ctx context.Context, key string, _ int) error {
			_, err := rpcClient.Put(ctx, perfBucket, key, large)
			return err
		}},
		{name: "get", seed: true, op: func(ctx context.Context, key string, _ int) error {
			_, err := rpcClient.Get(ctx, perfBucket, key)
			return err
		}},
		{name: "merge", seed: true, op: func(ctx context.Context, key string, counter int) error {
			_, err := rpcClient.Merge(ctx, perfBucket, key, json.RawMessage(fmt.Sprintf(`{"n":%d}`, counter)))
			return err
		}},
		{name: "mixed", seed: true, op: func(ctx context.Context, key string, counter int) error {
			var err error
			switch counter % 3 {
			case 0:
				_, err = rpcClient.Put(ctx, perfBucket, key, small)
			case 1:
				_, err = rpcClient.Get(ctx, perfBucket, key)
			case 2:
				_, err = rpcClient.Merge(ctx, perfBucket, key, json.RawMessage(`{"n":2}`))
			}
			return err
		}},
	}
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	fmt.Println("Performance testing tool for dDoc clusters")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, bm := range benchmarks() {
		result := testing.Benchmark(func(b *testing.B) {
			if slices.Contains(perfSkip, bm.name) {
				return
			}

			getKey, iter := getKeys(bm.name)
			if bm.seed {
				iter(func(k string) {
					if _, err := rpcClient.Put(ctx, perfBucket, k, json.RawMessage(`{"n":0}`)); err != nil {
						log.Printf("(%s) - error seeding document: %v\n", bm.name, err)
					}
				})
			}

			b.Cleanup(func() {
				if _, err := rpcClient.BulkRemove(ctx, perfBucket, keysOf(iter)); err != nil {
					log.Printf("(%s) - error removing documents: %v\n", bm.name, err)
				}
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := bm.op(ctx, getKey(counter), counter); err != nil {
						log.Printf("(%s) - error: %v\n", bm.name, err)
					}
					counter++
				}
			})
		})

		results[bm.name] = result
		printResult(bm.name, result)
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%d", prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

func keysOf(iter func(func(string))) []string {
	var keys []string
	iter(func(k string) { keys = append(keys, k) })
	return keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoint", "TimeoutSec", "Serializer", "Transport",
		"Threads", "LargeFieldSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			config.Endpoint,
			strconv.Itoa(config.TimeoutSecond),
			config.Transport.Serializer,
			config.Transport.Kind,
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeFieldSize),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
