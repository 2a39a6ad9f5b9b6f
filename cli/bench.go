package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
	"github.com/tigrisdata/s3fs/log"
	"github.com/tigrisdata/s3fs/transfer"
)

const (
	defaultBenchSizes      = "16MB,64MB"
	defaultBenchIterations = 3
	outputText             = "text"
	outputJSON             = "json"
)

// BenchCmd is the cobra command that measures write and copy throughput
var BenchCmd = &cobra.Command{
	Use:   "bench [config] <bucket/prefix>",
	Short: "`bench` measures write and copy throughput against the configured store",
	Long: "`bench` writes random objects of each requested size below the given prefix and then copies the " +
		"last written object, reporting throughput statistics per size. Benchmark objects are left in place.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newCommandContext(cmd)
		return capture(ctx, bench(ctx, cmd, args))
	},
}

// BenchmarkResult holds the results of a single benchmark run
type BenchmarkResult struct {
	Size       int64         `json:"size_bytes"`
	Duration   time.Duration `json:"duration_ns"`
	Throughput float64       `json:"throughput_mbps"`
	Parts      int           `json:"parts"`
}

// SizeResults holds aggregated results for a specific size
type SizeResults struct {
	SizeBytes        int64   `json:"size_bytes"`
	SizeHuman        string  `json:"size_human"`
	Iterations       int     `json:"iterations"`
	Parts            int     `json:"parts"`
	MeanThroughput   float64 `json:"mean_throughput_mbps"`
	StdDevThroughput float64 `json:"std_dev_mbps"`
	MinThroughput    float64 `json:"min_throughput_mbps"`
	MaxThroughput    float64 `json:"max_throughput_mbps"`
	Durations        []int64 `json:"durations_ms"`
}

// BenchmarkOutput is the full output structure for JSON
type BenchmarkOutput struct {
	Driver       string        `json:"driver"`
	Prefix       string        `json:"prefix"`
	Timestamp    string        `json:"timestamp"`
	WriteResults []SizeResults `json:"write_results"`
	CopyResults  []SizeResults `json:"copy_results"`
}

func bench(ctx context.Context, cmd *cobra.Command, args []string) error {
	configArgs, dst := args[:len(args)-1], args[len(args)-1]

	prefix, err := parseRef(dst)
	if err != nil {
		return err
	}

	if benchOutput != outputText && benchOutput != outputJSON {
		return fmt.Errorf("invalid output format: %s (must be 'text' or 'json')", benchOutput)
	}
	if benchIterations < 1 {
		return fmt.Errorf("iterations must be positive, got %d", benchIterations)
	}

	sizes, err := parseSizes(benchSizes)
	if err != nil {
		return fmt.Errorf("parsing sizes: %w", err)
	}

	ctx, config, store, err := setup(ctx, configArgs)
	if err != nil {
		return err
	}

	template, err := newTarget(ctx, config, prefix)
	if err != nil {
		return err
	}

	engine, err := newEngine(config, store)
	if err != nil {
		return err
	}
	defer closeEngine(ctx, engine)

	out := BenchmarkOutput{
		Driver:    config.Storage.Type(),
		Prefix:    prefix.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	for _, size := range sizes {
		writes, copies := benchSize(ctx, engine, template, size, benchIterations)
		if len(writes) > 0 {
			out.WriteResults = append(out.WriteResults, aggregateResults(size, writes))
		}
		if len(copies) > 0 {
			out.CopyResults = append(out.CopyResults, aggregateResults(size, copies))
		}
	}

	if benchOutput == outputJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return renderBenchmark(cmd.OutOrStdout(), out)
}

// benchSize writes iterations objects of size bytes, then copies the last one
// written iterations times. Failed iterations are logged and skipped.
func benchSize(ctx context.Context, engine *transfer.Engine, template transfer.Target, size int64, iterations int) ([]BenchmarkResult, []BenchmarkResult) {
	l := log.GetLogger(log.WithContext(ctx)).WithField("size", humanizeBytes(size))

	data, dgst := generateBlob(size)
	l.WithField("digest", dgst).Info("generated benchmark object")

	writes := make([]BenchmarkResult, 0, iterations)
	var source transfer.ObjectRef
	for i := 0; i < iterations; i++ {
		target := template
		target.Key = fmt.Sprintf("%s/%d-write-%d", template.Key, size, i)

		result, err := benchmarkWrite(ctx, engine, target, data)
		if err != nil {
			l.WithError(err).WithField("iteration", i+1).Warn("write iteration failed")
			continue
		}
		source = target.ObjectRef
		writes = append(writes, result)
		l.WithFields(log.Fields{
			"iteration":       i + 1,
			"throughput_mbps": result.Throughput,
			"duration_s":      result.Duration.Seconds(),
		}).Info("write iteration complete")
	}

	if len(writes) == 0 {
		return writes, nil
	}

	copies := make([]BenchmarkResult, 0, iterations)
	for i := 0; i < iterations; i++ {
		target := template
		target.Key = fmt.Sprintf("%s/%d-copy-%d", template.Key, size, i)

		result, err := benchmarkCopy(ctx, engine, source, target, size)
		if err != nil {
			l.WithError(err).WithField("iteration", i+1).Warn("copy iteration failed")
			continue
		}
		copies = append(copies, result)
		l.WithFields(log.Fields{
			"iteration":       i + 1,
			"throughput_mbps": result.Throughput,
			"duration_s":      result.Duration.Seconds(),
		}).Info("copy iteration complete")
	}

	return writes, copies
}

func benchmarkWrite(ctx context.Context, engine *transfer.Engine, target transfer.Target, data []byte) (BenchmarkResult, error) {
	start := time.Now()

	w, err := engine.NewWriter(ctx, target)
	if err != nil {
		return BenchmarkResult{}, err
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Cancel(ctx)
		return BenchmarkResult{}, fmt.Errorf("writing object: %w", err)
	}
	if err := w.Close(); err != nil {
		return BenchmarkResult{}, fmt.Errorf("committing object: %w", err)
	}

	return newResult(int64(len(data)), w.Parts(), time.Since(start)), nil
}

func benchmarkCopy(ctx context.Context, engine *transfer.Engine, source transfer.ObjectRef, target transfer.Target, size int64) (BenchmarkResult, error) {
	start := time.Now()

	res, err := engine.Copy(ctx, source, target, transfer.WithSourceSize(size))
	if err != nil {
		return BenchmarkResult{}, err
	}

	return newResult(res.Size, res.Parts, time.Since(start)), nil
}

func newResult(size int64, parts int, d time.Duration) BenchmarkResult {
	var throughput float64
	if d > 0 {
		throughput = float64(size) / d.Seconds() / (1024 * 1024)
	}
	return BenchmarkResult{
		Size:       size,
		Duration:   d,
		Throughput: throughput,
		Parts:      parts,
	}
}

// parseSizes parses a comma-separated list of sizes like "1GB,2GB" into bytes
func parseSizes(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	sizes := make([]int64, 0, len(parts))

	for _, part := range parts {
		part = strings.ToUpper(strings.TrimSpace(part))

		var multiplier int64 = 1
		numStr := part
		for _, unit := range []struct {
			suffix string
			size   int64
		}{
			{"GB", 1 << 30},
			{"MB", 1 << 20},
			{"KB", 1 << 10},
		} {
			if strings.HasSuffix(part, unit.suffix) {
				multiplier = unit.size
				numStr = strings.TrimSuffix(part, unit.suffix)
				break
			}
		}

		num, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid size '%s': %w", part, err)
		}
		if num < 0 {
			return nil, fmt.Errorf("invalid size '%s': must not be negative", part)
		}

		sizes = append(sizes, num*multiplier)
	}

	return sizes, nil
}

// humanizeBytes converts bytes to human-readable format
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.0f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// generateBlob generates a random blob of the specified size using ChaCha8 RNG
func generateBlob(size int64) ([]byte, digest.Digest) {
	seed := [32]byte{}
	seedVal := time.Now().UnixNano()
	for i := 0; i < 8; i++ {
		seed[i] = byte(seedVal >> (i * 8))
	}

	rng := rand.NewChaCha8(seed)
	data := make([]byte, size)
	_, _ = rng.Read(data)

	return data, digest.FromBytes(data)
}

// aggregateResults aggregates multiple benchmark results into statistics
func aggregateResults(size int64, results []BenchmarkResult) SizeResults {
	if len(results) == 0 {
		return SizeResults{SizeBytes: size, SizeHuman: humanizeBytes(size)}
	}

	durations := make([]int64, len(results))
	var sum float64
	minT := results[0].Throughput
	maxT := results[0].Throughput

	for i, r := range results {
		durations[i] = r.Duration.Milliseconds()
		sum += r.Throughput
		minT = math.Min(minT, r.Throughput)
		maxT = math.Max(maxT, r.Throughput)
	}

	mean := sum / float64(len(results))

	var variance float64
	for _, r := range results {
		variance += (r.Throughput - mean) * (r.Throughput - mean)
	}
	variance /= float64(len(results))

	return SizeResults{
		SizeBytes:        size,
		SizeHuman:        humanizeBytes(size),
		Iterations:       len(results),
		Parts:            results[len(results)-1].Parts,
		MeanThroughput:   mean,
		StdDevThroughput: math.Sqrt(variance),
		MinThroughput:    minT,
		MaxThroughput:    maxT,
		Durations:        durations,
	}
}

func renderBenchmark(out io.Writer, o BenchmarkOutput) error {
	_, _ = fmt.Fprintf(out, "Driver: %s\nPrefix: %s\nTimestamp: %s\n", o.Driver, o.Prefix, o.Timestamp)

	for _, section := range []struct {
		name    string
		results []SizeResults
	}{
		{"WRITE RESULTS", o.WriteResults},
		{"COPY RESULTS", o.CopyResults},
	} {
		if len(section.results) == 0 {
			continue
		}

		_, _ = fmt.Fprintf(out, "\n%s\n", section.name)
		table := tablewriter.NewWriter(out)
		table.Header([]string{"Size", "Parts", "Iterations", "Throughput", "Std Dev", "Min", "Max"})
		for _, r := range section.results {
			if err := table.Append([]string{
				r.SizeHuman,
				strconv.Itoa(r.Parts),
				strconv.Itoa(r.Iterations),
				fmt.Sprintf("%.2f MB/s", r.MeanThroughput),
				fmt.Sprintf("%.2f MB/s", r.StdDevThroughput),
				fmt.Sprintf("%.2f MB/s", r.MinThroughput),
				fmt.Sprintf("%.2f MB/s", r.MaxThroughput),
			}); err != nil {
				return fmt.Errorf("appending table: %w", err)
			}
		}
		if err := table.Render(); err != nil {
			return fmt.Errorf("rendering table: %w", err)
		}
	}

	return nil
}
