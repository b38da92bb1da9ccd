// Command weavebench 测量不同 optimizer 防抖窗口下的解析延迟，输出 CSV：
//
//	timestamp,debounce_ms,count,total_ms,p50_ms,p95_ms,p99_ms
//
// 示例：
//
//	weavebench -types 200 -count 10000,100000 -debounce 0,50,200 -out bench.csv
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocrud/weavedi/di"
	"github.com/gocrud/weavedi/logging"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/sync/errgroup"
)

var header = []string{"timestamp", "debounce_ms", "count", "total_ms", "p50_ms", "p95_ms", "p99_ms"}

type config struct {
	types     int
	counts    []int
	debounces []time.Duration
	workers   int
	threshold int
	policy    string
	transient bool
	out       string
	append    bool
	summary   bool
}

type result struct {
	debounce time.Duration
	count    int
	total    time.Duration
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "weavebench:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	logger := logging.NewLoggingBuilder().
		AddConsole(logging.ConsoleLoggerOptions{Output: stderr, IncludeTimestamp: true}).
		Build().
		CreateLogger("weavebench")

	out := stdout
	writeHeader := true
	if cfg.out != "" {
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if cfg.append {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
			if st, err := os.Stat(cfg.out); err == nil && st.Size() > 0 {
				writeHeader = false
			}
		}
		f, err := os.OpenFile(cfg.out, flags, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	w := csv.NewWriter(out)
	if writeHeader {
		if err := w.Write(header); err != nil {
			return err
		}
	}

	ctx := context.Background()
	var results []result
	for _, count := range cfg.counts {
		for _, debounce := range cfg.debounces {
			res, err := measure(ctx, cfg, debounce, count)
			if err != nil {
				return err
			}
			logger.Info("run completed",
				logging.Field{Key: "debounce", Value: debounce},
				logging.Field{Key: "count", Value: count},
				logging.Field{Key: "p95", Value: res.p95})
			if err := w.Write(res.record(time.Now())); err != nil {
				return err
			}
			results = append(results, res)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if cfg.summary {
		renderSummary(stderr, results)
	}
	return nil
}

// renderSummary 以表格形式输出每一轮的结果
func renderSummary(w io.Writer, results []result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"debounce", "count", "total ms", "p50 ms", "p95 ms", "p99 ms", "ops/s"})
	for _, r := range results {
		var ops float64
		if r.total > 0 {
			ops = float64(r.count) / r.total.Seconds()
		}
		t.AppendRow(table.Row{r.debounce, r.count, ms(r.total), ms(r.p50), ms(r.p95), ms(r.p99), fmt.Sprintf("%.0f", ops)})
	}
	t.Render()
}

func parseFlags(args []string, stderr io.Writer) (*config, error) {
	fs := flag.NewFlagSet("weavebench", flag.ContinueOnError)
	fs.SetOutput(stderr)

	types := fs.Int("types", 100, "number of registered types")
	counts := fs.String("count", "10000", "comma separated resolution counts per run")
	debounces := fs.String("debounce", "0,50,200", "comma separated optimizer debounce windows in ms")
	workers := fs.Int("workers", runtime.GOMAXPROCS(0), "concurrent resolving goroutines")
	threshold := fs.Int("threshold", 10, "frequent-use threshold")
	policy := fs.String("policy", string(di.PolicyRaceTolerant), "singleton policy: race-tolerant or exactly-once")
	transient := fs.Bool("transient", false, "register transient services instead of singletons")
	out := fs.String("out", "", "output CSV file (default stdout)")
	appendOut := fs.Bool("append", false, "append to -out instead of truncating")
	summary := fs.Bool("summary", true, "print a summary table to stderr")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &config{
		types:     *types,
		workers:   *workers,
		threshold: *threshold,
		policy:    *policy,
		transient: *transient,
		out:       *out,
		append:    *appendOut,
		summary:   *summary,
	}
	if cfg.types <= 0 || cfg.workers <= 0 {
		return nil, fmt.Errorf("-types and -workers must be positive")
	}
	if cfg.policy != string(di.PolicyRaceTolerant) && cfg.policy != string(di.PolicyExactlyOnce) {
		return nil, fmt.Errorf("unknown -policy %q", cfg.policy)
	}

	var err error
	if cfg.counts, err = parseInts(*counts); err != nil {
		return nil, fmt.Errorf("-count: %w", err)
	}
	ms, err := parseInts(*debounces)
	if err != nil {
		return nil, fmt.Errorf("-debounce: %w", err)
	}
	for _, m := range ms {
		cfg.debounces = append(cfg.debounces, time.Duration(m)*time.Millisecond)
	}
	return cfg, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("negative value %d", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return out, nil
}

type service struct{ id int }

func measure(ctx context.Context, cfg *config, debounce time.Duration, count int) (result, error) {
	reg := di.New(di.WithSettings(di.Settings{
		SingletonPolicy:   di.SingletonPolicy(cfg.policy),
		FrequentThreshold: cfg.threshold,
		OptimizeDebounce:  debounce,
	}))
	defer reg.Close()

	keys := make([]di.Key, cfg.types)
	scope := di.WithSingleton()
	if cfg.transient {
		scope = di.WithTransient()
	}
	err := reg.Bootstrap(func(b *di.Batch) error {
		for i := range keys {
			id := i
			keys[i] = di.NewKey(di.TypeOf[*service](), "svc-"+strconv.Itoa(i))
			b.Register(keys[i], func(context.Context, di.Resolver) (any, error) {
				return &service{id: id}, nil
			}, scope)
		}
		return nil
	})
	if err != nil {
		return result{}, err
	}

	workers := cfg.workers
	if workers > count && count > 0 {
		workers = count
	}
	latencies := make([][]time.Duration, workers)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		n := count / workers
		if w < count%workers {
			n++
		}
		g.Go(func() error {
			lat := make([]time.Duration, 0, n)
			for i := 0; i < n; i++ {
				key := keys[(w+i*workers)%len(keys)]
				t0 := time.Now()
				if _, err := reg.Require(gctx, key); err != nil {
					return err
				}
				lat = append(lat, time.Since(t0))
			}
			latencies[w] = lat
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result{}, err
	}
	total := time.Since(start)

	var all []time.Duration
	for _, l := range latencies {
		all = append(all, l...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return result{
		debounce: debounce,
		count:    count,
		total:    total,
		p50:      percentile(all, 0.50),
		p95:      percentile(all, 0.95),
		p99:      percentile(all, 0.99),
	}, nil
}

// percentile 使用最近秩法，sorted 必须已排序
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (r result) record(now time.Time) []string {
	return []string{
		now.UTC().Format(time.RFC3339),
		strconv.FormatInt(r.debounce.Milliseconds(), 10),
		strconv.Itoa(r.count),
		ms(r.total),
		ms(r.p50),
		ms(r.p95),
		ms(r.p99),
	}
}

func ms(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 4, 64)
}
