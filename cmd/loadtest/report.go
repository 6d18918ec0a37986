package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"
)

const (
	codeTransport  = "transport_error"
	scenarioMethod = "scenario"
)

// latencyStats в миллисекундах.
type latencyStats struct {
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P99  float64 `json:"p99"`
	Max  float64 `json:"max"`
}

type endpointReport struct {
	Calls    int64            `json:"calls"`
	OK       int64            `json:"ok"`
	Failed   int64            `json:"failed"`
	ByStatus map[string]int64 `json:"by_status"`
	Latency  latencyStats     `json:"latency_ms"`
}

type report struct {
	Started        time.Time                 `json:"started"`
	ElapsedSeconds float64                   `json:"elapsed_seconds"`
	Scenarios      int64                     `json:"scenarios"`
	Succeeded      int64                     `json:"succeeded"`
	Failed         int64                     `json:"failed"`
	ErrorRate      float64                   `json:"error_rate"`
	Throughput     float64                   `json:"scenarios_per_second"`
	Latency        latencyStats              `json:"scenario_latency_ms"`
	Endpoints      map[string]endpointReport `json:"endpoints"`
}

type endpoint struct {
	ok, failed int64
	byStatus   map[string]int64
	samples    []time.Duration
}

// collector копит статистику по вызовам API и по сценариям целиком.
type collector struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
}

func newCollector() *collector {
	return &collector{endpoints: make(map[string]*endpoint)}
}

// record учитывает вызов. Успех: 2xx; status 0 означает ошибку транспорта.
func (c *collector) record(name string, took time.Duration, status int) {
	code := codeTransport
	if status != 0 {
		code = strconv.Itoa(status)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ep := c.endpoints[name]
	if ep == nil {
		ep = &endpoint{byStatus: make(map[string]int64)}
		c.endpoints[name] = ep
	}
	if status >= 200 && status < 300 {
		ep.ok++
	} else {
		ep.failed++
	}
	ep.byStatus[code]++
	ep.samples = append(ep.samples, took)
}

func (c *collector) snapshot(started time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := report{
		Started:        started.UTC(),
		ElapsedSeconds: elapsed.Seconds(),
		Endpoints:      make(map[string]endpointReport, len(c.endpoints)),
	}
	for name, ep := range c.endpoints {
		r.Endpoints[name] = endpointReport{
			Calls:    ep.ok + ep.failed,
			OK:       ep.ok,
			Failed:   ep.failed,
			ByStatus: maps.Clone(ep.byStatus),
			Latency:  summarize(ep.samples),
		}
	}
	if sc, ok := r.Endpoints[scenarioMethod]; ok {
		r.Scenarios, r.Succeeded, r.Failed = sc.Calls, sc.OK, sc.Failed
		r.Latency = sc.Latency
	}
	if r.Scenarios > 0 {
		r.ErrorRate = float64(r.Failed) / float64(r.Scenarios)
	}
	if elapsed > 0 {
		r.Throughput = float64(r.Scenarios) / elapsed.Seconds()
	}
	return r
}

func summarize(samples []time.Duration) latencyStats {
	if len(samples) == 0 {
		return latencyStats{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	return latencyStats{
		Min:  ms(sorted[0]),
		Mean: ms(total / time.Duration(len(sorted))),
		P50:  ms(nearestRank(sorted, 50)),
		P90:  ms(nearestRank(sorted, 90)),
		P99:  ms(nearestRank(sorted, 99)),
		Max:  ms(sorted[len(sorted)-1]),
	}
}

// nearestRank: наименьшее значение, не меньше которого p процентов выборки.
func nearestRank(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	return sorted[max(rank, 1)-1]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func writeJSONReport(path string, r report) error {
	if path == "" || filepath.Base(filepath.Clean(path)) == "." || filepath.Clean(path) == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

func printReport(w io.Writer, r report, cfg config) {
	fmt.Fprintf(w, "mode=%s run=%s\n", cfg.mode, runTarget(cfg))
	fmt.Fprintf(w, "scenarios=%d ok=%d failed=%d error_rate=%.4f elapsed=%.2fs throughput=%.2f/s\n",
		r.Scenarios, r.Succeeded, r.Failed, r.ErrorRate, r.ElapsedSeconds, r.Throughput)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "endpoint\tcalls\tok\tfailed\tp50 ms\tp90 ms\tp99 ms")
	for _, name := range slices.Sorted(maps.Keys(r.Endpoints)) {
		ep := r.Endpoints[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2f\t%.2f\t%.2f\n",
			name, ep.Calls, ep.OK, ep.Failed, ep.Latency.P50, ep.Latency.P90, ep.Latency.P99)
	}
	_ = tw.Flush()
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}
