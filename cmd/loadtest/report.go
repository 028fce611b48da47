package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// scenarioMethod: псевдометод, под которым учитывается сценарий целиком.
	scenarioMethod = "scenario"
	transportError = "transport_error"
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	OrdersCreated     int64                   `json:"orders_created"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

// tally: счётчики одного метода; латентность хранится в миллисекундах.
type tally struct {
	ok, failed int64
	byStatus   map[string]int64
	samplesMs  []float64
}

func (t *tally) calls() int64 { return t.ok + t.failed }

func (t *tally) toReport() methodReport {
	return methodReport{
		Calls:     t.calls(),
		Success:   t.ok,
		Failed:    t.failed,
		ErrorRate: ratio(t.failed, t.calls()),
		Statuses:  maps.Clone(t.byStatus),
		LatencyMs: buildLatencySummary(t.samplesMs),
	}
}

// collector общий для всех воркеров нагрузки.
type collector struct {
	mu     sync.Mutex
	byName map[string]*tally
	orders int64
}

func newCollector() *collector {
	return &collector{byName: make(map[string]*tally)}
}

// record учитывает один вызов; status 0 — ответа не было.
func (c *collector) record(method string, latency time.Duration, status int, ok bool) {
	label := transportError
	if status != 0 {
		label = strconv.Itoa(status)
	}
	ms := float64(latency) / float64(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.byName[method]
	if t == nil {
		t = &tally{byStatus: make(map[string]int64)}
		c.byName[method] = t
	}
	if ok {
		t.ok++
	} else {
		t.failed++
	}
	t.byStatus[label]++
	t.samplesMs = append(t.samplesMs, ms)
}

func (c *collector) addOrders(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders += int64(n)
}

func (c *collector) snapshot(method string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.byName[method]; ok {
		return t.toReport(), true
	}
	return methodReport{}, false
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		OrdersCreated:   c.orders,
		Methods:         make(map[string]methodReport, len(c.byName)),
	}
	for name, t := range c.byName {
		out.Methods[name] = t.toReport()
	}

	scenario, ok := out.Methods[scenarioMethod]
	if !ok {
		return out
	}
	out.TotalScenarios = scenario.Calls
	out.SuccessScenarios = scenario.Success
	out.FailedScenarios = scenario.Failed
	out.ErrorRate = scenario.ErrorRate
	out.ScenarioLatencyMs = scenario.LatencyMs
	if elapsed > 0 {
		out.RPS = float64(scenario.Calls) / elapsed.Seconds()
	}
	return out
}

// writeJSONReport пишет отчёт только внутрь текущего каталога.
func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	// #nosec G306 -- local load-test artefact.
	return os.WriteFile(clean, append(body, '\n'), 0o644)
}

func printReport(w io.Writer, result report, cfg config) {
	lat := result.ScenarioLatencyMs
	_, _ = fmt.Fprintf(w, "Checkout load test summary\n"+
		"mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f orders=%d\n"+
		"duration=%.2fs rps=%.2f\n"+
		"scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios,
		result.ErrorRate, result.OrdersCreated,
		result.DurationSeconds, result.RPS,
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max,
	)

	for _, name := range slices.Sorted(maps.Keys(result.Methods)) {
		if name == scenarioMethod {
			continue
		}
		m := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, m.Calls, m.Success, m.Failed, m.ErrorRate, m.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return "count:" + strconv.Itoa(cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return "duration:" + cfg.duration.String()
	}
}

func buildLatencySummary(samples []float64) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	sorted := slices.Sorted(slices.Values(samples))

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует между соседними рангами отсортированной выборки.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo, frac := math.Modf(pos)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (sorted[i+1]-sorted[i])*frac
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
