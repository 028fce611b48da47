package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/vladislavdragonenkov/marketplace/internal/service/httpapi"
)

const (
	methodCheckout = "POST /api/checkout"
	methodReplay   = "POST /api/checkout (replay)"
	methodGetOrder = "GET /api/orders/{id}"
)

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutReplay loadMode = "checkout-replay"
	modeCheckoutView   loadMode = "checkout-view"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	products    []int64
	maxLines    int
	maxQty      int
	customers   int
	strict      bool
	seed        uint64
	outputPath  string
}

func parseConfig() (config, error) {
	var (
		cfg         config
		modeValue   string
		productsRaw string
		seed        int64
	)

	flag.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "checkout-service HTTP base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-replay | checkout-view")
	flag.StringVar(&productsRaw, "products", "1,2,3", "comma-separated product ids to build carts from")
	flag.IntVar(&cfg.maxLines, "max-lines", 3, "max cart lines per checkout")
	flag.IntVar(&cfg.maxQty, "max-qty", 1, "max quantity per cart line")
	flag.IntVar(&cfg.customers, "customers", 100, "number of distinct customers (0 = anonymous checkouts)")
	flag.BoolVar(&cfg.strict, "strict", false, "count 400 responses (e.g. stock exhausted) as failures")
	flag.Int64Var(&seed, "seed", 0, "cart generator seed (0 = random)")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	cfg.products, err = parseProducts(productsRaw)
	if err != nil {
		return cfg, err
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.maxLines <= 0:
		return cfg, errors.New("max-lines must be > 0")
	case cfg.maxQty <= 0:
		return cfg, errors.New("max-qty must be > 0")
	case cfg.customers < 0:
		return cfg, errors.New("customers must be >= 0")
	case cfg.mode == modeCheckoutView && cfg.customers == 0:
		return cfg, errors.New("checkout-view mode requires customers > 0")
	case seed < 0:
		return cfg, errors.New("seed must be >= 0")
	}
	cfg.seed = uint64(seed)

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCheckout, modeCheckoutReplay, modeCheckoutView:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func parseProducts(raw string) ([]int64, error) {
	var products []int64
	for chunk := range strings.SplitSeq(raw, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		id, err := strconv.ParseInt(chunk, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid product id %q", chunk)
		}
		products = append(products, id)
	}
	if len(products) == 0 {
		return nil, errors.New("products must contain at least one id")
	}
	return products, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{
		Timeout: cfg.timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency,
			MaxIdleConnsPerHost: cfg.concurrency,
		},
	}

	result := runLoad(context.Background(), client, cfg)
	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad прогоняет сценарии пулом воркеров и возвращает итоговый отчёт.
func runLoad(ctx context.Context, client *http.Client, cfg config) report {
	startedAt := time.Now()
	col := newCollector()
	jobs := make(chan int, cfg.concurrency*2)

	var wg sync.WaitGroup
	for workerID := range cfg.concurrency {
		wg.Add(1)
		gen := newCartGenerator(cfg, workerID)
		go func() {
			defer wg.Done()
			for range jobs {
				_ = runScenario(ctx, client, cfg, gen, col)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := range cfg.total {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type cartLine struct {
	Product int64 `json:"product"`
	Qty     int   `json:"qty"`
}

type cartRequest struct {
	Items []cartLine `json:"items"`
}

// cartGenerator строит случайные корзины. Один генератор на воркер: Faker не потокобезопасен.
type cartGenerator struct {
	faker     *gofakeit.Faker
	products  []int64
	maxLines  int
	maxQty    int
	customers int
}

func newCartGenerator(cfg config, workerID int) *cartGenerator {
	seed := cfg.seed
	if seed != 0 {
		seed += uint64(workerID)
	}
	return &cartGenerator{
		faker:     gofakeit.New(seed),
		products:  cfg.products,
		maxLines:  min(cfg.maxLines, len(cfg.products)),
		maxQty:    cfg.maxQty,
		customers: cfg.customers,
	}
}

// cart возвращает корзину без повторов товара.
func (g *cartGenerator) cart() cartRequest {
	lines := g.faker.Number(1, g.maxLines)
	pool := slices.Clone(g.products)

	req := cartRequest{Items: make([]cartLine, 0, lines)}
	for i := range lines {
		j := g.faker.Number(i, len(pool)-1)
		pool[i], pool[j] = pool[j], pool[i]
		req.Items = append(req.Items, cartLine{
			Product: pool[i],
			Qty:     g.faker.Number(1, g.maxQty),
		})
	}
	return req
}

// customerID возвращает 0 для анонимного checkout.
func (g *cartGenerator) customerID() int64 {
	if g.customers == 0 {
		return 0
	}
	return int64(g.faker.Number(1, g.customers))
}

func (g *cartGenerator) idempotencyKey() string {
	return "lt-" + g.faker.UUID()
}

type checkoutResult struct {
	status   int
	replayed bool
	orderIDs []int64
	body     []byte
}

type checkoutResponse struct {
	OrderID int64 `json:"order_id"`
	Orders  []struct {
		OrderID int64 `json:"order_id"`
	} `json:"orders"`
}

func runScenario(ctx context.Context, client *http.Client, cfg config, gen *cartGenerator, col *collector) error {
	scenarioStart := time.Now()
	var scenarioErr error
	defer func() {
		col.record(scenarioMethod, time.Since(scenarioStart), 0, scenarioErr == nil)
	}()

	body, err := json.Marshal(gen.cart())
	if err != nil {
		scenarioErr = err
		return err
	}
	key := gen.idempotencyKey()
	customerID := gen.customerID()

	first, err := callCheckout(ctx, client, cfg, methodCheckout, body, key, customerID, col)
	if err != nil {
		scenarioErr = err
		return err
	}
	col.addOrders(len(first.orderIDs))

	switch cfg.mode {
	case modeCheckoutReplay:
		replay, err := callCheckout(ctx, client, cfg, methodReplay, body, key, customerID, col)
		if err != nil {
			scenarioErr = err
			return err
		}
		if !replay.replayed || replay.status != first.status || !bytes.Equal(replay.body, first.body) {
			scenarioErr = fmt.Errorf("replay mismatch: status %d vs %d, replayed=%t", replay.status, first.status, replay.replayed)
			return scenarioErr
		}
	case modeCheckoutView:
		for _, orderID := range first.orderIDs {
			if err := callGetOrder(ctx, client, cfg, orderID, customerID, col); err != nil {
				scenarioErr = err
				return err
			}
		}
	}

	return nil
}

func callCheckout(
	ctx context.Context,
	client *http.Client,
	cfg config,
	method string,
	body []byte,
	key string,
	customerID int64,
	col *collector,
) (checkoutResult, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/api/checkout", bytes.NewReader(body))
	if err != nil {
		return checkoutResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpapi.IdempotencyKeyHeader, key)
	setCustomer(req, customerID)

	resp, err := client.Do(req)
	if err != nil {
		col.record(method, time.Since(start), 0, false)
		return checkoutResult{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		col.record(method, time.Since(start), 0, false)
		return checkoutResult{}, err
	}

	result := checkoutResult{
		status:   resp.StatusCode,
		replayed: resp.Header.Get(httpapi.IdempotentReplayHeader) == "true",
		body:     respBody,
	}
	ok := acceptableCheckoutStatus(resp.StatusCode, cfg.strict)
	col.record(method, time.Since(start), resp.StatusCode, ok)
	if !ok {
		return result, fmt.Errorf("checkout returned status %d", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusCreated {
		var decoded checkoutResponse
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return result, fmt.Errorf("decode checkout response: %w", err)
		}
		if decoded.OrderID != 0 {
			result.orderIDs = append(result.orderIDs, decoded.OrderID)
		}
		for _, o := range decoded.Orders {
			result.orderIDs = append(result.orderIDs, o.OrderID)
		}
	}
	return result, nil
}

func callGetOrder(ctx context.Context, client *http.Client, cfg config, orderID, customerID int64, col *collector) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/orders/%d", cfg.baseURL, orderID), nil)
	if err != nil {
		return err
	}
	setCustomer(req, customerID)

	resp, err := client.Do(req)
	if err != nil {
		col.record(methodGetOrder, time.Since(start), 0, false)
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	col.record(methodGetOrder, time.Since(start), resp.StatusCode, ok)
	if !ok {
		return fmt.Errorf("get order %d returned status %d", orderID, resp.StatusCode)
	}
	return nil
}

func setCustomer(req *http.Request, customerID int64) {
	if customerID > 0 {
		req.Header.Set(httpapi.CustomerHeader, strconv.FormatInt(customerID, 10))
	}
}

// acceptableCheckoutStatus: 400 — бизнес-отказ (например, закончился остаток), а не сбой сервиса.
func acceptableCheckoutStatus(status int, strict bool) bool {
	if status == http.StatusCreated {
		return true
	}
	return !strict && status == http.StatusBadRequest
}
