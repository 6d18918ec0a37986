// Command loadtest нагружает REST API дилерского центра сценариями работы с заказами
// и печатает сводку по задержкам и ошибкам.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateEdit   loadMode = "create-edit"
	modeCreateDelete loadMode = "create-delete"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	quantity    int32
	stock       int32
	buyerID     string
	employeeID  string
	modelID     string
	outputPath  string
}

func parseConfig(args []string) (config, error) {
	var (
		cfg      config
		mode     string
		quantity int
		stock    int
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "base URL of the dealer REST API")
	fs.IntVar(&cfg.total, "total", 400, "number of scenarios; with -duration acts as an upper bound when given")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "scenarios in flight")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "timeout of a single HTTP call")
	fs.StringVar(&mode, "mode", string(modeCreate), "create, create-edit or create-delete")
	fs.IntVar(&quantity, "quantity", 1, "cars per order line")
	fs.IntVar(&stock, "stock", 1_000_000, "stock of the fixture car model")
	fs.StringVar(&cfg.buyerID, "buyer-id", "", "use this buyer instead of creating one")
	fs.StringVar(&cfg.employeeID, "employee-id", "", "use this employee instead of creating one")
	fs.StringVar(&cfg.modelID, "model-id", "", "use this car model instead of creating one")
	fs.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.totalSet = cfg.totalSet || f.Name == "total" })

	var err error
	if cfg.mode, err = parseMode(mode); err != nil {
		return cfg, err
	}
	if quantity <= 0 || quantity > math.MaxInt32 {
		return cfg, errors.New("quantity must be > 0")
	}
	if stock < 0 || stock > math.MaxInt32 {
		return cfg, errors.New("stock must be >= 0")
	}
	cfg.quantity, cfg.stock = int32(quantity), int32(stock)
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case c.baseURL == "":
		return errors.New("url is required")
	case c.duration < 0:
		return errors.New("duration must be >= 0")
	case c.total <= 0 && (c.duration == 0 || c.totalSet):
		return errors.New("total must be > 0")
	case c.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case c.timeout <= 0:
		return errors.New("timeout must be > 0")
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	switch mode {
	case modeCreate, modeCreateEdit, modeCreateDelete:
		return mode, nil
	}
	return "", fmt.Errorf("unsupported mode %q", value)
}

// dispatchJobs выдаёт номера сценариев: ровно total штук без -duration,
// иначе до истечения времени (и не больше total, если он задан явно).
func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	bounded := cfg.duration <= 0 || cfg.totalSet

	for i := 0; !bounded || i < cfg.total; i++ {
		select {
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

// execute прогоняет сценарии не более чем в cfg.concurrency горутинах и собирает отчёт.
func execute(cfg config, httpClient *http.Client, runID string) (report, error) {
	col := newCollector()
	client := &apiClient{baseURL: cfg.baseURL, http: httpClient, timeout: cfg.timeout, col: col}

	if err := ensureFixtures(client, &cfg, runID); err != nil {
		return report{}, err
	}

	var (
		mu       sync.Mutex
		failed   int
		firstErr error
	)
	jobs := make(chan int, cfg.concurrency)
	go dispatchJobs(jobs, cfg)

	started := time.Now()
	var g errgroup.Group
	g.SetLimit(cfg.concurrency)
	for id := range jobs {
		g.Go(func() error {
			if err := runScenario(client, cfg, id, runID); err != nil {
				mu.Lock()
				failed++
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	result := col.snapshot(started, time.Since(started))
	if firstErr != nil {
		return result, fmt.Errorf("%d scenarios failed, first: %w", failed, firstErr)
	}
	return result, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("invalid flags")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.concurrency
	runID := fmt.Sprintf("%d-%d", time.Now().Unix(), os.Getpid())

	log.WithFields(log.Fields{"url": cfg.baseURL, "mode": cfg.mode, "run": runTarget(cfg)}).Info("load test started")
	result, runErr := execute(cfg, &http.Client{Transport: transport}, runID)
	printReport(os.Stdout, result, cfg)

	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			log.WithError(err).Fatal("write report")
		}
	}
	if runErr != nil {
		log.WithError(runErr).Fatal("load test failed")
	}
}
