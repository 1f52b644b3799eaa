// loadgen submits synthetic billing charges against the API server to
// exercise the full pipeline end to end.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/billingapp/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

type options struct {
	target      string
	requests    int
	concurrency int
	customers   int
	interval    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.target, "target", "http://localhost:8080", "base URL of the billing API")
	flag.IntVar(&opts.requests, "requests", 100, "total number of charges to submit")
	flag.IntVar(&opts.concurrency, "concurrency", 4, "number of concurrent submitters")
	flag.IntVar(&opts.customers, "customers", 10, "size of the synthetic customer pool")
	flag.DurationVar(&opts.interval, "interval", 50*time.Millisecond, "pause between submissions per worker")
	flag.Parse()

	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting load generation",
		zap.String("target", opts.target),
		zap.Int("requests", opts.requests),
		zap.Int("concurrency", opts.concurrency),
	)

	client := &http.Client{Timeout: 10 * time.Second}
	jobs := make(chan int)
	var accepted, failed atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
			for range jobs {
				if err := submitCharge(ctx, client, opts, rng); err != nil {
					failed.Add(1)
					log.Warn("charge submission failed", zap.Error(err))
				} else {
					accepted.Add(1)
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(opts.interval):
				}
			}
		}(w)
	}

	start := time.Now()
	for i := 0; i < opts.requests; i++ {
		select {
		case <-ctx.Done():
			i = opts.requests
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	log.Info("Load generation finished",
		zap.Int64("accepted", accepted.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
}

func submitCharge(ctx context.Context, client *http.Client, opts options, rng *rand.Rand) error {
	payload := map[string]interface{}{
		"customer_id": fmt.Sprintf("customer-%03d", rng.Intn(opts.customers)),
		"product_id":  fmt.Sprintf("product-%02d", rng.Intn(20)),
		"amount":      fmt.Sprintf("%.2f", 1+rng.Float64()*999),
		"currency":    "USD",
		"metadata": map[string]string{
			"source": "loadgen",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.target+"/api/v1/billing", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
