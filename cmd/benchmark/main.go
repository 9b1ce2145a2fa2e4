package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds the benchmark settings
var (
	targetURL    string
	concurrency  int
	duration     time.Duration
	workload     string
	transactions int
	payoutID     string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Replays (no_op) or approvals
	success201    uint64 // Conversions recorded
	fail409       uint64 // Already processed / not settled
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot | approve")
	flag.IntVar(&transactions, "transactions", 1000, "Number of seeded transactions (seed-000000 ...)")
	flag.StringVar(&payoutID, "payout", "", "Payout id to approve concurrently (approve workload)")
}

func main() {
	flag.Parse()
	if workload == "approve" && payoutID == "" {
		log.Fatal("approve workload needs -payout")
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			worker(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	printResults(time.Since(start))
}

func worker(ctx context.Context) {
	client := &http.Client{Timeout: 5 * time.Second}

	for ctx.Err() == nil {
		req, err := nextRequest(ctx)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddUint64(&failOther, 1)
			}
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()

		// Every approval after the first is a 409; one round is enough.
		if workload == "approve" {
			return
		}
	}
}

func nextRequest(ctx context.Context) (*http.Request, error) {
	if workload == "approve" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL+"/api/v1/payouts/"+payoutID+"/approve", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Actor-ID", "benchmark")
		return req, nil
	}
	url := fmt.Sprintf("%s/api/v1/transactions/%s/conversion", targetURL, pickTransaction())
	return http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
}

// pickTransaction chooses the webhook to deliver. Redeliveries of the same
// id are expected to answer 200 with no_op.
func pickTransaction() string {
	if workload == "hotspot" && rand.Float32() < 0.90 {
		// Hotspot: 90% of traffic redelivers the same five webhooks
		return fmt.Sprintf("seed-%06d", rand.Intn(5))
	}
	return fmt.Sprintf("seed-%06d", rand.Intn(transactions))
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var replayRate float64
	if total > 0 {
		replayRate = float64(s200) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": s201,
		"success_ok":      s200,
		"replay_rate_pct": replayRate,
		"conflicts":       f409,
		"errors":          fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
