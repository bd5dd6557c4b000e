package main

import (
	"bytes"
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

	"github.com/punchamoorthee/tenmo-ledger/internal/api"
	"golang.org/x/sync/errgroup"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	users       int
	secret      string
	replayPct   float64
)

var (
	totalRequests uint64
	created201    uint64
	replayed      uint64
	rejected422   uint64
	busy503       uint64
	conflict409   uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&users, "users", 1000, "Seeded users, addressed as ids 1..N")
	flag.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "JWT signing secret shared with the server")
	flag.Float64Var(&replayPct, "replay", 0.05, "Fraction of requests that resend the previous Idempotency-Key")
}

func main() {
	flag.Parse()
	if secret == "" {
		log.Fatal("a JWT secret is required (-secret or JWT_SECRET)")
	}
	if users < 2 {
		log.Fatal("at least two users are required")
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
		g.Go(func() error { return worker(ctx, rng) })
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	printResults(time.Since(start))
}

type sent struct {
	from int64
	key  string
	body []byte
}

func worker(ctx context.Context, rng *rand.Rand) error {
	client := &http.Client{Timeout: 5 * time.Second}
	tokens := make(map[int64]string)
	var last *sent

	for ctx.Err() == nil {
		var s sent
		if last != nil && rng.Float64() < replayPct {
			s = *last
		} else {
			from, to := generateUsers(rng)
			body, _ := json.Marshal(map[string]any{
				"toUserId": to,
				"amount":   fmt.Sprintf("%d.%02d", rng.Intn(5)+1, rng.Intn(100)),
			})
			s = sent{from: from, key: fmt.Sprintf("bench-%d-%d", from, time.Now().UnixNano()), body: body}
		}
		last = &s

		tok, ok := tokens[s.from]
		if !ok {
			var err error
			if tok, err = api.NewToken([]byte(secret), s.from, duration+time.Minute); err != nil {
				return err
			}
			tokens[s.from] = tok
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL+"/api/v1/transfers/send", bytes.NewReader(s.body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set(api.IdempotencyHeader, s.key)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddUint64(&failOther, 1)
			}
			continue
		}
		resp.Body.Close()

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusCreated && resp.Header.Get(api.ReplayHeader) == "true":
			atomic.AddUint64(&replayed, 1)
		case resp.StatusCode == http.StatusCreated:
			atomic.AddUint64(&created201, 1)
		case resp.StatusCode == http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected422, 1)
		case resp.StatusCode == http.StatusServiceUnavailable:
			atomic.AddUint64(&busy503, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&conflict409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
	}
	return nil
}

func generateUsers(rng *rand.Rand) (int64, int64) {
	if workload == "hotspot" && rng.Float32() < 0.90 {
		// 90% of traffic bounces between users 1 and 2.
		if rng.Float32() < 0.5 {
			return 1, 2
		}
		return 2, 1
	}

	a := rng.Intn(users) + 1
	b := rng.Intn(users) + 1
	for a == b {
		b = rng.Intn(users) + 1
	}
	return int64(a), int64(b)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	lockTimeouts := atomic.LoadUint64(&busy503)

	var timeoutRate float64
	if total > 0 {
		timeoutRate = float64(lockTimeouts) / float64(total) * 100
	}

	results := map[string]any{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_tps":     float64(total) / d.Seconds(),
		"success_created":    atomic.LoadUint64(&created201),
		"success_replay":     atomic.LoadUint64(&replayed),
		"rejected_funds":     atomic.LoadUint64(&rejected422),
		"lock_timeouts":      lockTimeouts,
		"lock_timeout_pct":   timeoutRate,
		"in_flight_conflict": atomic.LoadUint64(&conflict409),
		"errors":             atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not save results: %v", err)
		return
	}
	defer file.Close()
	_ = json.NewEncoder(file).Encode(results)
}
