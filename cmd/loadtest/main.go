// Command loadtest drives the ingestion and operator APIs with concurrent
// traffic and reports throughput, latency percentiles and status codes.
//
// In upload mode every request carries a freshly generated page so the
// consumer sees distinct content hashes. Search mode queries the consumer's
// operator API.
//
// Usage:
//
//	go run ./cmd/loadtest -mode upload -url http://localhost:8080 -concurrency 8 -duration 30s
//	go run ./cmd/loadtest -mode search -url http://localhost:8081 -token $DA_ADMIN_TOKEN
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	Mode        string
	BaseURL     string
	Token       string
	Concurrency int
	Duration    time.Duration
	Queries     []string
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	throttled     atomic.Int64
	errorCount    atomic.Int64
	bytesSent     atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		s.successCount.Add(1)
	case statusCode == http.StatusTooManyRequests:
		s.throttled.Add(1)
	default:
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	mode := flag.String("mode", "upload", "upload or search")
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the ingestion (upload) or consumer (search) service")
	token := flag.String("token", os.Getenv("DA_ADMIN_TOKEN"), "operator API token for search mode")
	concurrency := flag.Int("concurrency", 8, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	if *mode != "upload" && *mode != "search" {
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		os.Exit(2)
	}
	cfg := Config{
		Mode:        *mode,
		BaseURL:     *baseURL,
		Token:       *token,
		Concurrency: *concurrency,
		Duration:    *duration,
		Queries: []string{
			"invoice", "lease OR contract", "insurance NOT car", "tax notice",
			"electricity invoice", "salary statement", "warranty", "bank AND statement",
		},
	}

	fmt.Println("=== Document Archive Load Test ===")
	fmt.Printf("Mode:        %s\n", cfg.Mode)
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var seq atomic.Int64
	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				n := seq.Add(1)
				var (
					req *http.Request
					err error
				)
				if cfg.Mode == "upload" {
					req, err = uploadRequest(ctx, cfg.BaseURL, n, stats)
				} else {
					req, err = searchRequest(ctx, cfg, n)
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "\nbuilding request: %v\n", err)
					return
				}

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					stats.RecordRequest(elapsed, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.RecordRequest(elapsed, resp.StatusCode, nil)
			}
		}()
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

// page renders a small grayscale image whose first row encodes n, so every
// upload has its own content hash.
func page(n int64) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, 320, 40))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	for i := 0; i < 64; i++ {
		if n&(1<<i) != 0 {
			img.Pix[i] = 0x80
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func uploadRequest(ctx context.Context, baseURL string, n int64, stats *Stats) (*http.Request, error) {
	data, err := page(time.Now().UnixNano() ^ n)
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("document", fmt.Sprintf("loadtest-%d.png", n))
	if err != nil {
		return nil, err
	}
	fw.Write(data)
	mw.WriteField("tags", "loadtest")
	if err := mw.Close(); err != nil {
		return nil, err
	}
	stats.bytesSent.Add(int64(body.Len()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/documents", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func searchRequest(ctx context.Context, cfg Config, n int64) (*http.Request, error) {
	q := cfg.Queries[int(n)%len(cfg.Queries)]
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/search?q=%s&limit=10", cfg.BaseURL, url.QueryEscape(q)), nil)
	if err != nil {
		return nil, err
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	return req, nil
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	throttled := stats.throttled.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Throttled (429): %d\n", throttled)
	fmt.Printf("Errors:          %d\n", errors)
	if sent := stats.bytesSent.Load(); sent > 0 {
		fmt.Printf("Uploaded:        %.1f MiB\n", float64(sent)/(1<<20))
	}
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		for _, l := range latencies {
			diff := float64(l) - float64(avg)
			sumSquared += diff * diff
		}
		fmt.Printf("StdDev: %s\n", time.Duration(math.Sqrt(sumSquared/float64(len(latencies)))))
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code].Load())
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
