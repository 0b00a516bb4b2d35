// Command loadtest drives the viewer the way a reader does: open a random
// document in a session, then page forward through its neighbors, measuring
// time to first page and time to the full sequence.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Walk        int
	Collection  string
}

type sample struct {
	firstPage time.Duration
	total     time.Duration
	origin    string
}

type Stats struct {
	opens      atomic.Int64
	navigates  atomic.Int64
	errorCount atomic.Int64

	mu          sync.Mutex
	samples     []sample
	statusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		samples:     make([]sample, 0, 10000),
		statusCodes: make(map[int]int64),
	}
}

func (s *Stats) record(status int, smp *sample, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusCodes[status]++
	if err != nil || smp == nil {
		s.errorCount.Add(1)
		return
	}
	s.samples = append(s.samples, *smp)
}

type event struct {
	Type   string `json:"type"`
	Key    string `json:"key"`
	Origin string `json:"origin"`
	Error  string `json:"error"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the viewer")
	concurrency := flag.Int("concurrency", 8, "number of simulated readers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	walk := flag.Int("walk", 5, "documents each reader pages through after opening one")
	collection := flag.String("collection", "", "restrict to one collection")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Walk:        *walk,
		Collection:  *collection,
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	keys, err := listKeys(client, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing documents: %v\n", err)
		os.Exit(1)
	}
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "no documents to open")
		os.Exit(1)
	}

	fmt.Println("=== Document Viewer Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Readers:     %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Documents:   %d\n", len(keys))
	fmt.Println()

	stats := run(client, cfg, keys)
	printReport(stats, cfg.Duration)
}

func listKeys(client *http.Client, cfg Config) ([]string, error) {
	q := url.Values{}
	if cfg.Collection != "" {
		q.Set("collection", cfg.Collection)
	}
	resp, err := client.Get(cfg.BaseURL + "/api/v1/documents?" + q.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var body struct {
		Documents []struct {
			Key string `json:"key"`
		} `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	keys := make([]string, len(body.Documents))
	for i, d := range body.Documents {
		keys[i] = d.Key
	}
	return keys, nil
}

func run(client *http.Client, cfg Config, keys []string) *Stats {
	stats := NewStats()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			session := fmt.Sprintf("loadtest-%d-%d", reader, time.Now().UnixNano())
			defer deleteSession(client, cfg.BaseURL, session)
			filter := url.Values{}
			if cfg.Collection != "" {
				filter.Set("collection", cfg.Collection)
			}
			for ctx.Err() == nil {
				open := url.Values{"key": {keys[rand.IntN(len(keys))]}}
				for k, v := range filter {
					open[k] = v
				}
				status, smp, err := stream(ctx, client, fmt.Sprintf("%s/api/v1/sessions/%s/open?%s", cfg.BaseURL, session, open.Encode()))
				if ctx.Err() != nil {
					return
				}
				stats.opens.Add(1)
				stats.record(status, smp, err)
				for i := 0; i < cfg.Walk && ctx.Err() == nil; i++ {
					status, smp, err := stream(ctx, client, fmt.Sprintf("%s/api/v1/sessions/%s/input?action=next", cfg.BaseURL, session))
					if ctx.Err() != nil {
						return
					}
					if smp == nil && err == nil {
						break
					}
					stats.navigates.Add(1)
					stats.record(status, smp, err)
				}
			}
		}(w)
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

// stream posts to an NDJSON endpoint and reads it to the end. A nil sample
// with a nil error means the server answered with a no-op.
func stream(ctx context.Context, client *http.Client, target string) (int, *sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return 0, nil, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var smp sample
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var e event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return resp.StatusCode, nil, err
		}
		switch e.Type {
		case "page":
			if smp.firstPage == 0 {
				smp.firstPage = time.Since(start)
			}
		case "done":
			smp.total = time.Since(start)
			smp.origin = e.Origin
			return resp.StatusCode, &smp, nil
		case "error":
			return resp.StatusCode, nil, fmt.Errorf("%s: %s", e.Key, e.Error)
		case "noop", "canceled":
			return resp.StatusCode, nil, nil
		}
	}
	if err := sc.Err(); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, nil, nil
}

func deleteSession(client *http.Client, baseURL, session string) {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/v1/sessions/%s", baseURL, session), nil)
	if err != nil {
		return
	}
	if resp, err := client.Do(req); err == nil {
		resp.Body.Close()
	}
}

func printReport(stats *Stats, duration time.Duration) {
	opens, navigates := stats.opens.Load(), stats.navigates.Load()
	total := opens + navigates
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Opens:           %d\n", opens)
	fmt.Printf("Navigations:     %d\n", navigates)
	fmt.Printf("Errors:          %d\n", errors)
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Documents/sec:   %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	samples := append([]sample(nil), stats.samples...)
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	counts := stats.statusCodes
	stats.mu.Unlock()

	if len(samples) > 0 {
		origins := map[string]int{}
		first := make([]time.Duration, 0, len(samples))
		full := make([]time.Duration, 0, len(samples))
		for _, s := range samples {
			origins[s.origin]++
			if s.firstPage > 0 {
				first = append(first, s.firstPage)
			}
			full = append(full, s.total)
		}
		printLatency("Time to First Page", first)
		printLatency("Time to Full Document", full)

		fmt.Println()
		fmt.Println("=== Origins ===")
		for _, o := range []string{"cache", "manifest", "raster"} {
			fmt.Printf("%-9s %d\n", o+":", origins[o])
		}
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	sort.Ints(codes)
	for _, code := range codes {
		label := fmt.Sprint(code)
		if code == 0 {
			label = "conn"
		}
		fmt.Printf("%-5s %d\n", label, counts[code])
	}
}

func printLatency(title string, latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	fmt.Println()
	fmt.Printf("=== %s ===\n", title)
	fmt.Printf("Min:    %s\n", latencies[0])
	fmt.Printf("Avg:    %s\n", sum/time.Duration(len(latencies)))
	fmt.Printf("P50:    %s\n", percentile(latencies, 50))
	fmt.Printf("P90:    %s\n", percentile(latencies, 90))
	fmt.Printf("P99:    %s\n", percentile(latencies, 99))
	fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}
