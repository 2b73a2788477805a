// Load generator for the Tidepoint checkout flow.
//
// Usage:
//
//	go run ./cmd/loadgen -url http://localhost:8080 -email ops@example.com -csv purchases.csv
//
// This tool:
//  1. Reads purchases from a CSV file (business_id,tourist_email,amount) or generates them
//  2. Registers one tourist per distinct email
//  3. Sends each purchase to POST /businesses/{id}/checkout
//  4. Checks that every tourist's balances equal the sum of the rewards it was sent
//  5. Reports latency, throughput and error counts
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Purchase is one row of load.
type Purchase struct {
	BusinessID   string
	TouristEmail string
	Amount       float64
}

type checkoutRequest struct {
	TouristID string  `json:"tourist_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Reference string  `json:"reference"`
}

type reward struct {
	Points   int64   `json:"points"`
	Cashback float64 `json:"cashback"`
}

type receipt struct {
	Reward reward `json:"reward"`
}

type tourist struct {
	ID              string  `json:"id"`
	Email           string  `json:"email"`
	PointsBalance   int64   `json:"points_balance"`
	CashbackBalance float64 `json:"cashback_balance"`
}

// Metrics tracks run results
type Metrics struct {
	TotalSent    int64
	TotalErrors  int64
	TotalPoints  int64
	TotalLatency int64 // milliseconds

	mu       sync.Mutex
	expected map[string]reward // tourist id -> rewards received
}

func (m *Metrics) record(touristID string, r reward) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.expected[touristID]
	acc.Points += r.Points
	acc.Cashback += r.Cashback
	m.expected[touristID] = acc
}

type client struct {
	http    *http.Client
	baseURL string
	email   string
}

func main() {
	csvPath := flag.String("csv", "", "Path to a purchases CSV (business_id,tourist_email,amount)")
	baseURL := flag.String("url", "http://localhost:8080", "Tidepoint base URL")
	email := flag.String("email", "", "Operator email sent as X-User-Email")
	count := flag.Int("count", 1000, "Purchases to generate when no CSV is given")
	tourists := flag.Int("tourists", 20, "Distinct tourists to generate")
	business := flag.String("business", "biz-sardinha", "Business used for generated purchases")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each checkout result")
	flag.Parse()

	if *email == "" {
		fmt.Println("Usage: loadgen -email ops@example.com [-url http://localhost:8080] [-csv purchases.csv]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	c := &client{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(*baseURL, "/"),
		email:   *email,
	}

	fmt.Printf("Target:   %s\n", c.baseURL)
	fmt.Printf("Workers:  %d\n", *workers)

	if err := c.checkHealth(); err != nil {
		fmt.Printf("ERROR: Tidepoint not reachable at %s: %v\n", c.baseURL, err)
		os.Exit(1)
	}

	var purchases []Purchase
	var err error
	if *csvPath != "" {
		purchases, err = readPurchases(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		purchases = generatePurchases(*count, *tourists, *business)
	}
	fmt.Printf("Loaded %d purchases\n", len(purchases))

	ids, err := c.registerTourists(purchases)
	if err != nil {
		fmt.Printf("ERROR: failed to register tourists: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Registered %d tourists\n", len(ids))

	start := time.Now()
	metrics := run(c, purchases, ids, *workers, *verbose)
	duration := time.Since(start)

	mismatches := c.verifyBalances(metrics)
	printResults(metrics, duration, mismatches)

	if mismatches > 0 || metrics.TotalErrors > 0 {
		os.Exit(2)
	}
}

func (c *client) checkHealth() error {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readPurchases(path string) ([]Purchase, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"business_id", "tourist_email", "amount"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var out []Purchase
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, err := strconv.ParseFloat(record[col["amount"]], 64)
		if err != nil || amount <= 0 {
			continue
		}
		out = append(out, Purchase{
			BusinessID:   record[col["business_id"]],
			TouristEmail: record[col["tourist_email"]],
			Amount:       amount,
		})
	}
	return out, nil
}

func generatePurchases(count, tourists int, businessID string) []Purchase {
	if tourists <= 0 {
		tourists = 1
	}
	out := make([]Purchase, count)
	for i := range out {
		out[i] = Purchase{
			BusinessID:   businessID,
			TouristEmail: fmt.Sprintf("loadgen-%03d@tidepoint.test", rand.IntN(tourists)),
			Amount:       math.Round((5+rand.Float64()*195)*100) / 100,
		}
	}
	return out
}

func (c *client) registerTourists(purchases []Purchase) (map[string]string, error) {
	ids := make(map[string]string)
	for _, p := range purchases {
		if _, ok := ids[p.TouristEmail]; ok {
			continue
		}
		var t tourist
		err := c.do(http.MethodPost, "/tourists", map[string]string{
			"email":     p.TouristEmail,
			"full_name": "Load " + p.TouristEmail,
		}, http.StatusCreated, &t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.TouristEmail, err)
		}
		ids[p.TouristEmail] = t.ID
	}
	return ids, nil
}

func run(c *client, purchases []Purchase, ids map[string]string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{expected: make(map[string]reward)}
	runID := strconv.FormatInt(time.Now().UnixNano(), 36)

	type job struct {
		n int
		p Purchase
	}
	work := make(chan job, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range work {
				touristID := ids[j.p.TouristEmail]
				req := checkoutRequest{
					TouristID: touristID,
					Amount:    j.p.Amount,
					Currency:  "EUR",
					Reference: fmt.Sprintf("loadgen-%s-%d", runID, j.n),
				}

				start := time.Now()
				var rcpt receipt
				err := c.do(http.MethodPost, "/businesses/"+j.p.BusinessID+"/checkout", req, http.StatusOK, &rcpt)
				atomic.AddInt64(&metrics.TotalLatency, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalSent, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR %s %.2f -> %v\n", j.p.TouristEmail, j.p.Amount, err)
					}
					continue
				}

				atomic.AddInt64(&metrics.TotalPoints, rcpt.Reward.Points)
				metrics.record(touristID, rcpt.Reward)

				if verbose {
					fmt.Printf("%-32s %10.2f -> %6d points %8.2f cashback\n",
						j.p.TouristEmail, j.p.Amount, rcpt.Reward.Points, rcpt.Reward.Cashback)
				}
			}
		}()
	}

	for i, p := range purchases {
		work <- job{n: i, p: p}
	}
	close(work)
	wg.Wait()

	return metrics
}

// verifyBalances compares each tourist's stored balances with the rewards
// returned by the checkouts and returns the number of mismatches.
func (c *client) verifyBalances(m *Metrics) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	mismatches := 0
	for id, want := range m.expected {
		var t tourist
		if err := c.do(http.MethodGet, "/tourists/"+id, nil, http.StatusOK, &t); err != nil {
			fmt.Printf("ERROR: failed to read tourist %s: %v\n", id, err)
			mismatches++
			continue
		}
		if t.PointsBalance != want.Points || math.Abs(t.CashbackBalance-want.Cashback) > 1e-6 {
			fmt.Printf("MISMATCH %s: balance %d/%.4f, rewards %d/%.4f\n",
				t.Email, t.PointsBalance, t.CashbackBalance, want.Points, want.Cashback)
			mismatches++
		}
	}
	return mismatches
}

func (c *client) do(method, path string, body any, wantStatus int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Email", c.email)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printResults(m *Metrics, duration time.Duration, mismatches int) {
	fmt.Println("\nRESULTS")
	fmt.Printf("   Checkouts sent:   %d\n", m.TotalSent)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Points awarded:   %d\n", m.TotalPoints)
	fmt.Printf("   Tourists checked: %d\n", len(m.expected))
	fmt.Printf("   Mismatches:       %d\n", mismatches)

	fmt.Println("\nPERFORMANCE")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalSent > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.TotalLatency)/float64(m.TotalSent))
		fmt.Printf("   Throughput:       %.2f checkouts/sec\n", float64(m.TotalSent)/duration.Seconds())
	}
	fmt.Println()
}
