// Benchmark tool for load-testing Kestrel's onboarding flow.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -apps 1000
//
// This tool:
//  1. Creates synthetic onboarding applications
//  2. Drives each through the full nine-step wizard
//  3. Fetches progress and risk for each completed application
//  4. Verifies the risk level against the seeded answers and reports
//     throughput and latency percentiles
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// stepIDs mirrors the server's wizard registry, in order.
var stepIDs = []string{
	"client-details",
	"trading-as",
	"referrals",
	"associations",
	"assignments",
	"kyc",
	"risk-assessment",
	"non-audit-checklist",
	"finalisation",
}

// application is the subset of the create response the tool needs.
type application struct {
	ID string `json:"id"`
}

// progressResponse is the subset of GET /applications/{id}/progress.
type progressResponse struct {
	CompletedCount int `json:"completedCount"`
	TotalSteps     int `json:"totalSteps"`
	Percentage     int `json:"percentage"`
}

// riskResponse is the subset of GET /applications/{id}/risk.
type riskResponse struct {
	OverallLabel string `json:"overallLabel"`
	Badge        string `json:"badge"`
	Weighted     struct {
		Score float64 `json:"score"`
	} `json:"weighted"`
}

// metrics tracks benchmark results.
type metrics struct {
	Completed int64
	Errors    int64

	// Risk-level verification against the seeded answers.
	LevelMatches    int64
	LevelMismatches int64

	mu        sync.Mutex
	latencies []time.Duration // full create-to-risk flow per application
}

func (m *metrics) record(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	apps := flag.Int("apps", 1000, "Number of applications to onboard")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	riskyRate := flag.Float64("risky", 0.1, "Fraction of applications seeded with negative answers (0.0-1.0)")
	ruleWeight := flag.Float64("rule-weight", -1, "Optional ruleWeight query override (-1 = server default)")
	verbose := flag.Bool("verbose", false, "Print each application result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - Onboarding Flow Load Test         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL:  %s\n", *baseURL)
	fmt.Printf("Applications: %d\n", *apps)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Risky Rate:   %.2f\n", *riskyRate)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	m := runBenchmark(*baseURL, *apps, *workers, *riskyRate, *ruleWeight, *verbose)
	duration := time.Since(start)

	printResults(m, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runBenchmark(baseURL string, apps, numWorkers int, riskyRate, ruleWeight float64, verbose bool) *metrics {
	m := &metrics{}

	work := make(chan int, 100)
	var wg sync.WaitGroup

	riskyEvery := 0
	if riskyRate > 0 {
		riskyEvery = int(1.0 / riskyRate)
	}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for n := range work {
				risky := riskyEvery > 0 && n%riskyEvery == 0

				start := time.Now()
				level, err := onboardOne(client, baseURL, n, risky, ruleWeight)
				elapsed := time.Since(start)

				if err != nil {
					atomic.AddInt64(&m.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: app %d -> %v\n", n, err)
					}
					continue
				}

				atomic.AddInt64(&m.Completed, 1)
				m.record(elapsed)

				// A clean application scores low; any negative assessment
				// answer drives it high.
				expected := "low"
				if risky {
					expected = "high"
				}
				if level == expected {
					atomic.AddInt64(&m.LevelMatches, 1)
				} else {
					atomic.AddInt64(&m.LevelMismatches, 1)
				}

				if verbose {
					status := "✓"
					if level != expected {
						status = "✗"
					}
					fmt.Printf("%s app %-6d | risky: %-5v | level: %-6s | %v\n",
						status, n, risky, level, elapsed.Round(time.Millisecond))
				}
			}
		}()
	}

	for n := 0; n < apps; n++ {
		work <- n
	}
	close(work)
	wg.Wait()

	return m
}

// onboardOne drives a single application through the whole flow and returns
// the risk level Kestrel assigned.
func onboardOne(client *http.Client, baseURL string, n int, risky bool, ruleWeight float64) (string, error) {
	var app application
	if err := postJSON(client, baseURL+"/applications", map[string]any{
		"clientName": fmt.Sprintf("Benchmark Client %d", n),
		"email":      fmt.Sprintf("client-%d@example.com", n),
	}, &app); err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	if app.ID == "" {
		return "", fmt.Errorf("create: empty application id")
	}

	for _, step := range stepIDs {
		data := stepData(step, n, risky)
		if err := putJSON(client, baseURL+"/applications/"+app.ID+"/steps/"+step, data, nil); err != nil {
			return "", fmt.Errorf("save %s: %w", step, err)
		}
	}

	var prog progressResponse
	if err := getJSON(client, baseURL+"/applications/"+app.ID+"/progress", &prog); err != nil {
		return "", fmt.Errorf("progress: %w", err)
	}
	if prog.Percentage != 100 {
		return "", fmt.Errorf("progress: %d%% after all steps", prog.Percentage)
	}

	riskURL := baseURL + "/applications/" + app.ID + "/risk"
	if ruleWeight >= 0 {
		riskURL = fmt.Sprintf("%s?ruleWeight=%g", riskURL, ruleWeight)
	}
	var rr riskResponse
	if err := getJSON(client, riskURL, &rr); err != nil {
		return "", fmt.Errorf("risk: %w", err)
	}

	return rr.OverallLabel, nil
}

// stepData builds a plausible payload for each wizard step. Risky
// applications answer one assessment question negatively.
func stepData(step string, n int, risky bool) map[string]any {
	switch step {
	case "client-details":
		return map[string]any{
			"clientName": fmt.Sprintf("Benchmark Client %d", n),
			"ukResident": "yes",
			"_savedAt":   time.Now().UTC().Format(time.RFC3339),
		}
	case "trading-as":
		return map[string]any{"tradingName": fmt.Sprintf("BC%d Ltd", n)}
	case "referrals":
		return map[string]any{"referralSource": "existing-client"}
	case "associations":
		return map[string]any{"associatedFirms": "none"}
	case "assignments":
		return map[string]any{"engagementType": "accounts-preparation"}
	case "kyc":
		return map[string]any{
			"identityVerified":           "yes",
			"addressVerified":            "yes",
			"beneficialOwnersIdentified": "yes",
			"integritySatisfied":         "yes",
			"sourceOfFundsUnderstood":    "yes",
		}
	case "risk-assessment":
		data := map[string]any{
			"activitiesUnderstood":     "yes",
			"recordsAdequate":          "yes",
			"structureStraightforward": "yes",
			"feesViable":               "yes",
			"independenceClear":        "yes",
		}
		if risky {
			data["structureStraightforward"] = "no"
			data["structureStraightforwardComment"] = "Layered offshore holding structure."
		}
		return data
	case "non-audit-checklist":
		return map[string]any{"checklistComplete": "yes"}
	case "finalisation":
		return map[string]any{"wealthLevel": "medium", "_complete": true}
	default:
		return map[string]any{"_complete": true}
	}
}

func postJSON(client *http.Client, url string, body, out any) error {
	return sendJSON(client, http.MethodPost, url, body, out, http.StatusCreated)
}

func putJSON(client *http.Client, url string, body, out any) error {
	return sendJSON(client, http.MethodPut, url, body, out, http.StatusOK)
}

func getJSON(client *http.Client, url string, out any) error {
	return sendJSON(client, http.MethodGet, url, nil, out, http.StatusOK)
}

func sendJSON(client *http.Client, method, url string, body, out any, wantStatus int) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func printResults(m *metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 THROUGHPUT\n")
	fmt.Printf("   Completed:   %d applications\n", m.Completed)
	fmt.Printf("   Errors:      %d\n", m.Errors)
	fmt.Printf("   Duration:    %v\n", duration.Round(time.Millisecond))
	if duration > 0 && m.Completed > 0 {
		fmt.Printf("   Rate:        %.1f applications/sec\n", float64(m.Completed)/duration.Seconds())
	}

	fmt.Printf("\n🎯 RISK LEVEL VERIFICATION\n")
	fmt.Printf("   Matches:     %d\n", m.LevelMatches)
	fmt.Printf("   Mismatches:  %d\n", m.LevelMismatches)

	m.mu.Lock()
	latencies := append([]time.Duration(nil), m.latencies...)
	m.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		pct := func(p float64) time.Duration {
			i := int(p * float64(len(latencies)-1))
			return latencies[i]
		}
		fmt.Printf("\n⏱  FULL-FLOW LATENCY (create → 9 saves → progress → risk)\n")
		fmt.Printf("   p50:         %v\n", pct(0.50).Round(time.Millisecond))
		fmt.Printf("   p95:         %v\n", pct(0.95).Round(time.Millisecond))
		fmt.Printf("   p99:         %v\n", pct(0.99).Round(time.Millisecond))
		fmt.Printf("   max:         %v\n", latencies[len(latencies)-1].Round(time.Millisecond))
	}
	fmt.Println()
}
