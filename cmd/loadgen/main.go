// Load generator for exercising Kestrel with synthetic commission data.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080
//   go run cmd/loadgen/main.go -out deals.csv -count 500
//
// This tool:
//   1. Synthesizes a reproducible batch of deal records (fixed seed)
//   2. Optionally writes the batch to CSV for replay via POST /batches
//   3. Optionally sends the batch to Kestrel for synchronous validation
//   4. Prints the returned metrics, flagged issues, and latency figures
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/sampledata"
)

func main() {
	baseURL := flag.String("url", "", "Kestrel base URL (empty = generate only)")
	sessionID := flag.String("session", "loadgen", "Session ID for requests")
	seed := flag.Uint64("seed", sampledata.DefaultSeed, "Generator seed")
	count := flag.Int("count", sampledata.DefaultCount, "Records per batch")
	batches := flag.Int("batches", 1, "Number of batches to send")
	outPath := flag.String("out", "", "Write the generated batch to this CSV file")
	verbose := flag.Bool("verbose", false, "Print each flagged record")
	flag.Parse()

	if *baseURL == "" && *outPath == "" {
		fmt.Println("Usage: loadgen [-url http://localhost:8080] [-out deals.csv]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL LOADGEN - Synthetic Commission Data          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nSeed:       %d\n", *seed)
	fmt.Printf("Records:    %d\n", *count)
	fmt.Printf("Batches:    %d\n", *batches)
	if *baseURL != "" {
		fmt.Printf("Kestrel:    %s\n", *baseURL)
		fmt.Printf("Session:    %s\n", *sessionID)
	}
	fmt.Println()

	records := sampledata.New(*seed, *count).Generate()
	fmt.Printf("✓ Generated %d deal records\n", len(records))

	if *outPath != "" {
		if err := writeCSVFile(*outPath, records); err != nil {
			fmt.Printf("ERROR: Failed to write CSV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Wrote %s\n", *outPath)
	}

	if *baseURL == "" {
		return
	}

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	client := &http.Client{Timeout: 30 * time.Second}
	var totalMs int64

	for i := 0; i < *batches; i++ {
		// Vary the seed per batch so repeated batches differ but the
		// full run stays reproducible.
		batch := records
		if i > 0 {
			batch = sampledata.New(*seed+uint64(i), *count).Generate()
		}

		start := time.Now()
		report, err := validateBatch(client, *baseURL, *sessionID, batch)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Printf("ERROR: batch %d failed: %v\n", i+1, err)
			os.Exit(1)
		}
		totalMs += elapsed.Milliseconds()

		printReport(i+1, report, elapsed, *verbose)
	}

	if *batches > 1 {
		fmt.Printf("\n⏱  TOTALS\n")
		fmt.Printf("   Batches:      %d\n", *batches)
		fmt.Printf("   Avg Latency:  %.2f ms\n", float64(totalMs)/float64(*batches))
	}
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

func writeCSVFile(path string, records []domain.DealRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return ingest.WriteCSV(f, records)
}

func validateBatch(client *http.Client, baseURL, sessionID string, records []domain.DealRecord) (*domain.ValidationReport, error) {
	body, err := json.Marshal(map[string]any{"records": records})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/validate/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", sessionID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var report domain.ValidationReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func printReport(n int, report *domain.ValidationReport, elapsed time.Duration, verbose bool) {
	m := report.Metrics
	fmt.Printf("\n📊 BATCH %d\n", n)
	fmt.Printf("   Deals:              %d\n", m.TotalDeals)
	fmt.Printf("   Total Commissions:  $%.2f\n", m.TotalCommissions)
	fmt.Printf("   Average Rate:       %.4f\n", m.AverageRate)
	fmt.Printf("   Issues Flagged:     %d\n", m.FlaggedCount)
	fmt.Printf("   Failing Records:    %d\n", report.FailedCount())
	fmt.Printf("   Anomalies:          %d\n", report.AnomalyCount)
	fmt.Printf("   Latency:            %v (server %d ms)\n", elapsed.Round(time.Millisecond), report.Metadata.TotalMs)

	if !verbose {
		return
	}
	for _, res := range report.Results {
		if res.Status == domain.StatusPass && !res.Anomaly {
			continue
		}
		mark := "✗"
		if res.Status == domain.StatusPass {
			mark = "◦" // anomaly only
		}
		fmt.Printf("   %s %-10s", mark, res.DealID)
		for _, issue := range res.Issues {
			fmt.Printf(" | %s", issue)
		}
		if res.Anomaly {
			fmt.Printf(" | anomaly")
		}
		fmt.Println()
	}
}
