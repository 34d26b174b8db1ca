package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultServerURL = "http://localhost:5000"
	version          = "0.1.0"
)

type CLIConfig struct {
	ServerURL string
	Verbose   bool
	client    *http.Client
}

func main() {
	var (
		serverURL = flag.String("server", defaultServerURL, "Air quality API URL")
		verbose   = flag.Bool("v", false, "Verbose output")
		command   = flag.String("cmd", "", "Command to execute")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help || *command == "" {
		showHelp()
		return
	}

	config := CLIConfig{
		ServerURL: strings.TrimRight(*serverURL, "/"),
		Verbose:   *verbose,
		client:    &http.Client{Timeout: 30 * time.Second},
	}

	args := flag.Args()

	var err error
	switch *command {
	case "history":
		err = handleHistory(config, args)
	case "stats":
		err = handleStats(config)
	case "series":
		err = handleSeries(config, args)
	case "query":
		err = handleQuery(config, args)
	case "risk":
		err = handleRisk(config, args)
	case "health":
		err = handleHealth(config)
	case "benchmark":
		err = handleBenchmark(config, args)
	default:
		fmt.Printf("Unknown command: %s\n", *command)
		showHelp()
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Printf(`Air Quality Analytics CLI v%s

USAGE:
    aq-cli --cmd <command> [options] [args]

COMMANDS:
    history   - Show recent pm25, pm10 and no2 readings
    stats     - Show the dashboard summary
    series    - List indexed series
    query     - Query or aggregate one series
    risk      - Classify a feature vector into a risk level
    health    - Check API health
    benchmark - Run concurrent requests against an endpoint

EXAMPLES:
    aq-cli --cmd history --period 7d
    aq-cli --cmd series --pollutant pm25
    aq-cli --cmd query --series VN_HANOI_001.pm25 --start 2024-01-01T00:00:00 --agg avg
    aq-cli --cmd risk --features "pm25=42,pm10=60,no2=21,o3=30"
    aq-cli --cmd risk --file features.json
    aq-cli --cmd benchmark --path /api/stats --requests 500 --concurrent 10

OPTIONS:
    --server   Server URL (default: http://localhost:5000)
    --v        Verbose output
    --help     Show this help message

`, version)
}

// getJSON fetches path and decodes a JSON body, failing on non-2xx responses
func (c CLIConfig) getJSON(path string, query url.Values, v interface{}) error {
	target := c.ServerURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	resp, err := c.client.Get(target)
	if err != nil {
		return err
	}
	return decodeResponse(resp, v)
}

func (c CLIConfig) postJSON(path string, payload, v interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.ServerURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	return decodeResponse(resp, v)
}

func decodeResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func printJSON(v interface{}) {
	prettyJSON, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(prettyJSON))
}

func handleHistory(config CLIConfig, args []string) error {
	period := getArg(args, "--period", "24h")

	var result struct {
		Dates []string    `json:"dates"`
		PM25  []float64   `json:"pm25"`
		Stats interface{} `json:"stats"`
	}
	if err := config.getJSON("/api/history", url.Values{"period": {period}}, &result); err != nil {
		return err
	}

	fmt.Printf("History (%s): %d readings\n", period, len(result.Dates))
	if len(result.Dates) > 0 {
		fmt.Printf("  From: %s\n  To:   %s\n", result.Dates[0], result.Dates[len(result.Dates)-1])
	}
	printJSON(result.Stats)
	if config.Verbose {
		for i, date := range result.Dates {
			fmt.Printf("  %s  pm25=%.1f\n", date, result.PM25[i])
		}
	}
	return nil
}

func handleStats(config CLIConfig) error {
	var result map[string]interface{}
	if err := config.getJSON("/api/stats", nil, &result); err != nil {
		return err
	}

	fmt.Printf("Current risk: %v (pm25 %v)\n", result["current_risk"], result["latest_pm25"])
	if mape, ok := result["mape"].(float64); ok {
		fmt.Printf("Forecaster MAPE: %.2f%%\n", mape)
	}
	fmt.Printf("\n%v\n%v\n", result["briefing"], result["insight"])
	if config.Verbose {
		printJSON(result)
	}
	return nil
}

func handleSeries(config CLIConfig, args []string) error {
	query := url.Values{}
	for _, label := range []string{"sensor_id", "location", "pollutant"} {
		if v := getArg(args, "--"+label, ""); v != "" {
			query.Set(label, v)
		}
	}

	var result struct {
		Series []struct {
			ID     string `json:"id"`
			Points int    `json:"points"`
		} `json:"series"`
		Count int `json:"count"`
	}
	if err := config.getJSON("/api/series", query, &result); err != nil {
		return err
	}

	fmt.Printf("Total Series: %d\n", result.Count)
	for _, s := range result.Series {
		fmt.Printf("  %-24s %d points\n", s.ID, s.Points)
	}
	return nil
}

func handleQuery(config CLIConfig, args []string) error {
	series := getArg(args, "--series", "")
	if series == "" {
		return fmt.Errorf("--series is required")
	}

	query := url.Values{"series": {series}}
	for _, name := range []string{"start", "end", "agg"} {
		if v := getArg(args, "--"+name, ""); v != "" {
			query.Set(name, v)
		}
	}

	var result map[string]interface{}
	if err := config.getJSON("/api/query", query, &result); err != nil {
		return err
	}

	fmt.Printf("Query Results for series: %s\n", series)
	if agg, ok := result["aggregation"]; ok {
		fmt.Printf("%v: %v\n", agg, result["value"])
	} else {
		fmt.Printf("Points: %v\n", result["count"])
	}
	if config.Verbose {
		printJSON(result)
	}
	return nil
}

func handleRisk(config CLIConfig, args []string) error {
	features, err := readFeatures(getArg(args, "--features", ""), getArg(args, "--file", ""))
	if err != nil {
		return err
	}

	var result struct {
		RiskLevel string `json:"risk_level"`
	}
	if err := config.postJSON("/predict/risk", features, &result); err != nil {
		return err
	}
	fmt.Printf("Risk level: %s\n", result.RiskLevel)
	return nil
}

// readFeatures parses "name=value,..." pairs or a JSON object file
func readFeatures(pairs, file string) (map[string]float64, error) {
	features := make(map[string]float64)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &features); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
	}
	if pairs != "" {
		for _, pair := range strings.Split(pairs, ",") {
			name, value, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("invalid feature %q, expected name=value", pair)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s: %w", name, err)
			}
			features[strings.TrimSpace(name)] = v
		}
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("--features or --file is required")
	}
	return features, nil
}

func handleHealth(config CLIConfig) error {
	var result map[string]interface{}
	if err := config.getJSON("/health", nil, &result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Println("System is healthy")
	fmt.Printf("  Dataset loaded: %v\n", result["dataset"])
	fmt.Printf("  Models: %v\n", result["models"])
	if config.Verbose {
		printJSON(result)
	}
	return nil
}

func handleBenchmark(config CLIConfig, args []string) error {
	path := getArg(args, "--path", "/api/stats")
	requests, err := strconv.Atoi(getArg(args, "--requests", "100"))
	if err != nil || requests <= 0 {
		return fmt.Errorf("--requests must be a positive integer")
	}
	concurrent, err := strconv.Atoi(getArg(args, "--concurrent", "5"))
	if err != nil || concurrent <= 0 {
		return fmt.Errorf("--concurrent must be a positive integer")
	}

	fmt.Printf("Running %d requests against %s with %d workers...\n", requests, path, concurrent)

	jobs := make(chan struct{}, requests)
	for i := 0; i < requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
		statuses = make(map[int]int)
	)
	start := time.Now()
	for w := 0; w < concurrent; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				resp, err := config.client.Get(config.ServerURL + path)
				mu.Lock()
				if err != nil {
					failures++
				} else {
					statuses[resp.StatusCode]++
				}
				mu.Unlock()
				if err == nil {
					io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("Benchmark Results:\n")
	fmt.Printf("  Duration: %v\n", elapsed)
	fmt.Printf("  Total Requests: %d\n", requests)
	fmt.Printf("  Requests/sec: %.2f\n", float64(requests)/elapsed.Seconds())
	fmt.Printf("  Concurrent Workers: %d\n", concurrent)
	fmt.Printf("  Transport Failures: %d\n", failures)
	for status, count := range statuses {
		fmt.Printf("  HTTP %d: %d\n", status, count)
	}
	return nil
}

func getArg(args []string, flag, defaultValue string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultValue
}
