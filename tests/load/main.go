package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/docpare/docpare-back/internal/blob"
	"github.com/docpare/docpare-back/internal/cache"
	"github.com/docpare/docpare-back/internal/domain"
	httpserver "github.com/docpare/docpare-back/internal/http"
	"github.com/docpare/docpare-back/internal/http/handlers"
	"github.com/docpare/docpare-back/internal/policy"
	"github.com/docpare/docpare-back/internal/queue"
	"github.com/docpare/docpare-back/internal/repository"
	"github.com/docpare/docpare-back/internal/service"
	"github.com/docpare/docpare-back/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	cancel context.CancelFunc
}

func main() {
	uploadsTotal := flag.Int("uploads-total", 240, "total distinct document uploads")
	uploadsConcurrency := flag.Int("uploads-concurrency", 24, "concurrency for distinct uploads")
	dedupTotal := flag.Int("dedup-total", 240, "total duplicate uploads of a shared payload")
	dedupConcurrency := flag.Int("dedup-concurrency", 24, "concurrency for duplicate uploads")
	listTotal := flag.Int("list-total", 160, "total document list requests")
	listConcurrency := flag.Int("list-concurrency", 20, "concurrency for list requests")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment()
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.cancel()
	defer env.server.Close()

	client := &http.Client{Timeout: 10 * time.Second}

	uploadScenario := runScenario("uploads_distinct", *uploadsTotal, *uploadsConcurrency, func(index int) error {
		content := []byte(fmt.Sprintf("contract draft %d\nterm sheet body for load run", index))
		name := fmt.Sprintf("contract-%d.txt", index)
		return uploadDocument(client, env.server.URL, fmt.Sprintf("loader-%d", index%8), name, content, http.StatusCreated)
	})

	// Every request carries the same bytes for the same actor; only the very
	// first one may create, so 200 and 201 are both accepted.
	dedupScenario := runScenario("uploads_dedup", *dedupTotal, *dedupConcurrency, func(index int) error {
		content := []byte("shared non-disclosure agreement body")
		return uploadDocument(client, env.server.URL, "dedup-actor", "nda.txt", content, http.StatusOK, http.StatusCreated)
	})

	listScenario := runScenario("documents_list", *listTotal, *listConcurrency, func(index int) error {
		return getJSON(client, env.server.URL+"/v1/documents", fmt.Sprintf("loader-%d", index%8), http.StatusOK)
	})

	results := []scenarioResult{
		uploadScenario,
		dedupScenario,
		listScenario,
	}

	slo := map[string]bool{
		"upload_p95_le_500ms": uploadScenario.P95MS <= 500,
		"dedup_p95_le_250ms":  dedupScenario.P95MS <= 250,
		"list_p95_le_200ms":   listScenario.P95MS <= 200,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment() (*benchmarkEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	records := repository.NewMemoryRecordStore()
	blobRoot, err := os.MkdirTemp("", "docpare-load-*")
	if err != nil {
		cancel()
		return nil, err
	}
	blobs, err := blob.NewDiskStore(blobRoot)
	if err != nil {
		cancel()
		return nil, err
	}

	taskQueue := queue.New(records, queue.NewLocalNotifier(), queue.Config{}, logger)
	blobCache := cache.NewBlobCache(cache.Config{})
	storage := service.NewStorage(records, blobs, blobCache, taskQueue, service.StorageConfig{
		UploadRules: policy.NewUploadRules(0),
	}, logger)
	comparisons := service.NewComparisons(records, blobs, taskQueue, logger)

	api := handlers.NewAPI(storage, comparisons, records, 0)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	dispatcher := worker.NewDispatcher(taskQueue, records, worker.Config{
		Workers:      4,
		PollInterval: 50 * time.Millisecond,
	}, logger)
	dispatcher.RegisterHandler(domain.TaskTypeExtractText, worker.ExtractTextHandler(records, blobs))
	dispatcher.RegisterHandler(domain.TaskTypeCompare, worker.CompareHandler(records))
	dispatcher.RegisterHandler(domain.TaskTypeExport, worker.ExportHandler(records, blobs))
	go dispatcher.Start(ctx)

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server: server,
		cancel: cancel,
	}, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func uploadDocument(
	client *http.Client,
	baseURL string,
	actorID string,
	filename string,
	content []byte,
	expectedStatuses ...int,
) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, baseURL+"/v1/documents", &body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("X-Actor-Id", actorID)

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	for _, expected := range expectedStatuses {
		if response.StatusCode == expected {
			_, _ = io.Copy(io.Discard, response.Body)
			return nil
		}
	}
	payload, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
	return fmt.Errorf("unexpected status %d (expected %v): %s", response.StatusCode, expectedStatuses, string(payload))
}

func getJSON(client *http.Client, url, actorID string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("X-Actor-Id", actorID)

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
