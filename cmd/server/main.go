package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/searchforge/candidate_merge/internal/api"
	"github.com/searchforge/candidate_merge/internal/controller"
	"github.com/searchforge/candidate_merge/merge"
	"github.com/searchforge/candidate_merge/obs"
	"github.com/searchforge/candidate_merge/policy"
	"github.com/searchforge/candidate_merge/score"
	"github.com/searchforge/candidate_merge/sinks"
)

const (
	defaultPort         = 7080
	defaultBudgetMs     = 600
	defaultMaxNumLSR    = 10
	defaultThreshold    = 1.1
	defaultMaxNumESR    = 5
	defaultBatchSize    = 3
	defaultSinkTimeout  = 800
	defaultRetryMax     = 2
	defaultSessionTTLMs = 60000
)

func main() {
	cfg := loadConfig()

	shutdown, err := obs.InitTracer("candidate-merge")
	if err != nil {
		log.Printf("obs: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Printf("tracer shutdown error: %v", err)
		}
	}()

	client := newHTTPClient(cfg.SinkTimeout)

	lateSink, err := sinks.NewRankerClient("late_stage", cfg.LSRURL, client, cfg.RetryMax)
	if err != nil {
		log.Fatalf("late-stage sink: %v", err)
	}
	earlySink, err := sinks.NewRankerClient("early_stage", cfg.ESRURL, client, cfg.RetryMax)
	if err != nil {
		log.Fatalf("early-stage sink: %v", err)
	}

	metrics := policy.NewMetrics()

	latePolicy, err := policy.NewDispatchPolicy(policy.DispatchConfig{
		Name:    "late_stage",
		Timeout: cfg.SinkTimeout,
		Rate: policy.RateLimitConfig{
			PerSecond: cfg.RatePerSecond,
			Burst:     cfg.RateBurst,
		},
		Circuit: policy.CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitFailures,
			Cooldown:         cfg.CircuitCooldown,
			HalfOpenMaxCalls: cfg.CircuitHalfOpenMax,
		},
	}, metrics)
	if err != nil {
		log.Fatalf("late-stage policy: %v", err)
	}

	earlyPolicy, err := policy.NewDispatchPolicy(policy.DispatchConfig{
		Name:    "early_stage",
		Timeout: cfg.SinkTimeout,
		Rate: policy.RateLimitConfig{
			PerSecond: cfg.RatePerSecond,
			Burst:     cfg.RateBurst,
		},
		Circuit: policy.CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitFailures,
			Cooldown:         cfg.CircuitCooldown,
			HalfOpenMaxCalls: cfg.CircuitHalfOpenMax,
		},
	}, metrics)
	if err != nil {
		log.Fatalf("early-stage policy: %v", err)
	}

	ctrl, err := controller.New(controller.Config{
		Defaults: merge.Config{
			MaxNumLSR:               cfg.MaxNumLSR,
			LSRSufficiencyThreshold: cfg.Threshold,
			MaxNumESR:               cfg.MaxNumESR,
			LSRBatchSize:            cfg.BatchSize,
			Weights:                 cfg.Weights,
		},
		DefaultBudgetMS: cfg.BudgetMs,
		SessionTTL:      cfg.SessionTTL,
		Late:            lateSink,
		Early:           earlySink,
		LatePolicy:      latePolicy,
		EarlyPolicy:     earlyPolicy,
	})
	if err != nil {
		log.Fatalf("controller: %v", err)
	}

	router, err := api.NewRouter(ctrl)
	if err != nil {
		log.Fatalf("router: %v", err)
	}
	router.Handle("/metrics", promhttp.Handler())

	root := chi.NewRouter()
	root.Mount("/", router)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("candidate merge gateway listening on :%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

type config struct {
	Port               int
	BudgetMs           int
	MaxNumLSR          int
	Threshold          float64
	MaxNumESR          int
	BatchSize          int
	Weights            score.WeightTable
	SessionTTL         time.Duration
	LSRURL             string
	ESRURL             string
	SinkTimeout        time.Duration
	RetryMax           int
	RatePerSecond      float64
	RateBurst          int
	CircuitFailures    int
	CircuitCooldown    time.Duration
	CircuitHalfOpenMax int
}

func loadConfig() config {
	return config{
		Port:               getEnvInt("PORT", defaultPort),
		BudgetMs:           getEnvInt("BUDGET_MS", defaultBudgetMs),
		MaxNumLSR:          getEnvInt("MAX_NUM_LSR", defaultMaxNumLSR),
		Threshold:          getEnvFloat("LSR_SUFFICIENCY_THRESHOLD", defaultThreshold),
		MaxNumESR:          getEnvInt("MAX_NUM_ESR", defaultMaxNumESR),
		BatchSize:          getEnvInt("LSR_BATCH_SIZE", defaultBatchSize),
		Weights:            parseWeights(os.Getenv("GENERATOR_WEIGHTS")),
		SessionTTL:         time.Duration(getEnvInt("SESSION_TTL_MS", defaultSessionTTLMs)) * time.Millisecond,
		LSRURL:             getEnvStr("LSR_URL", "http://late-stage-ranker:8080"),
		ESRURL:             getEnvStr("ESR_URL", "http://early-stage-ranker:8080"),
		SinkTimeout:        time.Duration(getEnvInt("SINK_TIMEOUT_MS", defaultSinkTimeout)) * time.Millisecond,
		RetryMax:           getEnvInt("SINK_RETRY_MAX", defaultRetryMax),
		RatePerSecond:      getEnvFloat("SINK_RATE_PER_SECOND", 50),
		RateBurst:          getEnvInt("SINK_RATE_BURST", 10),
		CircuitFailures:    getEnvInt("CIRCUIT_FAILURES", 5),
		CircuitCooldown:    time.Duration(getEnvInt("CIRCUIT_COOLDOWN_MS", 5000)) * time.Millisecond,
		CircuitHalfOpenMax: getEnvInt("CIRCUIT_HALF_OPEN_MAX", 1),
	}
}

// parseWeights reads "1:0.5,0.8,0.2;2:0.7,0.5,0.3" into a weight table.
func parseWeights(raw string) score.WeightTable {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	table := make(score.WeightTable)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			log.Printf("ignoring malformed weights entry %q", entry)
			continue
		}
		generatorID, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			log.Printf("ignoring weights for non-integer generator %q", parts[0])
			continue
		}
		triple := strings.Split(parts[1], ",")
		if len(triple) != 3 {
			log.Printf("ignoring weights entry %q: want 3 coefficients", entry)
			continue
		}
		var coeffs [3]float64
		ok := true
		for i, c := range triple {
			coeffs[i], err = strconv.ParseFloat(strings.TrimSpace(c), 64)
			if err != nil {
				log.Printf("ignoring weights entry %q: %v", entry, err)
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		table[generatorID] = score.Weights{W0: coeffs[0], W1: coeffs[1], W2: coeffs[2]}
	}
	if len(table) == 0 {
		return nil
	}
	return table
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxConnsPerHost:     128,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 128,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func getEnvStr(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
