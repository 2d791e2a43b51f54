package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentanalysisflow/internal/app"
	"github.com/Lllllllleong/documentanalysisflow/internal/config"
	"github.com/Lllllllleong/documentanalysisflow/internal/logging"
)

var (
	analyzeHandler http.Handler
	once           sync.Once
	initErr        error
)

func init() {
	// "HandleAnalyze" is the entry point name configured in GCP.
	functions.HTTP("HandleAnalyze", handleAnalyze)
}

// main is required by the Go Functions Framework.
func main() {}

func setup() (http.Handler, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, _ := logging.Setup(cfg.LogFile, cfg.LogLevel)
	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return a.HTTPServer().AnalyzeHandler(), nil
}

// handleAnalyze runs one analysis request against a ready document.
func handleAnalyze(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		analyzeHandler, initErr = setup()
	})
	if initErr != nil {
		slog.Error("CRITICAL: Analyzer initialization failed.", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	analyzeHandler.ServeHTTP(w, r)
}
