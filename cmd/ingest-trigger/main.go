package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentanalysisflow/internal/app"
	"github.com/Lllllllleong/documentanalysisflow/internal/config"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/logging"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/Lllllllleong/documentanalysisflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	ingestInstance *services.Ingest
	once           sync.Once
	initErr        error
)

func init() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	// Register the CloudEvent function for object finalize events.
	functions.CloudEvent("IngestUpload", ingestUpload)
}

// main is required by the Go Functions Framework.
func main() {}

func setup() (*services.Ingest, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, _ := logging.Setup(cfg.LogFile, cfg.LogLevel)
	a, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return a.Ingest, nil
}

// ingestUpload runs the pipeline for a file written to the upload bucket.
// Invalid files are logged and acknowledged so the event is not retried.
func ingestUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestInstance, initErr = setup()
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := e.DataAs(&gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return errors.Wrap(err, "event.DataAs")
	}

	status, err := ingestInstance.IngestObject(ctx, gcsEvent)
	if errors.Is(err, errors.ErrInvalidRequest) {
		slog.Warn("Rejected uploaded object.", "bucket", gcsEvent.Bucket, "object", gcsEvent.Name, "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("Processed uploaded object.", "bucket", gcsEvent.Bucket, "object", gcsEvent.Name, "status", status)
	return nil
}
