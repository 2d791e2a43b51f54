package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/documentanalysisflow/internal/app"
	"github.com/Lllllllleong/documentanalysisflow/internal/errors"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/spf13/cobra"
)

var (
	processPrompt   string
	processTemplate string
)

var processCmd = &cobra.Command{
	Use:   "process FILE",
	Short: "Run the pipeline on a local file and optionally analyze it",
	Long: `Upload FILE through the same pipeline the server uses, print each progress
event as a JSON line, and, when --prompt or --template is given, run one
analysis against the extracted text.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processPrompt, "prompt", "p", "", "analysis instruction to run once the document is ready")
	processCmd.Flags().StringVarP(&processTemplate, "template", "t", "", "prompt template name or id to run once the document is ready")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", args[0])
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, sub, err := a.Ingest.UploadAndWatch(ctx, filepath.Base(args[0]), data)
	if err != nil {
		return err
	}
	defer sub.Close()

	out := json.NewEncoder(cmd.OutOrStdout())
	for ev := range sub.Events() {
		if err := out.Encode(ev); err != nil {
			return err
		}
	}
	if err := a.Executor.Wait(ctx); err != nil {
		return err
	}

	final, err := a.Store.GetDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if final.Status != models.StatusReady {
		return errors.Newf("document %s failed: %s", doc.ID, final.ErrorDetails)
	}
	if processPrompt == "" && processTemplate == "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Document %s is ready (%d characters).\n", doc.ID, final.TextLength)
		return nil
	}

	req := models.AnalysisRequest{DocumentID: doc.ID, Prompt: processPrompt}
	if processTemplate != "" {
		if req.PromptTemplateID, err = resolveTemplate(ctx, a, processTemplate); err != nil {
			return err
		}
	}
	result, err := a.Analyzer.Analyze(ctx, req)
	if err != nil {
		return err
	}
	if err := out.Encode(result); err != nil {
		return err
	}
	if result.Failed() {
		return errors.Newf("analysis failed (%s): %s", result.ErrorCategory, result.Error)
	}
	return nil
}

// resolveTemplate seeds the built-in templates and finds one by id or by
// case-insensitive name.
func resolveTemplate(ctx context.Context, a *app.App, nameOrID string) (string, error) {
	if _, err := a.Store.SeedDefaults(ctx); err != nil {
		return "", err
	}
	templates, err := a.Store.ListTemplates(ctx, "", 1000)
	if err != nil {
		return "", err
	}
	for _, tpl := range templates {
		if tpl.ID == nameOrID || strings.EqualFold(tpl.Name, nameOrID) {
			return tpl.ID, nil
		}
	}
	return "", errors.Wrapf(errors.ErrNotFound, "template %q", nameOrID)
}
