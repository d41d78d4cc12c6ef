package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
)

// Extractor pulls diagram images out of a PDF. Extraction failure is fatal
// to the owning job.
type Extractor interface {
	Extract(ctx context.Context, pdfPath, outputDir string) ([]domain.DiagramInfo, error)
}

// ToolExtractor shells out to the configured extraction tool, which writes
// the diagram images under outputDir and reports them on stdout.
type ToolExtractor struct {
	command string
	timeout time.Duration
}

func NewToolExtractor(command string, timeout time.Duration) *ToolExtractor {
	return &ToolExtractor{command: command, timeout: timeout}
}

func (e *ToolExtractor) Extract(ctx context.Context, pdfPath, outputDir string) ([]domain.DiagramInfo, error) {
	output, err := runTool(ctx, e.timeout, e.command, "--output-dir", outputDir, pdfPath)
	if err != nil {
		return nil, err
	}

	var result struct {
		Diagrams []domain.DiagramInfo `json:"diagrams"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, &ToolError{Tool: e.command, Err: fmt.Errorf("unparseable output: %w", err)}
	}
	return result.Diagrams, nil
}
