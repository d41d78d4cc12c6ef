package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
)

// Comparator matches one image against a reference corpus using the
// external feature-matching tool (ORB + SSIM blend).
type Comparator interface {
	Compare(ctx context.Context, imagePath, referenceDir string) (*domain.LocalSimilarity, error)
}

// ToolComparator wraps the local comparison tool. The tool's blended score
// is a percentage in [0,100]; LikelyCopied is decided here against the
// configured threshold on the underlying [0,1] metric.
type ToolComparator struct {
	command   string
	timeout   time.Duration
	threshold float64
}

func NewToolComparator(command string, timeout time.Duration, threshold float64) *ToolComparator {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.35
	}
	return &ToolComparator{command: command, timeout: timeout, threshold: threshold}
}

func (c *ToolComparator) Compare(ctx context.Context, imagePath, referenceDir string) (*domain.LocalSimilarity, error) {
	output, err := runTool(ctx, c.timeout, c.command, "--reference-dir", referenceDir, imagePath)
	if err != nil {
		return nil, err
	}

	var result struct {
		BestMatch *domain.BestMatch `json:"best_match"`
	}
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, &ToolError{Tool: c.command, Err: fmt.Errorf("unparseable output: %w", err)}
	}

	similarity := &domain.LocalSimilarity{BestMatch: result.BestMatch}
	if result.BestMatch != nil && result.BestMatch.Score/100 > c.threshold {
		similarity.LikelyCopied = true
	}
	return similarity, nil
}
