package engine

import (
	"fmt"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
)

type Config struct {
	// HashThreshold is the duplicate similarity above which the hash signal
	// fires (default 0.85).
	HashThreshold float64
	// RiskRatio is the share of non-original diagrams that raises the
	// report risk level to high (default 0.3).
	RiskRatio float64
}

func (c Config) withDefaults() Config {
	if c.HashThreshold <= 0 || c.HashThreshold > 1 {
		c.HashThreshold = 0.85
	}
	if c.RiskRatio <= 0 || c.RiskRatio > 1 {
		c.RiskRatio = 0.3
	}
	return c
}

// Engine fuses per-diagram signals into a verdict and aggregates verdicts
// into a report summary. It is pure: same inputs, same outputs.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Score fills Decision, Confidence and Indicators on the report from
// whichever signal blocks are present. Missing signals are omitted from
// scoring, never treated as zero evidence against the diagram.
func (e *Engine) Score(report *domain.DiagramReport) {
	report.Decision = domain.DecisionOriginal
	report.Confidence = 0
	report.Indicators = []string{}

	hashFired := report.HashMatches != nil &&
		report.HashMatches.Count > 0 &&
		report.HashMatches.HighestSimilarity > e.cfg.HashThreshold
	localFired := report.LocalSimilarity != nil && report.LocalSimilarity.LikelyCopied
	reverseFired := report.ReverseSearch != nil &&
		report.ReverseSearch.Error == "" &&
		report.ReverseSearch.Found &&
		report.ReverseSearch.MatchingPageCount > 0

	weights := make([]float64, 0, 3)

	if hashFired {
		similarity := report.HashMatches.HighestSimilarity
		weights = append(weights, hashWeight(similarity, e.cfg.HashThreshold))
		report.Indicators = append(report.Indicators, fmt.Sprintf(
			"near-duplicate hash match: %.0f%% similarity across %d stored diagram(s)",
			similarity*100, report.HashMatches.Count,
		))
	}

	if localFired {
		weight := 0.3
		indicator := "local comparator flagged a likely copy"
		if best := report.LocalSimilarity.BestMatch; best != nil {
			weight += 0.3 * best.Score / 100
			indicator = fmt.Sprintf(
				"local comparator match: blended score %.1f, SSIM %.2f",
				best.Score, best.SSIM,
			)
		}
		weights = append(weights, weight)
		report.Indicators = append(report.Indicators, indicator)
	}

	if reverseFired {
		weights = append(weights, 0.6)
		report.Indicators = append(report.Indicators, fmt.Sprintf(
			"reverse image search found %d matching page(s) on the web",
			report.ReverseSearch.MatchingPageCount,
		))
	}

	fired := len(weights)
	switch {
	case reverseFired || fired >= 2:
		report.Decision = domain.DecisionHeavily
	case fired == 1:
		report.Decision = domain.DecisionPartially
	default:
		report.Decision = domain.DecisionOriginal
	}

	report.Confidence = combine(weights)
}

// hashWeight grows from 0.3 toward 0.7 as similarity climbs from the
// threshold toward identity.
func hashWeight(similarity, threshold float64) float64 {
	excess := (similarity - threshold) / (1 - threshold)
	if excess < 0 {
		excess = 0
	}
	if excess > 1 {
		excess = 1
	}
	return 0.3 + 0.4*excess
}

// combine applies noisy-or so confidence grows with each corroborating
// signal but never exceeds 1, and re-adding the same evidence on a stable
// re-run produces the same value.
func combine(weights []float64) float64 {
	absent := 1.0
	for _, w := range weights {
		absent *= 1 - w
	}
	return 1 - absent
}

// Summarize aggregates per-diagram verdicts into the report summary.
func (e *Engine) Summarize(diagrams []domain.DiagramReport) domain.ReportSummary {
	summary := domain.ReportSummary{Total: len(diagrams), RiskLevel: domain.RiskLow}
	if len(diagrams) == 0 {
		return summary
	}

	confidenceSum := 0.0
	for _, diagram := range diagrams {
		confidenceSum += diagram.Confidence
		switch diagram.Decision {
		case domain.DecisionHeavily:
			summary.HeavilyPlagiarized++
		case domain.DecisionPartially:
			summary.PartiallyPlagiarized++
		default:
			summary.Original++
		}
	}
	summary.AverageConfidence = confidenceSum / float64(len(diagrams))

	nonOriginal := summary.PartiallyPlagiarized + summary.HeavilyPlagiarized
	switch {
	case summary.HeavilyPlagiarized > 0 || float64(nonOriginal)/float64(summary.Total) > e.cfg.RiskRatio:
		summary.RiskLevel = domain.RiskHigh
	case summary.PartiallyPlagiarized > 0:
		summary.RiskLevel = domain.RiskMedium
	}
	return summary
}
