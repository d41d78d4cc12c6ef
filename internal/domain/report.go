package domain

import "time"

type Decision string

const (
	DecisionOriginal  Decision = "original"
	DecisionPartially Decision = "partially plagiarized"
	DecisionHeavily   Decision = "heavily plagiarized"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DiagramInfo describes one diagram extracted from a PDF.
type DiagramInfo struct {
	Path   string `json:"path"`
	Page   int    `json:"page"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Kind   string `json:"kind,omitempty"`
}

// HashMatch is one near-duplicate found in the stored hash corpus.
type HashMatch struct {
	ImagePath  string  `json:"image_path"`
	Family     string  `json:"family"`
	Similarity float64 `json:"similarity"`
}

// HashMatches summarizes duplicate detection for one diagram.
type HashMatches struct {
	Count             int         `json:"count"`
	HighestSimilarity float64     `json:"highest_similarity"`
	Matches           []HashMatch `json:"matches,omitempty"`
}

// BestMatch is the strongest local-comparator hit.
type BestMatch struct {
	Path     string  `json:"path"`
	Score    float64 `json:"score"`
	ORBScore float64 `json:"orb_score"`
	SSIM     float64 `json:"ssim"`
}

// LocalSimilarity summarizes feature-matching against the reference corpus.
type LocalSimilarity struct {
	BestMatch    *BestMatch `json:"best_match,omitempty"`
	LikelyCopied bool       `json:"likely_copied"`
}

// ReverseSearch summarizes a reverse-image web lookup. Error is set when the
// lookup was denied or failed; the other fields are then zero.
type ReverseSearch struct {
	Found             bool   `json:"found"`
	BestGuess         string `json:"best_guess,omitempty"`
	SimilarImageCount int    `json:"similar_image_count"`
	MatchingPageCount int    `json:"matching_page_count"`
	ResultURL         string `json:"result_url,omitempty"`
	Error             string `json:"error,omitempty"`
}

// DiagramReport carries all signals and the fused verdict for one diagram.
// Any signal block may be nil: a failed collector never aborts the others.
type DiagramReport struct {
	Diagram         string           `json:"diagram"`
	Index           int              `json:"index"`
	HashMatches     *HashMatches     `json:"hash_matches,omitempty"`
	LocalSimilarity *LocalSimilarity `json:"local_similarity,omitempty"`
	ReverseSearch   *ReverseSearch   `json:"reverse_search,omitempty"`
	Decision        Decision         `json:"decision"`
	Confidence      float64          `json:"confidence"`
	Indicators      []string         `json:"indicators"`
	Error           string           `json:"error,omitempty"`
}

// ReportSummary aggregates per-diagram verdicts.
type ReportSummary struct {
	Total                int       `json:"total"`
	Original             int       `json:"original"`
	PartiallyPlagiarized int       `json:"partially_plagiarized"`
	HeavilyPlagiarized   int       `json:"heavily_plagiarized"`
	AverageConfidence    float64   `json:"average_confidence"`
	RiskLevel            RiskLevel `json:"risk_level"`
}

// PlagiarismReport is written once per completed plagiarism job.
type PlagiarismReport struct {
	JobID         string          `json:"job_id"`
	PDFPath       string          `json:"pdf_path"`
	TotalDiagrams int             `json:"total_diagrams"`
	Diagrams      []DiagramReport `json:"diagrams"`
	Summary       ReportSummary   `json:"summary"`
	Timestamp     time.Time       `json:"timestamp"`
}

// StoredHash is one perceptual fingerprint kept in the hash corpus.
type StoredHash struct {
	ImagePath string    `json:"image_path"`
	Family    string    `json:"family"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}
