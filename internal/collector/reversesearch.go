package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
	"github.com/scholarsentinel/diagram-forensics/internal/ratelimit"
)

var ErrSearchNotConfigured = errors.New("reverse search service is not configured")

// RateLimitError carries the limiter decision so callers can surface a
// structured 429 instead of an opaque failure.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return e.Decision.Message()
}

// ReverseSearcher performs one reverse-image web lookup.
type ReverseSearcher interface {
	Search(ctx context.Context, imagePath, clientKey string) (*domain.ReverseSearch, error)
}

type ReverseSearchConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPReverseSearcher uploads the image to the reverse-search service and
// normalizes its response. Every call is admitted by the per-client
// limiter first; a denial is returned as *RateLimitError, not performed.
type HTTPReverseSearcher struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

func NewHTTPReverseSearcher(cfg ReverseSearchConfig, limiter *ratelimit.Limiter) *HTTPReverseSearcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPReverseSearcher{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: cfg.HTTPClient,
		limiter:    limiter,
	}
}

func (s *HTTPReverseSearcher) Available() bool {
	return s.baseURL != ""
}

// PeekAdmission exposes the limiter decision without consuming quota, for
// surfacing quota headers on the API. The search itself re-checks and
// consumes on invocation.
func (s *HTTPReverseSearcher) PeekAdmission(clientKey string) ratelimit.Decision {
	return s.limiter.Peek(clientKey)
}

func (s *HTTPReverseSearcher) Search(ctx context.Context, imagePath, clientKey string) (*domain.ReverseSearch, error) {
	if !s.Available() {
		return nil, ErrSearchNotConfigured
	}

	decision := s.limiter.Check(clientKey)
	if !decision.Allowed {
		return nil, &RateLimitError{Decision: decision}
	}

	body, contentType, err := buildUpload(imagePath)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", body)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	request.Header.Set("Content-Type", contentType)

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("reverse search request: %w", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reverse search service returned status %d: %s", response.StatusCode, tail(string(payload), 256))
	}

	var decoded struct {
		BestGuess     string   `json:"best_guess"`
		SimilarImages []string `json:"similar_images"`
		MatchingPages []string `json:"matching_pages"`
		ResultURL     string   `json:"result_url"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("unparseable search response: %w", err)
	}

	return &domain.ReverseSearch{
		Found:             len(decoded.SimilarImages) > 0 || len(decoded.MatchingPages) > 0,
		BestGuess:         decoded.BestGuess,
		SimilarImageCount: len(decoded.SimilarImages),
		MatchingPageCount: len(decoded.MatchingPages),
		ResultURL:         decoded.ResultURL,
	}, nil
}

func buildUpload(imagePath string) (*bytes.Buffer, string, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("open image %s: %w", imagePath, err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("copy image into upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finish upload: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
