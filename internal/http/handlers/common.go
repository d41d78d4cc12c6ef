package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/scholarsentinel/diagram-forensics/internal/collector"
	"github.com/scholarsentinel/diagram-forensics/internal/domain"
	"github.com/scholarsentinel/diagram-forensics/internal/http/middleware"
	"github.com/scholarsentinel/diagram-forensics/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	jobsService *service.JobsService
	searcher    *collector.HTTPReverseSearcher
	logger      *log.Logger
	idempotency *idempotencyStore
}

func NewAPI(jobsService *service.JobsService, searcher *collector.HTTPReverseSearcher, logger *log.Logger) *API {
	return &API{
		jobsService: jobsService,
		searcher:    searcher,
		logger:      logger,
		idempotency: newIdempotencyStore(),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// Submissions are deduplicated by Idempotency-Key so a retried POST returns
// the original job instead of spawning a second pipeline run.

type idempotencyEntry struct {
	PayloadHash uint64
	JobID       string
	Mode        domain.SubmitMode
	Warning     string
	CreatedAt   time.Time
}

type idempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
}

func newIdempotencyStore() *idempotencyStore {
	return &idempotencyStore{entries: make(map[string]idempotencyEntry)}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, result *service.SubmitResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		JobID:       result.JobID,
		Mode:        result.Mode,
		Warning:     result.Warning,
		CreatedAt:   time.Now().UTC(),
	}
}

func hashPayload(payload []byte) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
