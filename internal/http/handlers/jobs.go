package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
	"github.com/scholarsentinel/diagram-forensics/internal/ratelimit"
	"github.com/scholarsentinel/diagram-forensics/internal/repository"
)

type submitResponse struct {
	JobID   string            `json:"job_id"`
	Mode    domain.SubmitMode `json:"mode"`
	Warning string            `json:"warning,omitempty"`
}

// SubmitPlagiarism accepts a PDF for the full forensics pipeline.
func (api *API) SubmitPlagiarism(w http.ResponseWriter, r *http.Request) {
	var request struct {
		PDFPath      string `json:"pdf_path"`
		ReferenceDir string `json:"reference_dir,omitempty"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	api.submit(w, r, domain.JobTypePlagiarism, domain.PlagiarismPayload{
		PDFPath:      request.PDFPath,
		ReferenceDir: request.ReferenceDir,
		ClientKey:    clientKey(r),
	})
}

// SubmitExtract accepts a PDF for diagram extraction only.
func (api *API) SubmitExtract(w http.ResponseWriter, r *http.Request) {
	var request struct {
		PDFPath string `json:"pdf_path"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	api.submit(w, r, domain.JobTypeExtract, domain.ExtractPayload{PDFPath: request.PDFPath})
}

// SubmitHash accepts an image for perceptual hashing.
func (api *API) SubmitHash(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ImagePath string `json:"image_path"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	api.submit(w, r, domain.JobTypeHash, domain.HashPayload{ImagePath: request.ImagePath})
}

// SubmitCompare accepts an image for local comparison against a corpus.
func (api *API) SubmitCompare(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ImagePath    string `json:"image_path"`
		ReferenceDir string `json:"reference_dir"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}
	api.submit(w, r, domain.JobTypeCompare, domain.ComparePayload{
		ImagePath:    request.ImagePath,
		ReferenceDir: request.ReferenceDir,
	})
}

// SubmitReverseSearch accepts an image for a reverse-image web lookup. The
// response always carries the caller's remaining quota; a denied check is a
// structured 429 and no job is created.
func (api *API) SubmitReverseSearch(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ImagePath string `json:"image_path"`
	}
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "malformed request body")
		return
	}

	key := clientKey(r)
	decision := api.searcher.PeekAdmission(key)
	setRateLimitHeaders(w, decision)
	if !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
		writeError(w, r, http.StatusTooManyRequests, "rate_limited", decision.Message())
		return
	}

	api.submit(w, r, domain.JobTypeReverseSearch, domain.ReverseSearchPayload{
		ImagePath: request.ImagePath,
		ClientKey: key,
	})
}

func (api *API) submit(w http.ResponseWriter, r *http.Request, jobType domain.JobType, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to encode payload")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	digest := hashPayload(encoded)
	if idempotencyKey != "" {
		if entry, ok := api.idempotency.Get(idempotencyKey); ok {
			if entry.PayloadHash != digest {
				writeError(w, r, http.StatusConflict, "idempotency_conflict",
					"idempotency key was used with a different payload")
				return
			}
			// Replays echo the original submission, warning included, so a
			// degraded-mode acceptance does not read as queued on retry.
			writeJSON(w, http.StatusOK, submitResponse{
				JobID:   entry.JobID,
				Mode:    entry.Mode,
				Warning: entry.Warning,
			})
			return
		}
	}

	result, err := api.jobsService.Submit(r.Context(), jobType, encoded)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if api.logger != nil {
			api.logger.Printf("submit failed type=%s: %v", jobType, err)
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to submit job")
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, digest, result)
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:   result.JobID,
		Mode:    result.Mode,
		Warning: result.Warning,
	})
}

// JobStatus reports state and progress for one job.
func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job id is required")
		return
	}

	job, err := api.jobsService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	response := map[string]any{
		"job_id":   job.ID,
		"type":     job.Type,
		"state":    job.State,
		"progress": job.Progress,
	}
	if len(job.Result) > 0 {
		response["result"] = json.RawMessage(job.Result)
	}
	if job.FailureReason != "" {
		response["failed_reason"] = job.FailureReason
	}
	writeJSON(w, http.StatusOK, response)
}

// JobReport returns the persisted plagiarism report for a completed job.
func (api *API) JobReport(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job id is required")
		return
	}

	report, err := api.jobsService.GetReport(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "report not available; job may still be processing")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func setRateLimitHeaders(w http.ResponseWriter, decision ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
}

// clientKey identifies the caller for reverse-search admission: an explicit
// header when the fronting platform forwards one, else the remote IP.
func clientKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-Client-Key")); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}
