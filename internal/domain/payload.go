package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrValidation = errors.New("invalid job payload")

// PlagiarismPayload drives the full pipeline over one PDF.
type PlagiarismPayload struct {
	PDFPath      string `json:"pdf_path"`
	ReferenceDir string `json:"reference_dir,omitempty"`
	ClientKey    string `json:"client_key,omitempty"`
}

// ExtractPayload runs diagram extraction only.
type ExtractPayload struct {
	PDFPath string `json:"pdf_path"`
}

// HashPayload computes and stores perceptual hashes for one image.
type HashPayload struct {
	ImagePath string `json:"image_path"`
}

// ComparePayload runs the local comparator against a reference corpus.
type ComparePayload struct {
	ImagePath    string `json:"image_path"`
	ReferenceDir string `json:"reference_dir"`
}

// ReverseSearchPayload runs a single reverse-image lookup.
type ReverseSearchPayload struct {
	ImagePath string `json:"image_path"`
	ClientKey string `json:"client_key,omitempty"`
}

// DecodePayload parses and validates the payload variant for a job type.
// Validation failures happen before any job record exists.
func DecodePayload(jobType JobType, raw json.RawMessage) (any, error) {
	switch jobType {
	case JobTypePlagiarism:
		var payload PlagiarismPayload
		if err := decodeInto(raw, &payload); err != nil {
			return nil, err
		}
		if err := validatePDFPath(payload.PDFPath); err != nil {
			return nil, err
		}
		return payload, nil
	case JobTypeExtract:
		var payload ExtractPayload
		if err := decodeInto(raw, &payload); err != nil {
			return nil, err
		}
		if err := validatePDFPath(payload.PDFPath); err != nil {
			return nil, err
		}
		return payload, nil
	case JobTypeHash:
		var payload HashPayload
		if err := decodeInto(raw, &payload); err != nil {
			return nil, err
		}
		if err := validateFilePath(payload.ImagePath, "image_path"); err != nil {
			return nil, err
		}
		return payload, nil
	case JobTypeCompare:
		var payload ComparePayload
		if err := decodeInto(raw, &payload); err != nil {
			return nil, err
		}
		if err := validateFilePath(payload.ImagePath, "image_path"); err != nil {
			return nil, err
		}
		if strings.TrimSpace(payload.ReferenceDir) == "" {
			return nil, fmt.Errorf("%w: reference_dir is required", ErrValidation)
		}
		return payload, nil
	case JobTypeReverseSearch:
		var payload ReverseSearchPayload
		if err := decodeInto(raw, &payload); err != nil {
			return nil, err
		}
		if err := validateFilePath(payload.ImagePath, "image_path"); err != nil {
			return nil, err
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: unknown job type %q", ErrValidation, jobType)
	}
}

func decodeInto(raw json.RawMessage, value any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is required", ErrValidation)
	}
	if err := json.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func validatePDFPath(path string) error {
	if err := validateFilePath(path, "pdf_path"); err != nil {
		return err
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return fmt.Errorf("%w: pdf_path must point to a .pdf file", ErrValidation)
	}
	return nil
}

func validateFilePath(path, field string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s does not exist: %s", ErrValidation, field, path)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory: %s", ErrValidation, field, path)
	}
	return nil
}
