package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/scholarsentinel/diagram-forensics/internal/domain"
	"github.com/scholarsentinel/diagram-forensics/internal/repository"
)

// DuplicateDetector scans the stored hash corpus for near-duplicates of a
// candidate hash using Hamming distance over hex strings.
type DuplicateDetector struct {
	hashes    repository.HashesRepository
	threshold float64
	topN      int
}

func NewDuplicateDetector(hashes repository.HashesRepository, threshold float64) *DuplicateDetector {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &DuplicateDetector{hashes: hashes, threshold: threshold, topN: 5}
}

// FindMatches compares the candidate against every stored hash of the same
// family and returns matches above the similarity threshold, strongest
// first. The candidate's own stored entry is excluded by image path.
func (d *DuplicateDetector) FindMatches(
	ctx context.Context,
	imagePath string,
	family string,
	candidate string,
) (*domain.HashMatches, error) {
	stored, err := d.hashes.ListHashes(ctx, family)
	if err != nil {
		return nil, fmt.Errorf("list stored hashes: %w", err)
	}

	matches := make([]domain.HashMatch, 0)
	for _, entry := range stored {
		if entry.ImagePath == imagePath {
			continue
		}
		similarity := Similarity(candidate, entry.Hash)
		if similarity > d.threshold {
			matches = append(matches, domain.HashMatch{
				ImagePath:  entry.ImagePath,
				Family:     family,
				Similarity: similarity,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	result := &domain.HashMatches{Count: len(matches)}
	if len(matches) > 0 {
		result.HighestSimilarity = matches[0].Similarity
		if len(matches) > d.topN {
			matches = matches[:d.topN]
		}
		result.Matches = matches
	}
	return result, nil
}

// HammingDistance counts differing positions between two equal-length
// strings. Unequal lengths are maximally dissimilar: the distance is the
// longer length, never a partial comparison.
func HammingDistance(a, b string) int {
	if len(a) != len(b) {
		if len(a) > len(b) {
			return len(a)
		}
		return len(b)
	}
	distance := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			distance++
		}
	}
	return distance
}

// Similarity maps Hamming distance into [0,1], 1 meaning identical.
func Similarity(a, b string) float64 {
	length := len(a)
	if len(b) > length {
		length = len(b)
	}
	if length == 0 {
		return 0
	}
	return 1 - float64(HammingDistance(a, b))/float64(length)
}
