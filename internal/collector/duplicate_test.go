package collector

import (
	"context"
	"testing"

	"github.com/scholarsentinel/diagram-forensics/internal/repository"
)

func TestHammingDistanceIdenticalIsZero(t *testing.T) {
	if distance := HammingDistance("a1b2c3d4", "a1b2c3d4"); distance != 0 {
		t.Fatalf("expected zero distance for identical hashes, got %d", distance)
	}
	if similarity := Similarity("a1b2c3d4", "a1b2c3d4"); similarity != 1 {
		t.Fatalf("expected similarity 1 for identical hashes, got %f", similarity)
	}
}

func TestHammingDistanceBounds(t *testing.T) {
	cases := []struct {
		a, b     string
		expected int
	}{
		{"0000", "0000", 0},
		{"0000", "0001", 1},
		{"0000", "0011", 2},
		{"0000", "1111", 4},
	}
	previous := -1.0
	for _, tc := range cases {
		distance := HammingDistance(tc.a, tc.b)
		if distance != tc.expected {
			t.Fatalf("distance(%q,%q): expected %d, got %d", tc.a, tc.b, tc.expected, distance)
		}
		if distance < 0 || distance > len(tc.a) {
			t.Fatalf("distance out of range: %d", distance)
		}
		similarity := Similarity(tc.a, tc.b)
		if previous >= 0 && similarity > previous {
			t.Fatalf("similarity must decrease as distance grows, got %f after %f", similarity, previous)
		}
		previous = similarity
	}
}

func TestUnequalLengthHashesAreMaximallyDissimilar(t *testing.T) {
	if distance := HammingDistance("abcd", "abcdefgh"); distance != 8 {
		t.Fatalf("expected maximal distance 8 for unequal lengths, got %d", distance)
	}
	if similarity := Similarity("abcd", "abcdefgh"); similarity != 0 {
		t.Fatalf("expected zero similarity for unequal lengths, got %f", similarity)
	}
	if similarity := Similarity("", ""); similarity != 0 {
		t.Fatalf("empty hashes should not be similar, got %f", similarity)
	}
}

func TestFindMatchesFlagsAboveThreshold(t *testing.T) {
	hashes := repository.NewMemoryHashesRepository()
	ctx := context.Background()

	// 16 hex chars; one char off the candidate = similarity 0.9375.
	seed := map[string]string{
		"dHash": "aaaaaaaaaaaaaaaa",
	}
	if err := hashes.StoreHashes(ctx, "stored.png", seed); err != nil {
		t.Fatalf("store hashes: %v", err)
	}
	if err := hashes.StoreHashes(ctx, "unrelated.png", map[string]string{"dHash": "0123456789abcdef"}); err != nil {
		t.Fatalf("store hashes: %v", err)
	}

	detector := NewDuplicateDetector(hashes, 0.85)
	matches, err := detector.FindMatches(ctx, "candidate.png", "dHash", "aaaaaaaaaaaaaaab")
	if err != nil {
		t.Fatalf("find matches: %v", err)
	}
	if matches.Count != 1 {
		t.Fatalf("expected one suspicious match, got %d", matches.Count)
	}
	if matches.HighestSimilarity <= 0.85 {
		t.Fatalf("expected highest similarity above threshold, got %f", matches.HighestSimilarity)
	}
	if matches.Matches[0].ImagePath != "stored.png" {
		t.Fatalf("expected stored.png as best match, got %s", matches.Matches[0].ImagePath)
	}
}

func TestFindMatchesExcludesOwnImage(t *testing.T) {
	hashes := repository.NewMemoryHashesRepository()
	ctx := context.Background()

	if err := hashes.StoreHashes(ctx, "same.png", map[string]string{"dHash": "ffffffffffffffff"}); err != nil {
		t.Fatalf("store hashes: %v", err)
	}

	detector := NewDuplicateDetector(hashes, 0.85)
	matches, err := detector.FindMatches(ctx, "same.png", "dHash", "ffffffffffffffff")
	if err != nil {
		t.Fatalf("find matches: %v", err)
	}
	if matches.Count != 0 {
		t.Fatalf("a diagram must not match its own stored hash, got %d", matches.Count)
	}
}
