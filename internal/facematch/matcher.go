// Package facematch decides which detected classroom faces belong to which
// enrolled students. The decision is a pure computation over embeddings
// already produced by the external embedding service; no I/O happens here.
package facematch

import (
	"errors"
	"fmt"
)

// ErrInvalidThresholds is returned when the confident threshold does not
// sit strictly below the uncertain threshold.
var ErrInvalidThresholds = errors.New("confident threshold must be below uncertain threshold")

// MatchConfig carries the distance cutoffs for tier assignment.
// Both thresholds are distances in the embedding space - smaller is closer.
type MatchConfig struct {
	Metric             Metric
	ConfidentThreshold float64
	UncertainThreshold float64
}

// Validate checks the threshold ordering invariant.
func (c MatchConfig) Validate() error {
	if c.ConfidentThreshold >= c.UncertainThreshold {
		return fmt.Errorf("%w: confident=%.3f uncertain=%.3f",
			ErrInvalidThresholds, c.ConfidentThreshold, c.UncertainThreshold)
	}
	return nil
}

// Match assigns each detected face to its nearest candidate and a confidence
// tier. A candidate's score against a face is the minimum distance over all
// of that candidate's reference embeddings. Candidates that are unverified or
// hold no embeddings are never considered.
//
// Faces with malformed embeddings are dropped from the result and reported
// in the returned diagnostics rather than failing the whole batch. A face
// with no candidate inside the uncertain threshold is a normal TierUnknown
// outcome, not an error.
//
// Nothing enforces a 1:1 assignment: two detected faces may both resolve to
// the same candidate. Classroom photos contain reflections and duplicate
// detections, and those are for the human confirmation step to resolve.
func Match(detected []DetectedFace, candidates []Candidate, cfg MatchConfig) ([]MatchResult, []FaceDiagnostic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	eligible := eligibleCandidates(candidates)
	refDim := referenceDim(eligible)

	results := make([]MatchResult, 0, len(detected))
	var diagnostics []FaceDiagnostic

	for i, face := range detected {
		if len(face.Embedding) == 0 {
			diagnostics = append(diagnostics, FaceDiagnostic{
				Index:  i,
				Reason: "empty embedding",
			})
			continue
		}
		if refDim > 0 && len(face.Embedding) != refDim {
			diagnostics = append(diagnostics, FaceDiagnostic{
				Index:  i,
				Reason: fmt.Sprintf("embedding has %d dimensions, references have %d", len(face.Embedding), refDim),
			})
			continue
		}

		best, dist := nearestCandidate(face.Embedding, eligible, cfg.Metric)
		results = append(results, tierResult(face, best, dist, cfg))
	}

	return results, diagnostics, nil
}

// referenceDim returns the dimensionality of the candidates' reference
// embeddings, or 0 when there are none to compare against.
func referenceDim(candidates []Candidate) int {
	for _, c := range candidates {
		for _, ref := range c.Embeddings {
			if len(ref) > 0 {
				return len(ref)
			}
		}
	}
	return 0
}

// eligibleCandidates filters out unverified candidates and candidates
// without any reference embedding.
func eligibleCandidates(candidates []Candidate) []Candidate {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Verified || len(c.Embeddings) == 0 {
			continue
		}
		eligible = append(eligible, c)
	}
	return eligible
}

// nearestCandidate finds the globally minimum-distance candidate for an
// embedding. Returns nil when there are no eligible candidates.
func nearestCandidate(embedding []float32, candidates []Candidate, metric Metric) (*Candidate, float64) {
	var best *Candidate
	bestDist := maxDistance

	for i := range candidates {
		dist := candidateDistance(embedding, &candidates[i], metric)
		if dist < bestDist {
			bestDist = dist
			best = &candidates[i]
		}
	}
	return best, bestDist
}

// candidateDistance scores a candidate as the minimum distance over its
// reference embeddings - a candidate matches if any stored reference is close.
func candidateDistance(embedding []float32, c *Candidate, metric Metric) float64 {
	minDist := maxDistance
	for _, ref := range c.Embeddings {
		if d := Distance(metric, embedding, ref); d < minDist {
			minDist = d
		}
	}
	return minDist
}

// tierResult applies the two-threshold band to a nearest-candidate distance.
func tierResult(face DetectedFace, best *Candidate, dist float64, cfg MatchConfig) MatchResult {
	result := MatchResult{Face: face, Distance: dist}

	switch {
	case best == nil:
		// Nobody to compare against: unknown with no distance at all.
		result.Tier = TierUnknown
		result.Distance = 0
	case dist >= cfg.UncertainThreshold:
		// Weak match: discard the candidate entirely so a near-miss never
		// silently attributes identity.
		result.Tier = TierUnknown
		result.BestCandidate = nil
	case dist < cfg.ConfidentThreshold:
		result.Tier = TierPresent
		result.BestCandidate = best
	default:
		result.Tier = TierUncertain
		result.BestCandidate = best
	}
	return result
}

// Confidence converts a distance into the display-only confidence value
// surfaced by the marking API. It plays no part in tier decisions.
func Confidence(distance float64) float64 {
	if distance > 1 {
		return 0
	}
	return 1 - distance
}
