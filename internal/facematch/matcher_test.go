package facematch

import (
	"math"
	"testing"
)

// embeddingAtDistance builds a 4-dim vector at the given euclidean distance
// from the origin vector.
func embeddingAtDistance(d float64) []float32 {
	return []float32{float32(d), 0, 0, 0}
}

var originFace = DetectedFace{Embedding: []float32{0, 0, 0, 0}}

func testMatchConfig() MatchConfig {
	return MatchConfig{
		Metric:             MetricEuclidean,
		ConfidentThreshold: 0.4,
		UncertainThreshold: 0.6,
	}
}

func mustMatch(t *testing.T, detected []DetectedFace, candidates []Candidate, cfg MatchConfig) ([]MatchResult, []FaceDiagnostic) {
	t.Helper()
	results, diags, err := Match(detected, candidates, cfg)
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	return results, diags
}

func TestMatch_ConfidentMatchUsesMinimumOverReferences(t *testing.T) {
	// One verified student with two references at distances 0.3 and 0.6.
	candidates := []Candidate{{
		StudentID: "s1",
		Verified:  true,
		Embeddings: [][]float32{
			embeddingAtDistance(0.3),
			embeddingAtDistance(0.6),
		},
	}}

	results, _ := mustMatch(t, []DetectedFace{originFace}, candidates, testMatchConfig())

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Tier != TierPresent {
		t.Errorf("expected tier present, got %s", r.Tier)
	}
	if r.BestCandidate == nil || r.BestCandidate.StudentID != "s1" {
		t.Errorf("expected best candidate s1, got %+v", r.BestCandidate)
	}
	if math.Abs(r.Distance-0.3) > 1e-9 {
		t.Errorf("expected distance 0.3 (minimum over references), got %f", r.Distance)
	}
}

func TestMatch_UncertainBandRetainsCandidate(t *testing.T) {
	candidates := []Candidate{{
		StudentID:  "s1",
		Verified:   true,
		Embeddings: [][]float32{embeddingAtDistance(0.5)},
	}}

	results, _ := mustMatch(t, []DetectedFace{originFace}, candidates, testMatchConfig())

	r := results[0]
	if r.Tier != TierUncertain {
		t.Errorf("expected tier uncertain, got %s", r.Tier)
	}
	if r.BestCandidate == nil {
		t.Error("uncertain match must retain the candidate for human review")
	}
}

func TestMatch_UnknownDiscardsNearestCandidate(t *testing.T) {
	candidates := []Candidate{{
		StudentID:  "s1",
		Verified:   true,
		Embeddings: [][]float32{embeddingAtDistance(0.65)},
	}}

	results, _ := mustMatch(t, []DetectedFace{originFace}, candidates, testMatchConfig())

	r := results[0]
	if r.Tier != TierUnknown {
		t.Errorf("expected tier unknown, got %s", r.Tier)
	}
	if r.BestCandidate != nil {
		t.Errorf("unknown tier must not attribute identity, got candidate %s", r.BestCandidate.StudentID)
	}
}

func TestMatch_BoundaryDistancesPartitionWithoutOverlap(t *testing.T) {
	cfg := testMatchConfig()

	tests := []struct {
		name     string
		distance float64
		want     Tier
	}{
		{"well inside confident", 0.1, TierPresent},
		{"just below confident", 0.399, TierPresent},
		{"exactly confident", 0.4, TierUncertain},
		{"between thresholds", 0.5, TierUncertain},
		{"exactly uncertain", 0.6, TierUnknown},
		{"above uncertain", 0.9, TierUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates := []Candidate{{
				StudentID:  "s1",
				Verified:   true,
				Embeddings: [][]float32{embeddingAtDistance(tt.distance)},
			}}

			results, _ := mustMatch(t, []DetectedFace{originFace}, candidates, cfg)
			if results[0].Tier != tt.want {
				t.Errorf("distance %.3f: expected %s, got %s", tt.distance, tt.want, results[0].Tier)
			}
		})
	}
}

func TestMatch_TieringIsMonotoneInDistance(t *testing.T) {
	// Decreasing distance must never lower the tier.
	rank := map[Tier]int{TierPresent: 2, TierUncertain: 1, TierUnknown: 0}
	cfg := testMatchConfig()

	prevRank := rank[TierPresent]
	for d := 0.05; d < 1.0; d += 0.05 {
		candidates := []Candidate{{
			StudentID:  "s1",
			Verified:   true,
			Embeddings: [][]float32{embeddingAtDistance(d)},
		}}
		results, _ := mustMatch(t, []DetectedFace{originFace}, candidates, cfg)
		got := rank[results[0].Tier]
		if got > prevRank {
			t.Fatalf("tier improved as distance grew: distance=%.2f tier=%s", d, results[0].Tier)
		}
		prevRank = got
	}
}

func TestMatch_EmptyCandidateListAllUnknown(t *testing.T) {
	detected := []DetectedFace{originFace, {Embedding: embeddingAtDistance(0.1)}}

	results, _ := mustMatch(t, detected, nil, testMatchConfig())

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Tier != TierUnknown {
			t.Errorf("face %d: expected unknown with no candidates, got %s", i, r.Tier)
		}
		if r.BestCandidate != nil {
			t.Errorf("face %d: expected nil candidate", i)
		}
	}
}

func TestMatch_EmptyDetectedListIsNotAnError(t *testing.T) {
	candidates := []Candidate{{
		StudentID:  "s1",
		Verified:   true,
		Embeddings: [][]float32{embeddingAtDistance(0.1)},
	}}

	results, diags := mustMatch(t, nil, candidates, testMatchConfig())
	if len(results) != 0 || len(diags) != 0 {
		t.Errorf("expected empty results and diagnostics, got %d/%d", len(results), len(diags))
	}
}

func TestMatch_UnverifiedAndEmbeddinglessCandidatesExcluded(t *testing.T) {
	candidates := []Candidate{
		{
			StudentID:  "unverified",
			Verified:   false,
			Embeddings: [][]float32{embeddingAtDistance(0.01)},
		},
		{
			StudentID: "no-embeddings",
			Verified:  true,
		},
		{
			StudentID:  "legit",
			Verified:   true,
			Embeddings: [][]float32{embeddingAtDistance(0.35)},
		},
	}

	results, _ := mustMatch(t, []DetectedFace{originFace}, candidates, testMatchConfig())

	r := results[0]
	if r.BestCandidate == nil || r.BestCandidate.StudentID != "legit" {
		t.Fatalf("expected verified candidate with embeddings to win, got %+v", r.BestCandidate)
	}
}

func TestMatch_MalformedEmbeddingDroppedWithDiagnostic(t *testing.T) {
	candidates := []Candidate{{
		StudentID:  "s1",
		Verified:   true,
		Embeddings: [][]float32{embeddingAtDistance(0.1)},
	}}
	detected := []DetectedFace{
		{Embedding: nil}, // malformed
		originFace,
	}

	results, diags := mustMatch(t, detected, candidates, testMatchConfig())

	if len(results) != 1 {
		t.Fatalf("expected malformed face dropped, got %d results", len(results))
	}
	if len(diags) != 1 || diags[0].Index != 0 {
		t.Fatalf("expected diagnostic for face 0, got %+v", diags)
	}
	if results[0].Tier != TierPresent {
		t.Errorf("healthy face should still match, got %s", results[0].Tier)
	}
}

func TestMatch_DimensionMismatchDroppedWithDiagnostic(t *testing.T) {
	candidates := []Candidate{{
		StudentID:  "s1",
		Verified:   true,
		Embeddings: [][]float32{embeddingAtDistance(0.1)},
	}}
	detected := []DetectedFace{
		{Embedding: []float32{0.1, 0.2}}, // 2 dims against 4-dim references
		originFace,
	}

	results, diags := mustMatch(t, detected, candidates, testMatchConfig())

	if len(results) != 1 {
		t.Fatalf("expected mismatched face dropped, got %d results", len(results))
	}
	if len(diags) != 1 || diags[0].Index != 0 {
		t.Fatalf("expected diagnostic for face 0, got %+v", diags)
	}
	if results[0].Tier != TierPresent {
		t.Errorf("healthy face should still match, got %s", results[0].Tier)
	}
}

func TestMatch_NoCandidatesReportsZeroDistance(t *testing.T) {
	results, _ := mustMatch(t, []DetectedFace{originFace}, nil, testMatchConfig())

	r := results[0]
	if r.Tier != TierUnknown || r.BestCandidate != nil {
		t.Fatalf("expected candidate-less unknown, got %+v", r)
	}
	// No candidate means no distance; a sentinel like MaxFloat64 must never
	// leak into results.
	if r.Distance != 0 {
		t.Errorf("expected zero distance without candidates, got %g", r.Distance)
	}
}

func TestMatch_DuplicateDetectionsBothResolveToSameCandidate(t *testing.T) {
	candidates := []Candidate{{
		StudentID:  "s1",
		Verified:   true,
		Embeddings: [][]float32{embeddingAtDistance(0.0)},
	}}
	detected := []DetectedFace{
		{Embedding: embeddingAtDistance(0.1)},
		{Embedding: embeddingAtDistance(0.2)},
	}

	results, _ := mustMatch(t, detected, candidates, testMatchConfig())

	for i, r := range results {
		if r.BestCandidate == nil || r.BestCandidate.StudentID != "s1" {
			t.Errorf("face %d: duplicate detections should both surface s1", i)
		}
	}
}

func TestMatch_RejectsInvertedThresholds(t *testing.T) {
	cfg := MatchConfig{Metric: MetricEuclidean, ConfidentThreshold: 0.6, UncertainThreshold: 0.4}

	_, _, err := Match(nil, nil, cfg)
	if err == nil {
		t.Fatal("expected error for confident >= uncertain")
	}
}

func TestConfidence_DisplayTransform(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0.0, 1.0},
		{0.3, 0.7},
		{1.0, 0.0},
		{1.5, 0.0}, // clamped, never negative
	}
	for _, tt := range tests {
		if got := Confidence(tt.distance); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Confidence(%.2f) = %f, want %f", tt.distance, got, tt.want)
		}
	}
}
