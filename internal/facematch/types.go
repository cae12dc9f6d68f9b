package facematch

// Tier classifies the confidence of a face match.
type Tier string

const (
	// TierPresent means the distance fell below the confident threshold.
	TierPresent Tier = "present"
	// TierUncertain means the match needs human confirmation.
	TierUncertain Tier = "uncertain"
	// TierUnknown means no candidate was close enough to claim an identity.
	TierUnknown Tier = "unknown"
)

// BoundingBox locates a detected face within the source image, in pixels.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// DetectedFace is a single face reported by the embedding service for one
// classroom image. Ephemeral - it is never persisted.
type DetectedFace struct {
	Embedding []float32
	Box       BoundingBox
}

// Candidate is an enrolled student offered to the matcher. A candidate may
// carry several reference embeddings collected over repeated enrollments;
// any one of them being close counts as a match.
type Candidate struct {
	StudentID  string
	Name       string
	Embeddings [][]float32
	Verified   bool
}

// MatchResult is the matcher's decision for one detected face.
// BestCandidate is nil for TierUnknown even when some candidate was
// nominally closest - a weak match must not attribute identity.
type MatchResult struct {
	Face          DetectedFace
	BestCandidate *Candidate
	Distance      float64
	Tier          Tier
}

// FaceDiagnostic describes a detected face that was dropped from matching,
// typically because the embedding service returned a malformed vector.
type FaceDiagnostic struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}
