// Package constants provides shared constants used across the codebase.
package constants

// Marking constants
const (
	// MinFaceAreaRatio is the smallest face-to-image area ratio the
	// embedding service should report for classroom scans.
	MinFaceAreaRatio = 0.04

	// EnrollFaceAreaRatio is the stricter ratio used for single-face
	// enrollment photos.
	EnrollFaceAreaRatio = 0.05

	// DetectJitters and EncodeJitters control how many re-samples the
	// embedding service averages per face.
	DetectJitters = 3
	EncodeJitters = 5
)

// Identify constants
const (
	// IdentifySearchK is how many nearest reference faces the roster index
	// returns per identify query; the closest per-student hit wins.
	IdentifySearchK = 10
)

// Rollup constants
const (
	// DateLayout is the calendar-date key format used throughout the
	// ledger and daily records.
	DateLayout = "2006-01-02"

	// MonthLayout is the grouping key for monthly summaries.
	MonthLayout = "2006-01"

	// LeaderboardSize caps best-performing / needs-support lists.
	LeaderboardSize = 5
)
