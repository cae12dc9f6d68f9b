package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/rollmark/rollmark/internal/auth"
	"github.com/rollmark/rollmark/internal/constants"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/facematch"
	"github.com/rollmark/rollmark/internal/ledger"
	"github.com/rollmark/rollmark/internal/oracle"
)

// AttendanceHandler serves the photo marking, confirmation and QR flows.
type AttendanceHandler struct {
	subjects database.SubjectStore
	ledger   *ledger.Service
	oracle   *oracle.Client
	tokens   *auth.TokenService
	matchCfg facematch.MatchConfig
	qrTTL    time.Duration
}

// NewAttendanceHandler creates an attendance handler.
func NewAttendanceHandler(subjects database.SubjectStore, ledgerSvc *ledger.Service, oracleClient *oracle.Client, tokens *auth.TokenService, matchCfg facematch.MatchConfig, qrTTL time.Duration) *AttendanceHandler {
	return &AttendanceHandler{
		subjects: subjects,
		ledger:   ledgerSvc,
		oracle:   oracleClient,
		tokens:   tokens,
		matchCfg: matchCfg,
		qrTTL:    qrTTL,
	}
}

// MarkRequest is the body for marking attendance from a classroom photo.
type MarkRequest struct {
	SubjectID string `json:"subject_id"`
	Image     string `json:"image"`
}

// MarkedStudent is the matched student inside a face result.
type MarkedStudent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Roll string `json:"roll,omitempty"`
}

// FaceResult is one detected face's matching outcome. Distance and
// confidence are only meaningful alongside a candidate; faces without one
// omit them.
type FaceResult struct {
	Box        facematch.BoundingBox `json:"box"`
	Status     string                `json:"status"`
	Distance   float64               `json:"distance,omitempty"`
	Confidence float64               `json:"confidence,omitempty"`
	Student    *MarkedStudent        `json:"student,omitempty"`
}

// MarkResponse is the marking endpoint's answer. Nothing is written to the
// ledger here; the teacher reviews and confirms separately.
type MarkResponse struct {
	SubjectID   string                     `json:"subject_id"`
	Faces       []FaceResult               `json:"faces"`
	Present     int                        `json:"present"`
	Uncertain   int                        `json:"uncertain"`
	Unknown     int                        `json:"unknown"`
	Diagnostics []facematch.FaceDiagnostic `json:"diagnostics,omitempty"`
}

// Mark handles POST /attendance/mark: detect faces in a classroom photo and
// match them against the subject's verified roster.
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	imageBytes, err := oracle.DecodeImagePayload(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	candidates, err := h.subjects.GetCandidates(r.Context(), req.SubjectID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	detected, err := h.oracle.Detect(r.Context(), imageBytes, constants.MinFaceAreaRatio, constants.DetectJitters)
	if errors.Is(err, oracle.ErrTimeout) {
		// A slow oracle answers like an empty classroom; the teacher retakes
		// the photo instead of staring at an error page.
		log.Printf("Embedding service timed out for subject %s", sanitizeForLog(req.SubjectID))
		respondJSON(w, http.StatusOK, MarkResponse{SubjectID: req.SubjectID, Faces: []FaceResult{}})
		return
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}

	matchCandidates := make([]facematch.Candidate, 0, len(candidates))
	for _, c := range candidates {
		matchCandidates = append(matchCandidates, facematch.Candidate{
			StudentID:  c.StudentID,
			Name:       c.Name,
			Embeddings: c.Embeddings,
			Verified:   true,
		})
	}

	results, diagnostics, err := facematch.Match(detected, matchCandidates, h.matchCfg)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	rollByStudent := make(map[string]string, len(candidates))
	for _, c := range candidates {
		rollByStudent[c.StudentID] = c.Roll
	}

	resp := MarkResponse{SubjectID: req.SubjectID, Faces: make([]FaceResult, 0, len(results)), Diagnostics: diagnostics}
	for _, res := range results {
		face := FaceResult{
			Box:    res.Face.Box,
			Status: string(res.Tier),
		}
		if res.BestCandidate != nil {
			face.Distance = res.Distance
			face.Confidence = facematch.Confidence(res.Distance)
			face.Student = &MarkedStudent{
				ID:   res.BestCandidate.StudentID,
				Name: res.BestCandidate.Name,
				Roll: rollByStudent[res.BestCandidate.StudentID],
			}
		}
		switch res.Tier {
		case facematch.TierPresent:
			resp.Present++
		case facematch.TierUncertain:
			resp.Uncertain++
		default:
			resp.Unknown++
		}
		resp.Faces = append(resp.Faces, face)
	}
	respondJSON(w, http.StatusOK, resp)
}

// ConfirmRequest is the body for confirming reviewed attendance.
type ConfirmRequest struct {
	SubjectID string   `json:"subject_id"`
	Date      string   `json:"date"`
	Present   []string `json:"present"`
	Absent    []string `json:"absent"`
}

// Confirm handles POST /attendance/confirm: apply reviewed present/absent
// sets through the idempotent daily ledger.
func (h *AttendanceHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	outcome, err := h.ledger.Confirm(r.Context(), req.SubjectID, req.Date, req.Present, req.Absent)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{
		"present_updated": outcome.PresentApplied,
		"absent_updated":  outcome.AbsentApplied,
	})
}

// QRGenerateRequest is the body for generating a classroom QR token.
type QRGenerateRequest struct {
	SubjectID string `json:"subject_id"`
}

// QRGenerate handles POST /attendance/qr/generate: mint a short-lived token
// bound to a subject for the classroom QR code.
func (h *AttendanceHandler) QRGenerate(w http.ResponseWriter, r *http.Request) {
	var req QRGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.SubjectID == "" {
		respondError(w, http.StatusBadRequest, "subject_id is required")
		return
	}

	if _, err := h.subjects.GetSubject(r.Context(), req.SubjectID); err != nil {
		respondDomainError(w, err)
		return
	}

	token, err := h.tokens.MintQR(req.SubjectID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(h.qrTTL.Seconds()),
	})
}

// QRRedeemRequest is the body for redeeming a scanned QR token.
type QRRedeemRequest struct {
	Token     string `json:"token"`
	StudentID string `json:"student_id"`
}

// QRRedeem handles POST /attendance/qr/redeem: mark the scanning student
// present for today. Redeeming twice the same day reports already_marked.
func (h *AttendanceHandler) QRRedeem(w http.ResponseWriter, r *http.Request) {
	var req QRRedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.StudentID == "" {
		respondError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	subjectID, err := h.tokens.VerifyQR(req.Token)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	applied, err := h.ledger.MarkPresent(r.Context(), subjectID, req.StudentID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"subject_id":     subjectID,
		"marked":         applied,
		"already_marked": !applied,
	})
}
