package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rollmark/rollmark/internal/constants"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/facematch"
	"github.com/rollmark/rollmark/internal/oracle"
)

// StudentsHandler serves student management, face enrollment and the
// identify endpoint.
type StudentsHandler struct {
	students database.StudentStore
	oracle   *oracle.Client
	index    *database.RosterIndex
	matchCfg facematch.MatchConfig
}

// NewStudentsHandler creates a students handler.
func NewStudentsHandler(students database.StudentStore, oracleClient *oracle.Client, index *database.RosterIndex, matchCfg facematch.MatchConfig) *StudentsHandler {
	return &StudentsHandler{
		students: students,
		oracle:   oracleClient,
		index:    index,
		matchCfg: matchCfg,
	}
}

// CreateStudentRequest is the body for creating a student.
type CreateStudentRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Roll string `json:"roll"`
}

// Create handles POST /students.
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	student := database.Student{ID: req.ID, Name: req.Name, Roll: req.Roll}
	if err := h.students.CreateStudent(r.Context(), &student); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, student)
}

// Get handles GET /students/{id}.
func (h *StudentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	student, err := h.students.GetStudent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, student)
}

// Search handles GET /students/search?name=. The lookup normalizes both
// sides, so "Jana Nováková" and "  jana   novakova " find the same student.
func (h *StudentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}

	students, err := h.students.FindStudentsByName(r.Context(), name)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if students == nil {
		students = []database.Student{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"students": students})
}

// ImageRequest is the body for endpoints taking a single image, raw base64
// or a data URL.
type ImageRequest struct {
	Image string `json:"image"`
}

// EnrollFace handles POST /students/{id}/face: encode exactly one face from
// the image, append it as a reference embedding and mark the student
// verified. Repeated enrollments accumulate embeddings.
func (h *StudentsHandler) EnrollFace(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")

	var req ImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	// Reject unknown students before paying for the oracle round trip.
	if _, err := h.students.GetStudent(r.Context(), studentID); err != nil {
		respondDomainError(w, err)
		return
	}

	imageBytes, err := oracle.DecodeImagePayload(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	embedding, err := h.oracle.Encode(r.Context(), imageBytes, constants.EnrollFaceAreaRatio, constants.EncodeJitters)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	face, err := h.students.AddReferenceFace(r.Context(), studentID, embedding)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.index.Add(face)

	log.Printf("Enrolled reference face %d for student %s", face.ID, sanitizeForLog(studentID))
	respondJSON(w, http.StatusCreated, map[string]any{
		"student_id": studentID,
		"face_id":    face.ID,
		"dim":        face.Dim,
		"verified":   true,
	})
}

// IdentifyResponse is the identify endpoint's answer.
type IdentifyResponse struct {
	Status     string            `json:"status"`
	Student    *database.Student `json:"student,omitempty"`
	Distance   float64           `json:"distance,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
}

// Identify handles POST /students/identify: encode a single face and find
// the nearest enrolled student via the in-memory index. Matches beyond the
// uncertain threshold come back as unknown.
func (h *StudentsHandler) Identify(w http.ResponseWriter, r *http.Request) {
	var req ImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	imageBytes, err := oracle.DecodeImagePayload(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	embedding, err := h.oracle.Encode(r.Context(), imageBytes, constants.EnrollFaceAreaRatio, constants.EncodeJitters)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if h.index.Count() == 0 {
		respondJSON(w, http.StatusOK, IdentifyResponse{Status: "unknown"})
		return
	}

	faces, distances, err := h.index.Search(embedding, constants.IdentifySearchK)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if len(faces) == 0 || distances[0] >= h.matchCfg.UncertainThreshold {
		respondJSON(w, http.StatusOK, IdentifyResponse{Status: "unknown"})
		return
	}

	student, err := h.students.GetStudent(r.Context(), faces[0].StudentID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	status := "present"
	if distances[0] >= h.matchCfg.ConfidentThreshold {
		status = "uncertain"
	}
	respondJSON(w, http.StatusOK, IdentifyResponse{
		Status:     status,
		Student:    student,
		Distance:   distances[0],
		Confidence: facematch.Confidence(distances[0]),
	})
}
