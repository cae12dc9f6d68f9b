package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/web/middleware"
)

// SubjectsHandler serves subject and roster management endpoints.
type SubjectsHandler struct {
	subjects database.SubjectStore
}

// NewSubjectsHandler creates a subjects handler.
func NewSubjectsHandler(subjects database.SubjectStore) *SubjectsHandler {
	return &SubjectsHandler{subjects: subjects}
}

// CreateSubjectRequest is the body for creating a subject.
type CreateSubjectRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Create handles POST /subjects. The authenticated teacher becomes the
// subject's owner.
func (h *SubjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSubjectRequest
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

	subject := database.Subject{
		ID:         req.ID,
		Name:       req.Name,
		Code:       req.Code,
		TeacherIDs: []string{middleware.TeacherFromContext(r.Context())},
	}
	if err := h.subjects.CreateSubject(r.Context(), &subject); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, subject)
}

// List handles GET /subjects, returning the authenticated teacher's subjects.
func (h *SubjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.subjects.ListSubjectsByTeacher(r.Context(), middleware.TeacherFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if subjects == nil {
		subjects = []database.Subject{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"subjects": subjects})
}

// Get handles GET /subjects/{id}.
func (h *SubjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	subject, err := h.subjects.GetSubject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, subject)
}

// Roster handles GET /subjects/{id}/roster.
func (h *SubjectsHandler) Roster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.subjects.GetRoster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if roster == nil {
		roster = []database.RosterEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"roster": roster})
}

// EnrollRequest is the body for enrolling a student into a subject.
type EnrollRequest struct {
	StudentID string `json:"student_id"`
}

// Enroll handles POST /subjects/{id}/students.
func (h *SubjectsHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.StudentID == "" {
		respondError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	if err := h.subjects.EnrollStudent(r.Context(), chi.URLParam(r, "id"), req.StudentID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "enrolled"})
}

// Unenroll handles DELETE /subjects/{id}/students/{studentId}.
func (h *SubjectsHandler) Unenroll(w http.ResponseWriter, r *http.Request) {
	err := h.subjects.UnenrollStudent(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "studentId"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unenrolled"})
}
