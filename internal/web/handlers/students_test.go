package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/database/mock"
	"github.com/rollmark/rollmark/internal/facematch"
)

// buildIndex fills a roster index from the store's reference faces.
func buildIndex(t *testing.T, store *mock.Store) *database.RosterIndex {
	t.Helper()
	faces, err := store.ListReferenceFaces(context.Background())
	if err != nil {
		t.Fatalf("list reference faces: %v", err)
	}
	index := database.NewRosterIndex(facematch.MetricEuclidean)
	if err := index.Build(faces); err != nil {
		t.Fatalf("build index: %v", err)
	}
	return index
}

func TestCreateStudent(t *testing.T) {
	store := seededStore(t)
	h := NewStudentsHandler(store, fakeOracle(t, nil), buildIndex(t, store), testMatchCfg())

	rec := httptest.NewRecorder()
	h.Create(rec, jsonRequest(t, http.MethodPost, "/api/v1/students", CreateStudentRequest{Name: "Cy", Roll: "3"}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var student database.Student
	decodeBody(t, rec, &student)
	if student.ID == "" || student.Verified {
		t.Errorf("new student should have an ID and start unverified: %+v", student)
	}
}

func TestSearchStudents(t *testing.T) {
	store := seededStore(t)
	if err := store.CreateStudent(context.Background(), &database.Student{ID: "s9", Name: "Jana Nováková"}); err != nil {
		t.Fatalf("create student: %v", err)
	}
	h := NewStudentsHandler(store, fakeOracle(t, nil), buildIndex(t, store), testMatchCfg())

	rec := httptest.NewRecorder()
	h.Search(rec, jsonRequest(t, http.MethodGet, "/api/v1/students/search?name=++jana+++novakova+", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Students []database.Student `json:"students"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Students) != 1 || resp.Students[0].ID != "s9" {
		t.Errorf("unexpected search result: %+v", resp.Students)
	}
}

func TestSearchStudents_MissingName(t *testing.T) {
	store := seededStore(t)
	h := NewStudentsHandler(store, fakeOracle(t, nil), buildIndex(t, store), testMatchCfg())

	rec := httptest.NewRecorder()
	h.Search(rec, jsonRequest(t, http.MethodGet, "/api/v1/students/search", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestEnrollFace(t *testing.T) {
	store := seededStore(t)
	oracleClient := fakeOracle(t, map[string]http.HandlerFunc{
		"/encode-face": encodeStub([]float32{0.9, 0.1}),
	})
	index := buildIndex(t, store)
	h := NewStudentsHandler(store, oracleClient, index, testMatchCfg())

	before := index.Count()
	req := requestWithChiParams(
		jsonRequest(t, http.MethodPost, "/api/v1/students/s2/face", ImageRequest{Image: testImagePayload(t)}),
		map[string]string{"id": "s2"},
	)
	rec := httptest.NewRecorder()
	h.EnrollFace(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	student, err := store.GetStudent(context.Background(), "s2")
	if err != nil {
		t.Fatalf("get student: %v", err)
	}
	if !student.Verified {
		t.Error("student not verified after face enrollment")
	}
	if index.Count() != before+1 {
		t.Errorf("index not updated: %d -> %d", before, index.Count())
	}
}

func TestEnrollFace_UnknownStudent(t *testing.T) {
	store := seededStore(t)
	h := NewStudentsHandler(store, fakeOracle(t, nil), buildIndex(t, store), testMatchCfg())

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPost, "/api/v1/students/missing/face", ImageRequest{Image: testImagePayload(t)}),
		map[string]string{"id": "missing"},
	)
	rec := httptest.NewRecorder()
	h.EnrollFace(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestEnrollFace_NoFaceInImage(t *testing.T) {
	store := seededStore(t)
	oracleClient := fakeOracle(t, map[string]http.HandlerFunc{
		"/encode-face": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success": false, "error": "multiple faces detected"}`))
		},
	})
	h := NewStudentsHandler(store, oracleClient, buildIndex(t, store), testMatchCfg())

	req := requestWithChiParams(
		jsonRequest(t, http.MethodPost, "/api/v1/students/s2/face", ImageRequest{Image: testImagePayload(t)}),
		map[string]string{"id": "s2"},
	)
	rec := httptest.NewRecorder()
	h.EnrollFace(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestIdentify(t *testing.T) {
	store := seededStore(t)
	// s1's reference sits at the origin; the probe at distance 0.2 is a
	// confident hit.
	oracleClient := fakeOracle(t, map[string]http.HandlerFunc{
		"/encode-face": encodeStub([]float32{0.2, 0}),
	})
	h := NewStudentsHandler(store, oracleClient, buildIndex(t, store), testMatchCfg())

	rec := httptest.NewRecorder()
	h.Identify(rec, jsonRequest(t, http.MethodPost, "/api/v1/students/identify", ImageRequest{Image: testImagePayload(t)}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp IdentifyResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "present" || resp.Student == nil || resp.Student.ID != "s1" {
		t.Errorf("unexpected identify result: %+v", resp)
	}
}

func TestIdentify_FarFaceIsUnknown(t *testing.T) {
	store := seededStore(t)
	oracleClient := fakeOracle(t, map[string]http.HandlerFunc{
		"/encode-face": encodeStub([]float32{5, 5}),
	})
	h := NewStudentsHandler(store, oracleClient, buildIndex(t, store), testMatchCfg())

	rec := httptest.NewRecorder()
	h.Identify(rec, jsonRequest(t, http.MethodPost, "/api/v1/students/identify", ImageRequest{Image: testImagePayload(t)}))

	var resp IdentifyResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "unknown" || resp.Student != nil {
		t.Errorf("far probe must be unknown: %+v", resp)
	}
}

func TestIdentify_EmptyIndex(t *testing.T) {
	store := mock.NewStore()
	oracleClient := fakeOracle(t, map[string]http.HandlerFunc{
		"/encode-face": encodeStub([]float32{0.1, 0}),
	})
	h := NewStudentsHandler(store, oracleClient, database.NewRosterIndex(facematch.MetricEuclidean), testMatchCfg())

	rec := httptest.NewRecorder()
	h.Identify(rec, jsonRequest(t, http.MethodPost, "/api/v1/students/identify", ImageRequest{Image: testImagePayload(t)}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp IdentifyResponse
	decodeBody(t, rec, &resp)
	if resp.Status != "unknown" {
		t.Errorf("empty index must answer unknown: %+v", resp)
	}
}
