package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rollmark/rollmark/internal/auth"
	"github.com/rollmark/rollmark/internal/config"
	"github.com/rollmark/rollmark/internal/database"
	"github.com/rollmark/rollmark/internal/database/mock"
	"github.com/rollmark/rollmark/internal/facematch"
	"github.com/rollmark/rollmark/internal/ledger"
	"github.com/rollmark/rollmark/internal/oracle"
	"github.com/rollmark/rollmark/internal/web/middleware"
)

// testMatchCfg mirrors the embedded policy defaults.
func testMatchCfg() facematch.MatchConfig {
	return facematch.MatchConfig{
		Metric:             facematch.MetricEuclidean,
		ConfidentThreshold: 0.4,
		UncertainThreshold: 0.6,
	}
}

// newTestTokens creates a token service with a fixed secret.
func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	tokens, err := auth.NewTokenService("test-secret", 2*time.Minute)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	return tokens
}

// seededStore returns a mock store with one subject (subj1, teacher t1) and
// students s1 (verified, reference embedding at origin) and s2 (unverified).
func seededStore(t *testing.T) *mock.Store {
	t.Helper()
	store := mock.NewStore()
	ctx := context.Background()

	if err := store.CreateSubject(ctx, &database.Subject{ID: "subj1", Name: "Algebra", TeacherIDs: []string{"t1"}}); err != nil {
		t.Fatalf("create subject: %v", err)
	}
	if err := store.CreateStudent(ctx, &database.Student{ID: "s1", Name: "Ana", Roll: "1"}); err != nil {
		t.Fatalf("create student: %v", err)
	}
	if err := store.CreateStudent(ctx, &database.Student{ID: "s2", Name: "Ben", Roll: "2"}); err != nil {
		t.Fatalf("create student: %v", err)
	}
	if _, err := store.AddReferenceFace(ctx, "s1", []float32{0, 0}); err != nil {
		t.Fatalf("add reference face: %v", err)
	}
	for _, id := range []string{"s1", "s2"} {
		if err := store.EnrollStudent(ctx, "subj1", id); err != nil {
			t.Fatalf("enroll student: %v", err)
		}
	}
	return store
}

// newLedger wraps the store in a ledger service pinned to UTC.
func newLedger(store *mock.Store) *ledger.Service {
	return ledger.NewService(store, time.UTC, 0)
}

// testImagePayload returns a small JPEG as base64, good enough for the
// image decode step in front of the oracle call.
func testImagePayload(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// fakeOracle spins an embedding service stub and returns a client for it.
func fakeOracle(t *testing.T, routes map[string]http.HandlerFunc) *oracle.Client {
	t.Helper()
	mux := http.NewServeMux()
	for path, handler := range routes {
		mux.HandleFunc(path, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return oracle.New(&config.OracleConfig{
		URL:            server.URL,
		TimeoutSeconds: 2,
		MaxImageSize:   64,
	})
}

// detectStub answers /detect-faces with the given embeddings.
func detectStub(embeddings ...[]float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		faces := make([]map[string]any, 0, len(embeddings))
		for i, emb := range embeddings {
			faces = append(faces, map[string]any{
				"embedding": emb,
				"location":  map[string]int{"top": i * 10, "right": i*10 + 8, "bottom": i*10 + 8, "left": i * 10},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "faces": faces})
	}
}

// encodeStub answers /encode-face with one embedding.
func encodeStub(embedding []float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "embedding": embedding})
	}
}

// jsonRequest builds a request with a JSON body and the teacher t1 in
// context.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	return req.WithContext(middleware.SetTeacherInContext(req.Context(), "t1"))
}

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeBody unmarshals a recorder body into v.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
	}
}
