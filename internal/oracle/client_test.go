package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rollmark/rollmark/internal/config"
)

// testJPEG produces a small valid JPEG for client tests.
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func testClient(serverURL string) *Client {
	return New(&config.OracleConfig{
		URL:            serverURL,
		TimeoutSeconds: 2,
		MaxImageSize:   256,
	})
}

func TestClient_Detect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect-faces" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req detectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if _, err := base64.StdEncoding.DecodeString(req.ImageBase64); err != nil {
			t.Errorf("image_base64 not valid base64: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"faces": []map[string]any{
				{
					"embedding": []float32{0.1, 0.2},
					"location":  map[string]int{"top": 1, "right": 20, "bottom": 21, "left": 2},
				},
			},
		})
	}))
	defer server.Close()

	faces, err := testClient(server.URL).Detect(context.Background(), testJPEG(t, 32, 32), 0.04, 3)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}
	if faces[0].Box.Right != 20 || faces[0].Box.Top != 1 {
		t.Errorf("unexpected bounding box %+v", faces[0].Box)
	}
}

func TestClient_Detect_NoFacesIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "faces": []any{}})
	}))
	defer server.Close()

	faces, err := testClient(server.URL).Detect(context.Background(), testJPEG(t, 32, 32), 0.04, 3)
	if err != nil {
		t.Fatalf("empty detection must not error: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("expected 0 faces, got %d", len(faces))
	}
}

func TestClient_Detect_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "model not loaded"})
	}))
	defer server.Close()

	_, err := testClient(server.URL).Detect(context.Background(), testJPEG(t, 32, 32), 0.04, 3)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestClient_Detect_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := New(&config.OracleConfig{URL: server.URL, TimeoutSeconds: 1, MaxImageSize: 256})
	client.timeout = 50 * time.Millisecond

	_, err := client.Detect(context.Background(), testJPEG(t, 32, 32), 0.04, 3)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestClient_Encode_NoFace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "multiple faces detected"})
	}))
	defer server.Close()

	_, err := testClient(server.URL).Encode(context.Background(), testJPEG(t, 32, 32), 0.05, 5)
	if !errors.Is(err, ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}
}

func TestClient_Encode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/encode-face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"embedding": []float32{0.5, 0.6, 0.7},
		})
	}))
	defer server.Close()

	embedding, err := testClient(server.URL).Encode(context.Background(), testJPEG(t, 32, 32), 0.05, 5)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(embedding) != 3 {
		t.Errorf("expected 3-dim embedding, got %d", len(embedding))
	}
}

func TestPrepareImage_Downscales(t *testing.T) {
	big := testJPEG(t, 600, 300)

	prepared, err := PrepareImage(big, 256)
	if err != nil {
		t.Fatalf("PrepareImage failed: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(prepared))
	if err != nil {
		t.Fatalf("result not decodable: %v", err)
	}
	if img.Bounds().Dx() != 256 {
		t.Errorf("expected width 256, got %d", img.Bounds().Dx())
	}
	if img.Bounds().Dy() != 128 {
		t.Errorf("expected height 128 (aspect kept), got %d", img.Bounds().Dy())
	}
}

func TestDecodeImagePayload(t *testing.T) {
	raw := []byte("fake-image-bytes")
	b64 := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"plain base64", b64, false},
		{"data URL", "data:image/jpeg;base64," + b64, false},
		{"garbage", "!!!not-base64!!!", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeImagePayload(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, raw) {
				t.Errorf("decoded bytes mismatch")
			}
		})
	}
}
