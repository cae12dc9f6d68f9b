// Package oracle is the client for the external embedding service that
// turns images into face embeddings. The service is consumed as a black
// box: detection quality and embedding dimensionality are its concern.
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rollmark/rollmark/internal/config"
	"github.com/rollmark/rollmark/internal/facematch"
)

var (
	// ErrUnavailable means the embedding service could not be reached or
	// returned a malformed response. Distinct from "no faces found", which
	// is a normal empty result.
	ErrUnavailable = errors.New("embedding service unavailable")

	// ErrTimeout means the embedding service did not answer within the
	// configured deadline. Callers treat it as "no faces detected" for UX
	// but log and retry it differently from ErrUnavailable.
	ErrTimeout = errors.New("embedding service timed out")

	// ErrNoFace means an encode call found no usable single face in the
	// image (none, several, or too small).
	ErrNoFace = errors.New("no single face found in image")
)

// Client talks to the embedding service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	maxImgSize int
}

// New creates a client from config.
func New(cfg *config.OracleConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{},
		timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxImgSize: cfg.MaxImageSize,
	}
}

type detectRequest struct {
	ImageBase64      string  `json:"image_base64"`
	MinFaceAreaRatio float64 `json:"min_face_area_ratio"`
	NumJitters       int     `json:"num_jitters"`
}

type detectResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Faces   []struct {
		Embedding []float32 `json:"embedding"`
		Location  struct {
			Top    int `json:"top"`
			Right  int `json:"right"`
			Bottom int `json:"bottom"`
			Left   int `json:"left"`
		} `json:"location"`
	} `json:"faces"`
}

type encodeRequest struct {
	ImageBase64      string  `json:"image_base64"`
	ValidateSingle   bool    `json:"validate_single"`
	MinFaceAreaRatio float64 `json:"min_face_area_ratio"`
	NumJitters       int     `json:"num_jitters"`
}

type encodeResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Embedding []float32 `json:"embedding"`
}

// Detect finds all faces in a classroom image and returns their embeddings
// with pixel bounding boxes. An empty slice is a normal outcome.
func (c *Client) Detect(ctx context.Context, imageBytes []byte, minFaceAreaRatio float64, jitters int) ([]facematch.DetectedFace, error) {
	prepared, err := PrepareImage(imageBytes, c.maxImgSize)
	if err != nil {
		return nil, fmt.Errorf("preparing image: %w", err)
	}

	req := detectRequest{
		ImageBase64:      base64.StdEncoding.EncodeToString(prepared),
		MinFaceAreaRatio: minFaceAreaRatio,
		NumJitters:       jitters,
	}

	var resp detectResponse
	if err := c.post(ctx, "detect-faces", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Error)
	}

	faces := make([]facematch.DetectedFace, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		faces = append(faces, facematch.DetectedFace{
			Embedding: f.Embedding,
			Box: facematch.BoundingBox{
				Top:    f.Location.Top,
				Right:  f.Location.Right,
				Bottom: f.Location.Bottom,
				Left:   f.Location.Left,
			},
		})
	}
	return faces, nil
}

// Encode extracts the embedding of exactly one face, for enrollment and
// identify flows. Images with zero or multiple faces return ErrNoFace.
func (c *Client) Encode(ctx context.Context, imageBytes []byte, minFaceAreaRatio float64, jitters int) ([]float32, error) {
	prepared, err := PrepareImage(imageBytes, c.maxImgSize)
	if err != nil {
		return nil, fmt.Errorf("preparing image: %w", err)
	}

	req := encodeRequest{
		ImageBase64:      base64.StdEncoding.EncodeToString(prepared),
		ValidateSingle:   true,
		MinFaceAreaRatio: minFaceAreaRatio,
		NumJitters:       jitters,
	}

	var resp encodeResponse
	if err := c.post(ctx, "encode-face", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrNoFace, resp.Error)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", ErrUnavailable)
	}
	return resp.Embedding, nil
}

func (c *Client) post(ctx context.Context, endpoint string, requestBody, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("could not marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, endpoint)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: unmarshaling response: %v", ErrUnavailable, err)
	}
	return nil
}

// DecodeImagePayload accepts either raw base64 or a data-URL
// ("data:image/jpeg;base64,....") and returns the image bytes.
func DecodeImagePayload(payload string) ([]byte, error) {
	if idx := strings.IndexByte(payload, ','); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	return data, nil
}
