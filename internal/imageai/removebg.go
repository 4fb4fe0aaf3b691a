// Package imageai wraps the vendor models used for post creation: remove.bg
// for background removal and Gemini for captions and product photo
// enhancement.
package imageai

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

	"github.com/rs/zerolog/log"
)

const (
	removeBGURL = "https://api.remove.bg/v1.0/removebg"

	// MaxSourceImageSize bounds images downloaded or decoded for processing.
	MaxSourceImageSize = 20 << 20
)

var (
	// ErrInvalidImage is returned for input that is neither a data URL nor an
	// http(s) URL, or that cannot be decoded.
	ErrInvalidImage = errors.New("invalid image input")
	// ErrUpstream wraps failures reported by a vendor API.
	ErrUpstream = errors.New("image service error")
)

// RemoveBG calls the remove.bg API.
type RemoveBG struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewRemoveBG creates a client with a 60s timeout.
func NewRemoveBG(apiKey string) *RemoveBG {
	return &RemoveBG{
		apiKey:     apiKey,
		endpoint:   removeBGURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithEndpoint points the client at another URL. Used by tests.
func (r *RemoveBG) WithEndpoint(u string) *RemoveBG {
	r.endpoint = u
	return r
}

type removeBGRequest struct {
	ImageFileB64 string `json:"image_file_b64"`
	Size         string `json:"size"`
	Format       string `json:"format"`
}

type removeBGError struct {
	Errors []struct {
		Title  string `json:"title"`
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// RemoveBackground returns a PNG of image with its background removed.
// image is a data: URL or an http(s) URL.
func (r *RemoveBG) RemoveBackground(ctx context.Context, image string) ([]byte, error) {
	src, err := LoadImage(ctx, r.httpClient, image)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(removeBGRequest{
		ImageFileB64: base64.StdEncoding.EncodeToString(src),
		Size:         "auto",
		Format:       "png",
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", r.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, MaxSourceImageSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr removeBGError
		msg := strings.TrimSpace(string(out))
		if json.Unmarshal(out, &apiErr) == nil && len(apiErr.Errors) > 0 {
			msg = apiErr.Errors[0].Title
		}
		log.Error().Int("status", resp.StatusCode).Str("message", msg).Msg("remove.bg request failed")
		return nil, fmt.Errorf("%w: remove.bg status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}

	log.Info().
		Int("inputBytes", len(src)).
		Int("outputBytes", len(out)).
		Str("credits", resp.Header.Get("X-Credits-Charged")).
		Dur("duration", time.Since(start)).
		Msg("Background removed")
	return out, nil
}

// RemoveBackgroundDataURL is RemoveBackground returning a data:image/png URL.
func (r *RemoveBG) RemoveBackgroundDataURL(ctx context.Context, image string) (string, error) {
	png, err := r.RemoveBackground(ctx, image)
	if err != nil {
		return "", err
	}
	return DataURL("image/png", png), nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL decodes a base64 data URL.
func ParseDataURL(s string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, fmt.Errorf("%w: not a data URL", ErrInvalidImage)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, fmt.Errorf("%w: data URL must be base64", ErrInvalidImage)
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) > MaxSourceImageSize {
		return "", nil, fmt.Errorf("%w: image exceeds %d MB", ErrInvalidImage, MaxSourceImageSize>>20)
	}
	return strings.TrimSuffix(meta, ";base64"), data, nil
}

// LoadImage returns the bytes behind a data URL or an http(s) URL.
func LoadImage(ctx context.Context, hc *http.Client, image string) ([]byte, error) {
	switch {
	case strings.HasPrefix(image, "data:"):
		_, data, err := ParseDataURL(image)
		return data, err
	case strings.HasPrefix(image, "https://"), strings.HasPrefix(image, "http://"):
		return download(ctx, hc, image)
	default:
		return nil, fmt.Errorf("%w: expected a data URL or http(s) URL", ErrInvalidImage)
	}
}

func download(ctx context.Context, hc *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download returned status %d", ErrInvalidImage, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSourceImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	if len(data) > MaxSourceImageSize {
		return nil, fmt.Errorf("%w: image exceeds %d MB", ErrInvalidImage, MaxSourceImageSize>>20)
	}
	return data, nil
}
