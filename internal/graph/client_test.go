package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient creates a Client pointing at a test server with fast polling.
func newTestClient(server *httptest.Server) *Client {
	return NewClient("v18.0",
		WithHTTPClient(server.Client()),
		WithBaseURL(server.URL),
		WithPollInterval(time.Millisecond, 5*time.Millisecond),
	)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	if got := NewClient("").BaseURL(); got != "https://graph.facebook.com/v18.0" {
		t.Errorf("BaseURL = %q", got)
	}
	if got := NewClient("v20.0").BaseURL(); got != "https://graph.facebook.com/v20.0" {
		t.Errorf("BaseURL = %q", got)
	}
}

func TestCreateImageContainer_CarouselItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/ig123/media" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		r.ParseForm()
		if r.Form.Get("image_url") != "https://cdn.example.com/a.jpg" {
			t.Errorf("unexpected image_url: %s", r.Form.Get("image_url"))
		}
		if r.Form.Get("is_carousel_item") != "true" {
			t.Error("expected is_carousel_item=true")
		}
		if r.Form.Get("caption") != "" {
			t.Error("carousel child must not carry a caption")
		}
		if r.Form.Get("access_token") != "page-token" {
			t.Errorf("unexpected token: %s", r.Form.Get("access_token"))
		}
		writeJSON(w, map[string]string{"id": "child-1"})
	}))
	defer server.Close()

	id, err := newTestClient(server).CreateImageContainer(context.Background(), "ig123", "page-token", "https://cdn.example.com/a.jpg", "ignored", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "child-1" {
		t.Errorf("expected child-1, got %s", id)
	}
}

func TestCreateVideoContainer_MediaType(t *testing.T) {
	tests := []struct {
		carousel bool
		want     string
	}{
		{true, "VIDEO"},
		{false, "REELS"},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			if got := r.Form.Get("media_type"); got != tt.want {
				t.Errorf("carousel=%v: media_type = %s, want %s", tt.carousel, got, tt.want)
			}
			writeJSON(w, map[string]string{"id": "vid-1"})
		}))
		_, err := newTestClient(server).CreateVideoContainer(context.Background(), "ig123", "tok", "https://cdn.example.com/v.mp4", "cap", tt.carousel)
		server.Close()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestCreateCarouselContainer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("media_type") != "CAROUSEL" {
			t.Error("expected media_type=CAROUSEL")
		}
		if r.Form.Get("children") != "c1,c2,c3" {
			t.Errorf("unexpected children: %s", r.Form.Get("children"))
		}
		if r.Form.Get("caption") != "Hello #world" {
			t.Errorf("unexpected caption: %s", r.Form.Get("caption"))
		}
		writeJSON(w, map[string]string{"id": "carousel-1"})
	}))
	defer server.Close()

	id, err := newTestClient(server).CreateCarouselContainer(context.Background(), "ig123", "tok", []string{"c1", "c2", "c3"}, "Hello #world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "carousel-1" {
		t.Errorf("expected carousel-1, got %s", id)
	}
}

func TestCreateCarouselContainer_Bounds(t *testing.T) {
	c := NewClient("")
	if _, err := c.CreateCarouselContainer(context.Background(), "ig", "tok", []string{"c1"}, ""); err == nil || !strings.Contains(err.Error(), "at least 2") {
		t.Errorf("expected minimum items error, got %v", err)
	}
	eleven := make([]string, 11)
	if _, err := c.CreateCarouselContainer(context.Background(), "ig", "tok", eleven, ""); err == nil || !strings.Contains(err.Error(), "at most 10") {
		t.Errorf("expected maximum items error, got %v", err)
	}
}

func TestPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ig123/media_publish" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		r.ParseForm()
		if r.Form.Get("creation_id") != "carousel-1" {
			t.Errorf("unexpected creation_id: %s", r.Form.Get("creation_id"))
		}
		writeJSON(w, map[string]string{"id": "media-1"})
	}))
	defer server.Close()

	id, err := newTestClient(server).Publish(context.Background(), "ig123", "tok", "carousel-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "media-1" {
		t.Errorf("expected media-1, got %s", id)
	}
}

func TestWaitForContainer_Finished(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		status := StatusInProgress
		if atomic.AddInt32(&calls, 1) >= 3 {
			status = StatusFinished
		}
		writeJSON(w, map[string]string{"id": "c1", "status_code": status})
	}))
	defer server.Close()

	if err := newTestClient(server).WaitForContainer(context.Background(), "c1", "tok", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&calls) < 3 {
		t.Errorf("expected at least 3 polls, got %d", calls)
	}
}

func TestWaitForContainer_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"id": "c1", "status_code": StatusError})
	}))
	defer server.Close()

	err := newTestClient(server).WaitForContainer(context.Background(), "c1", "tok", time.Second)
	if err == nil || !strings.Contains(err.Error(), "processing failed") {
		t.Errorf("expected processing failure, got %v", err)
	}
}

func TestWaitForContainer_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"id": "c1", "status_code": StatusInProgress})
	}))
	defer server.Close()

	err := newTestClient(server).WaitForContainer(context.Background(), "c1", "tok", 20*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestAPIError_Kind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]interface{}{
			"error": map[string]interface{}{
				"message":    "Invalid OAuth access token",
				"type":       "OAuthException",
				"code":       190,
				"fbtrace_id": "trace-1",
			},
		})
	}))
	defer server.Close()

	_, err := newTestClient(server).PublishText(context.Background(), "page1", "bad", "hi")
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
	if !strings.Contains(err.Error(), "OAuthException") {
		t.Errorf("expected OAuthException in error, got: %v", err)
	}
	if KindOf(err) != KindInvalidToken {
		t.Errorf("KindOf = %v, want invalid_token", KindOf(err))
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		code int
		want ErrorKind
	}{
		{3, KindPermission},
		{100, KindInvalidRequest},
		{190, KindInvalidToken},
		{4, KindRateLimited},
		{17, KindRateLimited},
		{32, KindRateLimited},
		{613, KindRateLimited},
		{1, KindUnknown},
	}
	for _, tt := range tests {
		if got := (&APIError{Code: tt.code}).Kind(); got != tt.want {
			t.Errorf("code %d: Kind = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		limit    int
		expected string
	}{
		{"short", 10, "short"},
		{"this is a long string", 10, "this is a ..."},
		{"exact", 5, "exact"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.limit); got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.limit, got, tt.expected)
		}
	}
}
