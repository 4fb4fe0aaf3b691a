// Package api is the HTTP surface of the scheduler: posts, the media
// library, Meta publishing, AI helpers, credits, checkout and invoices.
//
// Every error response has the body {"error": "..."}.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/fpang/social-scheduler/internal/auth"
	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/imageai"
	"github.com/fpang/social-scheduler/internal/media"
	"github.com/fpang/social-scheduler/internal/payments"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/scheduler"
	"github.com/fpang/social-scheduler/internal/store"
)

// MediaLibrary is the media.Library surface the handlers use.
type MediaLibrary interface {
	UploadURL(ctx context.Context, userID, filename, contentType string, size int64) (*media.Upload, error)
	Register(ctx context.Context, userID, key string) (*store.MediaAsset, error)
	List(ctx context.Context, userID string, ttl time.Duration) ([]media.Asset, error)
	Get(ctx context.Context, userID, assetID string) (*store.MediaAsset, error)
	Delete(ctx context.Context, userID, assetID string) error
	ResolveURL(ctx context.Context, ref string) (string, error)
}

// CaptionWriter drafts captions for images.
type CaptionWriter interface {
	Generate(ctx context.Context, images []imageai.Image, profile imageai.BusinessProfile) (*imageai.Caption, error)
}

// BackgroundRemover cuts the subject out of an image.
type BackgroundRemover interface {
	RemoveBackgroundDataURL(ctx context.Context, image string) (string, error)
}

// ImageEnhancer restyles a product photo.
type ImageEnhancer interface {
	Enhance(ctx context.Context, data []byte, description string) (*imageai.Enhanced, error)
}

// PaymentService runs checkout.
type PaymentService interface {
	CreateOrder(ctx context.Context, userID string, req payments.OrderRequest) (*payments.OrderResponse, error)
	VerifyPayment(ctx context.Context, userID string, req payments.VerifyRequest) (*payments.VerifyResult, error)
	ActivateFreePlan(ctx context.Context, userID string) (*store.Profile, error)
}

// BatchRunner runs one scheduling pass.
type BatchRunner interface {
	RunBatch(ctx context.Context) (*scheduler.BatchResult, error)
}

// Deps wires the server. Optional services left nil make their routes
// answer 503.
type Deps struct {
	Store      store.Store
	Verifier   *auth.Verifier
	Scheduler  BatchRunner
	Dispatcher scheduler.Dispatcher
	Publisher  scheduler.Publisher
	Pages      publish.PageLister
	Media      MediaLibrary
	Captions   CaptionWriter
	RemoveBG   BackgroundRemover
	Enhancer   ImageEnhancer
	Payments   PaymentService
	Limiter    Limiter
	CronSecret string
	// MetaApp and GraphVersion build the login dialog URL.
	MetaApp      publish.MetaApp
	GraphVersion string
	// Seller is printed on invoice PDFs.
	Seller billing.Party
	// ImageClient downloads http(s) images for the AI routes.
	ImageClient *http.Client
	Now         func() time.Time
}

// Server serves the API.
type Server struct {
	Deps
}

// New creates a Server.
func New(d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ImageClient == nil {
		d.ImageClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Server{Deps: d}
}

// Handler returns the routed handler wrapped in middleware, outermost first:
// recover, metrics, gzip, auth, rate limit.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/posts", s.handleListPosts)
	mux.HandleFunc("POST /api/posts", s.handleCreatePost)
	mux.HandleFunc("POST /api/posts/schedule", s.handleSchedulePosts)
	mux.HandleFunc("GET /api/posts/{id}", s.handleGetPost)
	mux.HandleFunc("PATCH /api/posts/{id}", s.handleUpdatePost)
	mux.HandleFunc("DELETE /api/posts/{id}", s.handleDeletePost)
	mux.HandleFunc("POST /api/posts/{id}/publish", s.handlePublishNow)

	mux.HandleFunc("POST /api/meta/post", s.handleMetaPost)
	mux.HandleFunc("GET /api/meta/login-url", s.handleMetaLoginURL)
	mux.HandleFunc("GET /api/meta/pages", s.handleMetaPages)
	mux.HandleFunc("DELETE /api/meta/connection", s.handleMetaDisconnect)

	mux.HandleFunc("POST /api/media/upload-url", s.handleUploadURL)
	mux.HandleFunc("POST /api/media/schedule-suggestions", s.handleScheduleSuggestions)
	mux.HandleFunc("POST /api/media", s.handleRegisterMedia)
	mux.HandleFunc("GET /api/media", s.handleListMedia)
	mux.HandleFunc("DELETE /api/media/{id}", s.handleDeleteMedia)

	mux.HandleFunc("POST /api/ai/caption", s.handleCaption)
	mux.HandleFunc("POST /api/ai/remove-background", s.handleRemoveBackground)
	mux.HandleFunc("POST /api/ai/enhance", s.handleEnhance)

	mux.HandleFunc("GET /api/user/credits", s.handleCredits)

	mux.HandleFunc("POST /api/payments/create-order", s.handleCreateOrder)
	mux.HandleFunc("POST /api/payments/verify", s.handleVerifyPayment)
	mux.HandleFunc("POST /api/payments/activate-free-plan", s.handleActivateFreePlan)

	mux.HandleFunc("GET /api/invoices", s.handleListInvoices)
	mux.HandleFunc("GET /api/invoices/{id}/pdf", s.handleInvoicePDF)

	mux.HandleFunc("GET /api/cron/post-scheduler", s.handleCron)
	mux.HandleFunc("POST /api/cron/post-scheduler", s.handleCron)

	var h http.Handler = mux
	h = withRateLimit(s.Limiter, h)
	h = withAuth(s.Verifier, h)
	h = withGzip(h)
	h = withMetrics(h)
	h = withRecover(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func unavailable(w http.ResponseWriter, what string) {
	httpError(w, http.StatusServiceUnavailable, what+" is not configured")
}
