package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/imageai"
	"github.com/fpang/social-scheduler/internal/media"
	"github.com/fpang/social-scheduler/internal/metrics"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/store"
)

const errInsufficientCredits = "Insufficient credits"

// Credit kinds.
const (
	creditPost        = "post"
	creditEnhancement = "enhancement"
)

type captionRequest struct {
	Images         []string `json:"images" validate:"required,min=1,max=10"`
	BusinessName   string   `json:"businessName" validate:"max=200"`
	Niche          string   `json:"niche" validate:"max=200"`
	Tone           string   `json:"tone" validate:"max=100"`
	TargetAudience string   `json:"targetAudience" validate:"max=200"`
}

type imageRequest struct {
	Image       string `json:"image" validate:"required"`
	Description string `json:"description" validate:"max=500"`
}

// hasCredit reports whether the caller has at least one credit of kind,
// creating the free profile on first use. It writes the error response
// itself when it returns false.
func (s *Server) hasCredit(w http.ResponseWriter, r *http.Request, kind string) bool {
	p, err := billing.EnsureProfile(r.Context(), s.Store, userID(r), s.Now())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load credits", err.Error())
		return false
	}
	balance := p.PostCredits
	if kind == creditEnhancement {
		balance = p.EnhancementCredits
	}
	if balance <= 0 {
		httpError(w, http.StatusPaymentRequired, errInsufficientCredits)
		return false
	}
	return true
}

// deductCredit charges one credit after the vendor call succeeded. The
// conditional write still guards against concurrent requests spending the
// last credit twice.
func (s *Server) deductCredit(ctx context.Context, uid, kind string) (int, error) {
	var (
		remaining int
		err       error
	)
	if kind == creditEnhancement {
		remaining, err = s.Store.DeductEnhancementCredit(ctx, uid)
	} else {
		remaining, err = s.Store.DeductPostCredit(ctx, uid)
	}

	result := "success"
	switch {
	case errors.Is(err, store.ErrInsufficientCredits):
		result = "insufficient"
	case err != nil:
		result = "error"
	}
	metrics.New(metrics.Namespace).
		Dimension("Credit", kind).
		Dimension("Result", result).
		Count("CreditDeduction").
		Flush()
	return remaining, err
}

// respondCharged deducts the credit and writes body with the new balance.
func (s *Server) respondCharged(w http.ResponseWriter, r *http.Request, kind string, body map[string]interface{}) {
	uid := userID(r)
	remaining, err := s.deductCredit(r.Context(), uid, kind)
	if errors.Is(err, store.ErrInsufficientCredits) {
		httpError(w, http.StatusPaymentRequired, errInsufficientCredits)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("userId", uid).Str("credit", kind).Msg("Failed to deduct credit")
	} else {
		body["creditsRemaining"] = remaining
	}
	body["success"] = true
	respondJSON(w, http.StatusOK, body)
}

// imageSource turns a request image into something LoadImage accepts:
// data and http(s) URLs pass through, library keys are presigned.
func (s *Server) imageSource(ctx context.Context, uid, ref string) (string, error) {
	if strings.HasPrefix(ref, "data:") || publish.IsAbsoluteURL(ref) {
		return ref, nil
	}
	if err := media.ValidateKey(uid, ref); err != nil {
		return "", err
	}
	if s.Media == nil {
		return "", errors.New("media storage is not configured")
	}
	return s.Media.ResolveURL(ctx, ref)
}

func (s *Server) loadImage(ctx context.Context, uid, ref string) (imageai.Image, error) {
	src, err := s.imageSource(ctx, uid, ref)
	if err != nil {
		return imageai.Image{}, err
	}
	data, err := imageai.LoadImage(ctx, s.ImageClient, src)
	if err != nil {
		return imageai.Image{}, err
	}
	return imageai.Image{MIMEType: http.DetectContentType(data), Data: data}, nil
}

// aiError maps image AI failures onto statuses.
func aiError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, imageai.ErrInvalidImage), errors.Is(err, imageai.ErrNoImages), media.IsClientError(err):
		httpError(w, http.StatusBadRequest, err.Error())
	default:
		httpError(w, http.StatusBadGateway, action+" failed", err.Error())
	}
}

func (s *Server) handleCaption(w http.ResponseWriter, r *http.Request) {
	if s.Captions == nil {
		unavailable(w, "caption generation")
		return
	}
	var req captionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.hasCredit(w, r, creditPost) {
		return
	}

	uid := userID(r)
	images := make([]imageai.Image, 0, len(req.Images))
	for _, ref := range req.Images {
		img, err := s.loadImage(r.Context(), uid, ref)
		if err != nil {
			aiError(w, err, "image download")
			return
		}
		images = append(images, img)
	}

	caption, err := s.Captions.Generate(r.Context(), images, imageai.BusinessProfile{
		Name:     req.BusinessName,
		Niche:    req.Niche,
		Tone:     req.Tone,
		Audience: req.TargetAudience,
	})
	if err != nil {
		aiError(w, err, "caption generation")
		return
	}
	s.respondCharged(w, r, creditPost, map[string]interface{}{
		"caption":  caption.Caption,
		"hashtags": caption.Hashtags,
	})
}

func (s *Server) handleRemoveBackground(w http.ResponseWriter, r *http.Request) {
	if s.RemoveBG == nil {
		unavailable(w, "background removal")
		return
	}
	var req imageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.hasCredit(w, r, creditEnhancement) {
		return
	}
	src, err := s.imageSource(r.Context(), userID(r), req.Image)
	if err != nil {
		aiError(w, err, "background removal")
		return
	}
	out, err := s.RemoveBG.RemoveBackgroundDataURL(r.Context(), src)
	if err != nil {
		aiError(w, err, "background removal")
		return
	}
	s.respondCharged(w, r, creditEnhancement, map[string]interface{}{"image": out})
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	if s.Enhancer == nil {
		unavailable(w, "image enhancement")
		return
	}
	var req imageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.hasCredit(w, r, creditEnhancement) {
		return
	}
	img, err := s.loadImage(r.Context(), userID(r), req.Image)
	if err != nil {
		aiError(w, err, "image download")
		return
	}
	out, err := s.Enhancer.Enhance(r.Context(), img.Data, req.Description)
	if err != nil {
		aiError(w, err, "enhancement")
		return
	}
	s.respondCharged(w, r, creditEnhancement, map[string]interface{}{
		"image":    imageai.DataURL(out.MIMEType, out.Data),
		"category": out.Category,
	})
}
