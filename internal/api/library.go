package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fpang/social-scheduler/internal/media"
	"github.com/fpang/social-scheduler/internal/store"
)

// listURLExpiry is how long the read URLs in a library listing stay valid.
const listURLExpiry = time.Hour

type uploadURLRequest struct {
	Filename    string `json:"filename" validate:"required"`
	ContentType string `json:"contentType" validate:"required"`
	Size        int64  `json:"size" validate:"required,gt=0"`
}

type registerMediaRequest struct {
	Key string `json:"key" validate:"required"`
}

type suggestionsRequest struct {
	AssetIDs []string `json:"assetIds" validate:"required,min=1,max=50"`
	// Weekdays limits fallback dates, e.g. ["monday","thursday"].
	Weekdays []string `json:"weekdays" validate:"max=7,dive,oneof=sunday monday tuesday wednesday thursday friday saturday"`
}

type suggestion struct {
	AssetID      string    `json:"assetId"`
	ScheduledFor time.Time `json:"scheduledFor"`
	Source       string    `json:"source"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// mediaError maps library errors onto statuses.
func mediaError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, media.ErrStorageLimit):
		httpError(w, http.StatusForbidden, "Storage limit reached. Upgrade your plan for more space.")
	case errors.Is(err, store.ErrNotFound):
		httpError(w, http.StatusNotFound, "media not found")
	case media.IsClientError(err):
		httpError(w, http.StatusBadRequest, err.Error())
	default:
		httpError(w, http.StatusInternalServerError, "failed to "+action, err.Error())
	}
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if s.Media == nil {
		unavailable(w, "media storage")
		return
	}
	var req uploadURLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	up, err := s.Media.UploadURL(r.Context(), userID(r), req.Filename, req.ContentType, req.Size)
	if err != nil {
		mediaError(w, err, "create upload URL")
		return
	}
	respondJSON(w, http.StatusOK, up)
}

func (s *Server) handleRegisterMedia(w http.ResponseWriter, r *http.Request) {
	if s.Media == nil {
		unavailable(w, "media storage")
		return
	}
	var req registerMediaRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	asset, err := s.Media.Register(r.Context(), userID(r), req.Key)
	if err != nil {
		mediaError(w, err, "register media")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"asset": asset})
}

func (s *Server) handleListMedia(w http.ResponseWriter, r *http.Request) {
	if s.Media == nil {
		unavailable(w, "media storage")
		return
	}
	assets, err := s.Media.List(r.Context(), userID(r), listURLExpiry)
	if err != nil {
		mediaError(w, err, "list media")
		return
	}
	var used int64
	for _, a := range assets {
		used += a.Size
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"assets":    assets,
		"usedBytes": used,
	})
}

func (s *Server) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	if s.Media == nil {
		unavailable(w, "media storage")
		return
	}
	if err := s.Media.Delete(r.Context(), userID(r), r.PathValue("id")); err != nil {
		mediaError(w, err, "delete media")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleScheduleSuggestions proposes a posting date per asset: the capture
// anniversary when EXIF has one, otherwise consecutive allowed weekdays.
func (s *Server) handleScheduleSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.Media == nil {
		unavailable(w, "media storage")
		return
	}
	var req suggestionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var days []time.Weekday
	for _, d := range req.Weekdays {
		days = append(days, weekdayNames[strings.ToLower(d)])
	}

	now := s.Now().UTC()
	fallback := now
	out := make([]suggestion, 0, len(req.AssetIDs))
	for _, id := range req.AssetIDs {
		asset, err := s.Media.Get(r.Context(), userID(r), id)
		if err != nil {
			mediaError(w, err, "load media")
			return
		}
		if asset.CapturedAt != nil {
			out = append(out, suggestion{AssetID: id, ScheduledFor: media.SuggestDate(*asset.CapturedAt, now), Source: "exif"})
			continue
		}
		fallback = media.NextWeekday(fallback, days)
		out = append(out, suggestion{AssetID: id, ScheduledFor: fallback, Source: "weekday"})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"suggestions": out})
}
