package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/graph"
	"github.com/fpang/social-scheduler/internal/media"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/scheduler"
	"github.com/fpang/social-scheduler/internal/store"
)

type createPostRequest struct {
	Caption      string     `json:"caption" validate:"max=2200"`
	Hashtags     []string   `json:"hashtags" validate:"max=30"`
	MediaURL     string     `json:"mediaUrl"`
	MediaURLs    []string   `json:"mediaUrls"`
	Platform     string     `json:"platform" validate:"omitempty,oneof=instagram facebook both"`
	PageID       string     `json:"pageId"`
	ScheduledFor *time.Time `json:"scheduledFor"`
	Status       string     `json:"status" validate:"omitempty,oneof=draft scheduled"`
}

type updatePostRequest struct {
	Caption      *string    `json:"caption" validate:"omitempty,max=2200"`
	Hashtags     []string   `json:"hashtags" validate:"omitempty,max=30"`
	MediaURLs    []string   `json:"mediaUrls"`
	Platform     *string    `json:"platform" validate:"omitempty,oneof=instagram facebook both"`
	PageID       *string    `json:"pageId"`
	ScheduledFor *time.Time `json:"scheduledFor"`
	Status       *string    `json:"status" validate:"omitempty,oneof=draft scheduled cancelled"`
}

// scheduleItem is one row of a bulk schedule. Field names follow the
// upload screen that produces them.
type scheduleItem struct {
	MediaURL      string    `json:"media_url" validate:"required_without=MediaURLs"`
	MediaURLs     []string  `json:"media_urls"`
	Caption       string    `json:"caption" validate:"required,max=2200"`
	Hashtags      []string  `json:"hashtags" validate:"max=30"`
	ScheduledDate time.Time `json:"scheduledDate" validate:"required"`
	Platform      string    `json:"platform" validate:"omitempty,oneof=instagram facebook both"`
	PageID        string    `json:"pageId"`
}

type scheduleRequest struct {
	Posts []scheduleItem `json:"posts" validate:"required,min=1,max=50,dive"`
}

// editableStatuses may be changed through PATCH.
var editableStatuses = map[string]bool{
	store.PostDraft:     true,
	store.PostScheduled: true,
	store.PostFailed:    true,
}

// normalizeHashtags trims tags and drops the leading '#'; FormatMessage
// adds it back when publishing.
func normalizeHashtags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(t), "#"))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// checkMedia accepts absolute URLs and library keys owned by the caller.
func checkMedia(userID string, refs []string) error {
	if len(refs) > graph.MaxCarouselItems {
		return publish.ErrTooManyMedia
	}
	for i, ref := range refs {
		if publish.IsAbsoluteURL(ref) {
			continue
		}
		if err := media.ValidateKey(userID, ref); err != nil {
			return fmt.Errorf("media item %d: %w", i+1, err)
		}
	}
	return nil
}

func mediaRefs(single string, many []string) []string {
	if len(many) > 0 {
		return many
	}
	if single != "" {
		return []string{single}
	}
	return nil
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	posts, err := s.Store.ListPostsByUser(r.Context(), userID(r), status)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list posts", err.Error())
		return
	}
	if posts == nil {
		posts = []*store.Post{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	uid := userID(r)
	refs := mediaRefs(req.MediaURL, req.MediaURLs)
	if req.Caption == "" && len(refs) == 0 {
		httpError(w, http.StatusBadRequest, "caption or media is required")
		return
	}
	if err := checkMedia(uid, refs); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := req.Status
	if status == "" {
		status = store.PostDraft
		if req.ScheduledFor != nil {
			status = store.PostScheduled
		}
	}
	if status == store.PostScheduled && req.ScheduledFor == nil {
		httpError(w, http.StatusBadRequest, "scheduledFor is required for scheduled posts")
		return
	}
	platform := req.Platform
	if platform == "" {
		platform = store.PlatformInstagram
	}

	now := s.Now().UTC()
	post := &store.Post{
		ID:        uuid.NewString(),
		UserID:    uid,
		Caption:   strings.TrimSpace(req.Caption),
		Hashtags:  normalizeHashtags(req.Hashtags),
		Platform:  platform,
		PageID:    req.PageID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(refs) == 1 {
		post.MediaURL = refs[0]
	} else {
		post.MediaURLs = refs
	}
	if req.ScheduledFor != nil {
		post.ScheduledFor = req.ScheduledFor.UTC()
	}

	if err := s.Store.PutPost(r.Context(), post); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to save post", err.Error())
		return
	}
	log.Info().Str("userId", uid).Str("postId", post.ID).Str("status", status).Int("media", len(refs)).Msg("Post created")
	respondJSON(w, http.StatusCreated, map[string]interface{}{"post": post})
}

// handleSchedulePosts stores a batch of scheduled posts. Rows are validated
// up front so a bad row stores nothing.
func (s *Server) handleSchedulePosts(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	uid := userID(r)
	for i, item := range req.Posts {
		if err := checkMedia(uid, mediaRefs(item.MediaURL, item.MediaURLs)); err != nil {
			httpError(w, http.StatusBadRequest, fmt.Sprintf("post %d: %v", i+1, err))
			return
		}
	}

	now := s.Now().UTC()
	saved := make([]*store.Post, 0, len(req.Posts))
	for _, item := range req.Posts {
		platform := item.Platform
		if platform == "" {
			platform = store.PlatformInstagram
		}
		post := &store.Post{
			ID:           uuid.NewString(),
			UserID:       uid,
			Caption:      strings.TrimSpace(item.Caption),
			Hashtags:     normalizeHashtags(item.Hashtags),
			MediaURL:     item.MediaURL,
			MediaURLs:    item.MediaURLs,
			Platform:     platform,
			PageID:       item.PageID,
			ScheduledFor: item.ScheduledDate.UTC(),
			Status:       store.PostScheduled,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.Store.PutPost(r.Context(), post); err != nil {
			httpError(w, http.StatusInternalServerError, "failed to save scheduled posts", err.Error())
			return
		}
		saved = append(saved, post)
	}
	log.Info().Str("userId", uid).Int("count", len(saved)).Msg("Posts scheduled")
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"count":   len(saved),
		"posts":   saved,
	})
}

// loadPost writes a 404 (or 500) and returns nil when the caller's post
// cannot be read.
func (s *Server) loadPost(w http.ResponseWriter, r *http.Request) *store.Post {
	post, err := s.Store.GetPost(r.Context(), userID(r), r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load post", err.Error())
		return nil
	}
	if post == nil {
		httpError(w, http.StatusNotFound, "post not found")
		return nil
	}
	return post
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	if post := s.loadPost(w, r); post != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"post": post})
	}
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	var req updatePostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	post := s.loadPost(w, r)
	if post == nil {
		return
	}
	if !editableStatuses[post.Status] {
		httpError(w, http.StatusConflict, fmt.Sprintf("post is %s and can no longer be edited", post.Status))
		return
	}
	prevStatus, prevUpdatedAt := post.Status, post.UpdatedAt

	if req.Caption != nil {
		post.Caption = strings.TrimSpace(*req.Caption)
	}
	if req.Hashtags != nil {
		post.Hashtags = normalizeHashtags(req.Hashtags)
	}
	if req.MediaURLs != nil {
		if err := checkMedia(post.UserID, req.MediaURLs); err != nil {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		post.MediaURL = ""
		post.MediaURLs = req.MediaURLs
	}
	if req.Platform != nil {
		post.Platform = *req.Platform
	}
	if req.PageID != nil {
		post.PageID = *req.PageID
	}
	if req.ScheduledFor != nil {
		post.ScheduledFor = req.ScheduledFor.UTC()
		if req.Status == nil && post.Status == store.PostFailed {
			post.Status = store.PostScheduled
		}
	}
	if req.Status != nil {
		post.Status = *req.Status
	}
	if post.Status == store.PostScheduled && post.ScheduledFor.IsZero() {
		httpError(w, http.StatusBadRequest, "scheduledFor is required for scheduled posts")
		return
	}
	if post.Status == store.PostScheduled {
		post.MetaErrors = nil
	}

	// Lands only if the post is unchanged since it was loaded, e.g. not
	// claimed by the scheduler in between.
	if err := s.Store.ReplacePost(r.Context(), post, prevStatus, prevUpdatedAt); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			httpError(w, http.StatusConflict, "post changed while editing, reload and try again")
		case errors.Is(err, store.ErrNotFound):
			httpError(w, http.StatusNotFound, "post not found")
		default:
			httpError(w, http.StatusInternalServerError, "failed to save post", err.Error())
		}
		return
	}
	log.Info().Str("postId", post.ID).Str("status", post.Status).Msg("Post updated")
	respondJSON(w, http.StatusOK, map[string]interface{}{"post": post})
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	post := s.loadPost(w, r)
	if post == nil {
		return
	}
	if post.Status == store.PostPublishing {
		httpError(w, http.StatusConflict, "post is being published")
		return
	}
	if err := s.Store.DeletePost(r.Context(), post.UserID, post.ID); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to delete post", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handlePublishNow hands the post to the scheduler and returns before the
// Graph API calls finish.
func (s *Server) handlePublishNow(w http.ResponseWriter, r *http.Request) {
	if s.Dispatcher == nil {
		unavailable(w, "publishing")
		return
	}
	post := s.loadPost(w, r)
	if post == nil {
		return
	}
	switch post.Status {
	case store.PostPosted, store.PostPartial, store.PostPublishing:
		httpError(w, http.StatusConflict, "post already published")
		return
	}
	if len(post.Media()) > graph.MaxCarouselItems {
		httpError(w, http.StatusBadRequest, publish.ErrTooManyMedia.Error())
		return
	}

	if err := s.Dispatcher.DispatchPublish(r.Context(), post.UserID, post.ID); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyPublished) {
			httpError(w, http.StatusConflict, "post already published")
			return
		}
		httpError(w, http.StatusBadGateway, "failed to start publishing", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"postId":  post.ID,
		"status":  "queued",
	})
}
