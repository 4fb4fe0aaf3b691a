package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/graph"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/store"
)

const errMetaExpired = "Meta session expired, reconnect your account"

// loginStateTTL bounds how long the login dialog may stay open.
const loginStateTTL = 15 * time.Minute

type metaPostRequest struct {
	Caption        string   `json:"caption" validate:"required,max=2200"`
	Hashtags       []string `json:"hashtags" validate:"max=30"`
	MediaURL       string   `json:"mediaUrl"`
	MediaURLs      []string `json:"mediaUrls"`
	Platform       string   `json:"platform" validate:"required,oneof=instagram facebook both"`
	SelectedPageID string   `json:"selectedPageId" validate:"required"`
	PostID         string   `json:"postId"`
}

type metaPostResponse struct {
	Success bool              `json:"success"`
	Status  string            `json:"status"`
	PostIDs map[string]string `json:"postIds"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// metaCredentials returns the caller's connected account, writing a 400 when
// there is none.
func (s *Server) metaCredentials(w http.ResponseWriter, r *http.Request) *store.MetaCredentials {
	profile, err := s.Store.GetProfile(r.Context(), userID(r))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to load profile", err.Error())
		return nil
	}
	if profile == nil || profile.Meta == nil || profile.Meta.AccessToken == "" {
		httpError(w, http.StatusBadRequest, "Meta account not connected")
		return nil
	}
	return profile.Meta
}

// handleMetaPost publishes immediately and waits for the result. With a
// postId the stored post records the outcome.
func (s *Server) handleMetaPost(w http.ResponseWriter, r *http.Request) {
	if s.Publisher == nil {
		unavailable(w, "publishing")
		return
	}
	var req metaPostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	uid := userID(r)
	refs := mediaRefs(req.MediaURL, req.MediaURLs)
	if err := checkMedia(uid, refs); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	creds := s.metaCredentials(w, r)
	if creds == nil {
		return
	}
	if _, ok := creds.FindPage(req.SelectedPageID); !ok {
		httpError(w, http.StatusBadRequest, "selected page is not connected")
		return
	}

	var stored *store.Post
	if req.PostID != "" {
		p, err := s.Store.GetPost(r.Context(), uid, req.PostID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to load post", err.Error())
			return
		}
		if p == nil {
			httpError(w, http.StatusNotFound, "post not found")
			return
		}
		switch p.Status {
		case store.PostPosted, store.PostPartial, store.PostPublishing:
			httpError(w, http.StatusConflict, "post already published")
			return
		}
		// Claim the post before any Graph call so the scheduler skips it.
		claim := store.PostUpdate{Status: store.PostPublishing, IfStatus: store.UnpublishedStatuses}
		if err := s.Store.UpdatePostStatus(r.Context(), uid, p.ID, claim); err != nil {
			switch {
			case errors.Is(err, store.ErrConflict):
				httpError(w, http.StatusConflict, "post is already being published")
			case errors.Is(err, store.ErrNotFound):
				httpError(w, http.StatusNotFound, "post not found")
			default:
				httpError(w, http.StatusInternalServerError, "failed to claim post", err.Error())
			}
			return
		}
		stored = p
	}

	post := &store.Post{
		ID:        req.PostID,
		UserID:    uid,
		Caption:   strings.TrimSpace(req.Caption),
		Hashtags:  normalizeHashtags(req.Hashtags),
		MediaURLs: refs,
		Platform:  req.Platform,
		PageID:    req.SelectedPageID,
	}
	result := s.Publisher.Publish(r.Context(), post, creds)

	if stored != nil {
		upd := store.PostUpdate{
			Status:            result.Status,
			MetaPostIDs:       result.PostIDs(),
			MetaErrors:        result.Errors(),
			IncrementAttempts: true,
		}
		if result.Status != store.PostFailed {
			at := s.Now().UTC()
			upd.PublishedAt = &at
		}
		if err := s.Store.UpdatePostStatus(r.Context(), uid, stored.ID, upd); err != nil {
			log.Error().Err(err).Str("postId", stored.ID).Msg("Failed to record publish outcome on post")
		}
	}

	if result.Status == store.PostFailed {
		if graph.KindOf(result.Err()) == graph.KindInvalidToken {
			httpError(w, http.StatusBadRequest, errMetaExpired, errorText(result))
			return
		}
		httpError(w, http.StatusBadGateway, "publish failed: "+errorText(result))
		return
	}
	respondJSON(w, http.StatusOK, metaPostResponse{
		Success: true,
		Status:  result.Status,
		PostIDs: result.PostIDs(),
		Errors:  result.Errors(),
	})
}

func errorText(res publish.Result) string {
	if err := res.Err(); err != nil {
		return err.Error()
	}
	return "unknown error"
}

// handleMetaLoginURL returns the Facebook login dialog. The state parameter
// is a short-lived token naming the caller, which the OAuth callback checks.
func (s *Server) handleMetaLoginURL(w http.ResponseWriter, r *http.Request) {
	if s.MetaApp.AppID == "" || s.MetaApp.RedirectURI == "" {
		unavailable(w, "Meta login")
		return
	}
	state, err := s.Verifier.IssueState(userID(r), loginStateTTL)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to start Meta login", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"url": publish.LoginURL(s.MetaApp, s.GraphVersion, state),
	})
}

// handleMetaPages lists the connected pages. ?refresh=1 re-reads them from
// the Graph API and stores the result.
func (s *Server) handleMetaPages(w http.ResponseWriter, r *http.Request) {
	creds := s.metaCredentials(w, r)
	if creds == nil {
		return
	}
	if r.URL.Query().Get("refresh") == "1" {
		if s.Pages == nil {
			unavailable(w, "Meta integration")
			return
		}
		refreshed, err := publish.RefreshPages(r.Context(), s.Pages, creds)
		if err != nil {
			if graph.KindOf(err) == graph.KindInvalidToken {
				httpError(w, http.StatusBadRequest, errMetaExpired, err.Error())
				return
			}
			httpError(w, http.StatusBadGateway, "failed to refresh pages", err.Error())
			return
		}
		if err := s.Store.SetMetaCredentials(r.Context(), userID(r), refreshed); err != nil {
			httpError(w, http.StatusInternalServerError, "failed to save pages", err.Error())
			return
		}
		creds = refreshed
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connected":   true,
		"metaUserId":  creds.UserID,
		"pages":       creds.Pages,
		"expiresAt":   creds.ExpiresAt,
		"connectedAt": creds.ConnectedAt,
	})
}

func (s *Server) handleMetaDisconnect(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	err := s.Store.SetMetaCredentials(r.Context(), uid, nil)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusInternalServerError, "failed to disconnect", err.Error())
		return
	}
	log.Info().Str("userId", uid).Msg("Meta account disconnected")
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
