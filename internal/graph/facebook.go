package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Page is a Facebook Page the token owner manages, with its linked
// Instagram business account when there is one.
type Page struct {
	ID          string
	Name        string
	AccessToken string
	Instagram   *InstagramAccount
}

// InstagramAccount is an Instagram business account.
type InstagramAccount struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

type accountsResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		AccessToken string `json:"access_token"`
	} `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

type pageIGResponse struct {
	ID        string            `json:"id"`
	Instagram *InstagramAccount `json:"instagram_business_account"`
}

// ListPages returns every page the user token can manage. The linked
// Instagram account is looked up per page with that page's token.
func (c *Client) ListPages(ctx context.Context, userToken string) ([]Page, error) {
	params := url.Values{
		"fields":       {"id,name,access_token"},
		"limit":        {"100"},
		"access_token": {userToken},
	}

	var pages []Page
	var resp accountsResponse
	if err := c.get(ctx, "/me/accounts", params, &resp); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for {
		for _, d := range resp.Data {
			pages = append(pages, Page{ID: d.ID, Name: d.Name, AccessToken: d.AccessToken})
		}
		if resp.Paging.Next == "" {
			break
		}
		next := resp.Paging.Next
		resp = accountsResponse{}
		if err := c.getURL(ctx, next, "/me/accounts", &resp); err != nil {
			return nil, fmt.Errorf("list pages: %w", err)
		}
	}

	for i := range pages {
		ig, err := c.pageInstagram(ctx, pages[i].ID, pages[i].AccessToken)
		if err != nil {
			// A page without Instagram access still publishes to Facebook.
			log.Warn().Err(err).Str("pageId", pages[i].ID).Msg("Instagram account lookup failed")
			continue
		}
		pages[i].Instagram = ig
	}
	log.Info().Int("pages", len(pages)).Msg("Facebook pages listed")
	return pages, nil
}

func (c *Client) pageInstagram(ctx context.Context, pageID, token string) (*InstagramAccount, error) {
	params := url.Values{
		"fields":       {"instagram_business_account{id,username}"},
		"access_token": {token},
	}
	var resp pageIGResponse
	if err := c.get(ctx, "/"+pageID, params, &resp); err != nil {
		return nil, err
	}
	return resp.Instagram, nil
}

// PublishPhoto posts a photo from a public URL to the page feed and returns
// the feed post ID.
func (c *Client) PublishPhoto(ctx context.Context, pageID, token, photoURL, message string) (string, error) {
	params := url.Values{
		"url":          {photoURL},
		"access_token": {token},
	}
	if message != "" {
		params.Set("caption", message)
	}
	var resp idResponse
	if err := c.post(ctx, "/"+pageID+"/photos", params, &resp); err != nil {
		return "", fmt.Errorf("publish photo: %w", err)
	}
	id := resp.PostID
	if id == "" {
		id = resp.ID
	}
	if id == "" {
		return "", fmt.Errorf("publish photo: no id returned")
	}
	log.Info().Str("pageId", pageID).Str("postId", id).Msg("Facebook photo published")
	return id, nil
}

// PublishVideo posts a video from a public URL to the page.
func (c *Client) PublishVideo(ctx context.Context, pageID, token, videoURL, description string) (string, error) {
	params := url.Values{
		"file_url":     {videoURL},
		"access_token": {token},
	}
	if description != "" {
		params.Set("description", description)
	}
	var resp idResponse
	if err := c.post(ctx, "/"+pageID+"/videos", params, &resp); err != nil {
		return "", fmt.Errorf("publish video: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("publish video: no id returned")
	}
	log.Info().Str("pageId", pageID).Str("videoId", resp.ID).Msg("Facebook video published")
	return resp.ID, nil
}

// PublishText posts a text-only status to the page feed.
func (c *Client) PublishText(ctx context.Context, pageID, token, message string) (string, error) {
	params := url.Values{
		"message":      {message},
		"access_token": {token},
	}
	var resp idResponse
	if err := c.post(ctx, "/"+pageID+"/feed", params, &resp); err != nil {
		return "", fmt.Errorf("publish text: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("publish text: no id returned")
	}
	log.Info().Str("pageId", pageID).Str("postId", resp.ID).Msg("Facebook text post published")
	return resp.ID, nil
}

// UploadUnpublishedPhoto uploads a photo without creating a feed story. The
// returned ID is attached to a later multi-photo post.
func (c *Client) UploadUnpublishedPhoto(ctx context.Context, pageID, token, photoURL string) (string, error) {
	params := url.Values{
		"url":          {photoURL},
		"published":    {"false"},
		"access_token": {token},
	}
	var resp idResponse
	if err := c.post(ctx, "/"+pageID+"/photos", params, &resp); err != nil {
		return "", fmt.Errorf("upload unpublished photo: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("upload unpublished photo: no id returned")
	}
	return resp.ID, nil
}

// PublishMultiPhoto creates one feed post with the given unpublished photos attached.
func (c *Client) PublishMultiPhoto(ctx context.Context, pageID, token string, mediaIDs []string, message string) (string, error) {
	if len(mediaIDs) == 0 {
		return "", fmt.Errorf("multi-photo post requires at least one photo")
	}
	if len(mediaIDs) > MaxCarouselItems {
		return "", fmt.Errorf("multi-photo post supports at most %d photos, got %d", MaxCarouselItems, len(mediaIDs))
	}
	params := url.Values{"access_token": {token}}
	if message != "" {
		params.Set("message", message)
	}
	for i, id := range mediaIDs {
		attached, err := json.Marshal(map[string]string{"media_fbid": id})
		if err != nil {
			return "", err
		}
		params.Set("attached_media["+strconv.Itoa(i)+"]", string(attached))
	}

	var resp idResponse
	if err := c.post(ctx, "/"+pageID+"/feed", params, &resp); err != nil {
		return "", fmt.Errorf("publish multi-photo post: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("publish multi-photo post: no id returned")
	}
	log.Info().Str("pageId", pageID).Str("postId", resp.ID).Int("photos", len(mediaIDs)).Msg("Facebook multi-photo post published")
	return resp.ID, nil
}
