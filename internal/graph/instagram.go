package graph

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Container processing states reported by status_code.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusFinished   = "FINISHED"
	StatusError      = "ERROR"
)

// CreateImageContainer creates an image container for an Instagram business
// account. Carousel children carry no caption.
func (c *Client) CreateImageContainer(ctx context.Context, igUserID, token, imageURL, caption string, carouselItem bool) (string, error) {
	params := url.Values{
		"image_url":    {imageURL},
		"access_token": {token},
	}
	if carouselItem {
		params.Set("is_carousel_item", "true")
	} else if caption != "" {
		params.Set("caption", caption)
	}

	var resp idResponse
	if err := c.post(ctx, "/"+igUserID+"/media", params, &resp); err != nil {
		return "", fmt.Errorf("create image container: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create image container: no id returned")
	}
	log.Info().Str("containerId", resp.ID).Str("type", "image").Bool("carouselItem", carouselItem).Msg("Instagram container created")
	return resp.ID, nil
}

// CreateVideoContainer creates a video container. Carousel children use
// media_type VIDEO; a standalone video is published as a reel.
func (c *Client) CreateVideoContainer(ctx context.Context, igUserID, token, videoURL, caption string, carouselItem bool) (string, error) {
	params := url.Values{
		"video_url":    {videoURL},
		"access_token": {token},
	}
	if carouselItem {
		params.Set("is_carousel_item", "true")
		params.Set("media_type", "VIDEO")
	} else {
		params.Set("media_type", "REELS")
		if caption != "" {
			params.Set("caption", caption)
		}
	}

	var resp idResponse
	if err := c.post(ctx, "/"+igUserID+"/media", params, &resp); err != nil {
		return "", fmt.Errorf("create video container: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create video container: no id returned")
	}
	log.Info().Str("containerId", resp.ID).Str("type", "video").Bool("carouselItem", carouselItem).Msg("Instagram container created")
	return resp.ID, nil
}

// CreateCarouselContainer assembles 2..MaxCarouselItems child containers into
// one carousel. The caption is attached here, not to the children.
func (c *Client) CreateCarouselContainer(ctx context.Context, igUserID, token string, children []string, caption string) (string, error) {
	if len(children) < 2 {
		return "", fmt.Errorf("carousel requires at least 2 items, got %d", len(children))
	}
	if len(children) > MaxCarouselItems {
		return "", fmt.Errorf("carousel supports at most %d items, got %d", MaxCarouselItems, len(children))
	}

	params := url.Values{
		"media_type":   {"CAROUSEL"},
		"children":     {strings.Join(children, ",")},
		"access_token": {token},
	}
	if caption != "" {
		params.Set("caption", caption)
	}

	var resp idResponse
	if err := c.post(ctx, "/"+igUserID+"/media", params, &resp); err != nil {
		return "", fmt.Errorf("create carousel container: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create carousel container: no id returned")
	}
	log.Info().Str("containerId", resp.ID).Int("children", len(children)).Msg("Instagram carousel container created")
	return resp.ID, nil
}

// Publish publishes a container and returns the Instagram media ID.
func (c *Client) Publish(ctx context.Context, igUserID, token, creationID string) (string, error) {
	params := url.Values{
		"creation_id":  {creationID},
		"access_token": {token},
	}
	var resp idResponse
	if err := c.post(ctx, "/"+igUserID+"/media_publish", params, &resp); err != nil {
		return "", fmt.Errorf("publish container %s: %w", creationID, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("publish container %s: no id returned", creationID)
	}
	log.Info().Str("containerId", creationID).Str("mediaId", resp.ID).Msg("Instagram container published")
	return resp.ID, nil
}

type containerStatusResponse struct {
	ID         string `json:"id"`
	StatusCode string `json:"status_code"`
	Status     string `json:"status,omitempty"`
}

// ContainerStatus returns IN_PROGRESS, FINISHED or ERROR for a container.
func (c *Client) ContainerStatus(ctx context.Context, containerID, token string) (string, error) {
	params := url.Values{
		"fields":       {"status_code,status"},
		"access_token": {token},
	}
	var resp containerStatusResponse
	if err := c.get(ctx, "/"+containerID, params, &resp); err != nil {
		return "", fmt.Errorf("container status %s: %w", containerID, err)
	}
	return resp.StatusCode, nil
}

// WaitForContainer polls until the container is FINISHED. ERROR and the
// timeout are terminal; transient poll failures are retried.
func (c *Client) WaitForContainer(ctx context.Context, containerID, token string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	deadline := time.Now().Add(timeout)
	interval := c.pollInterval

	for {
		status, err := c.ContainerStatus(ctx, containerID, token)
		if err != nil {
			if KindOf(err) == KindInvalidToken {
				return err
			}
			log.Warn().Err(err).Str("containerId", containerID).Msg("Container status poll error, retrying")
		} else {
			switch status {
			case StatusFinished:
				log.Debug().Str("containerId", containerID).Msg("Container processing finished")
				return nil
			case StatusError:
				return fmt.Errorf("container %s: processing failed", containerID)
			case StatusInProgress:
				log.Debug().Str("containerId", containerID).Dur("nextPoll", interval).Msg("Container still processing")
			default:
				log.Warn().Str("containerId", containerID).Str("status", status).Msg("Unknown container status")
			}
		}

		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("container %s: timed out after %s waiting for processing", containerID, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval *= 2
		if interval > c.maxPollInterval {
			interval = c.maxPollInterval
		}
	}
}
