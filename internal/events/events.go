// Package events publishes domain events (post outcomes, verified payments)
// to EventBridge.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// Source is the EventBridge source of every event this service emits.
const Source = "social-scheduler"

// Detail types.
const (
	PostPublished   = "post.posted"
	PostPartial     = "post.partial"
	PostFailed      = "post.failed"
	PaymentVerified = "payment.verified"
)

// PostOutcome is the detail of a post.* event.
type PostOutcome struct {
	PostID      string            `json:"postId"`
	UserID      string            `json:"userId"`
	Status      string            `json:"status"`
	Platform    string            `json:"platform"`
	MetaPostIDs map[string]string `json:"metaPostIds,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
	Attempt     int               `json:"attempt"`
	At          time.Time         `json:"at"`
}

// DetailType returns the detail type for a post status.
func (p PostOutcome) DetailType() string {
	return "post." + p.Status
}

// PaymentOutcome is the detail of a payment.verified event.
type PaymentOutcome struct {
	OrderID   string    `json:"orderId"`
	PaymentID string    `json:"paymentId"`
	UserID    string    `json:"userId"`
	PlanID    string    `json:"planId"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	InvoiceID string    `json:"invoiceId"`
	At        time.Time `json:"at"`
}

// Emitter publishes one event.
type Emitter interface {
	Emit(ctx context.Context, detailType string, detail interface{}) error
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, string, interface{}) error { return nil }

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeEmitter puts events on a bus. An empty bus name targets the
// account's default bus.
type EventBridgeEmitter struct {
	client  EventBridgeAPI
	busName string
}

// NewEventBridgeEmitter creates an emitter for busName.
func NewEventBridgeEmitter(client EventBridgeAPI, busName string) *EventBridgeEmitter {
	return &EventBridgeEmitter{client: client, busName: busName}
}

func (e *EventBridgeEmitter) Emit(ctx context.Context, detailType string, detail interface{}) error {
	body, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", detailType, err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(detailType),
		Detail:     aws.String(string(body)),
	}
	if e.busName != "" {
		entry.EventBusName = aws.String(e.busName)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("detailType", detailType).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}
	if result.FailedEntryCount > 0 {
		for i, ent := range result.Entries {
			if ent.ErrorCode != nil || ent.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(ent.ErrorCode)).
					Str("errorMessage", aws.ToString(ent.ErrorMessage)).
					Str("detailType", detailType).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(ent.ErrorCode), aws.ToString(ent.ErrorMessage))
			}
		}
	}

	log.Debug().Str("detailType", detailType).Msg("Event emitted to EventBridge")
	return nil
}
