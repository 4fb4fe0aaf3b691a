package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"
)

// Event types accepted by the scheduler lambda.
const (
	EventPublishPost = "publish-post"
	EventRunBatch    = "run-batch"
)

// Command is the payload of a direct scheduler lambda invocation.
type Command struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
	PostID string `json:"postId,omitempty"`
}

// Dispatcher hands a "publish now" request to whatever runs the scheduler.
type Dispatcher interface {
	DispatchPublish(ctx context.Context, userID, postID string) error
}

// LambdaInvoker is the subset of the Lambda client used for dispatch.
type LambdaInvoker interface {
	Invoke(ctx context.Context, in *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error)
}

// LambdaDispatcher invokes the scheduler lambda asynchronously so the API
// returns without waiting for the Graph API.
type LambdaDispatcher struct {
	client      LambdaInvoker
	functionARN string
}

// NewLambdaDispatcher creates a dispatcher for the scheduler function.
func NewLambdaDispatcher(client LambdaInvoker, functionARN string) *LambdaDispatcher {
	return &LambdaDispatcher{client: client, functionARN: functionARN}
}

func (d *LambdaDispatcher) DispatchPublish(ctx context.Context, userID, postID string) error {
	if d.client == nil || d.functionARN == "" {
		return fmt.Errorf("scheduler lambda not configured")
	}
	payload, err := json.Marshal(Command{Type: EventPublishPost, UserID: userID, PostID: postID})
	if err != nil {
		return fmt.Errorf("marshal publish command: %w", err)
	}

	_, err = d.client.Invoke(ctx, &lambdasvc.InvokeInput{
		FunctionName:   aws.String(d.functionARN),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		log.Error().Err(err).Str("postId", postID).Msg("Failed to invoke scheduler lambda")
		return fmt.Errorf("invoke scheduler lambda: %w", err)
	}
	log.Debug().Str("postId", postID).Str("userId", userID).Msg("Scheduler lambda invoked asynchronously")
	return nil
}

// InlineDispatcher publishes in the calling process. Used by the CLI server
// and in tests.
type InlineDispatcher struct {
	Scheduler *Scheduler
}

func (d InlineDispatcher) DispatchPublish(ctx context.Context, userID, postID string) error {
	_, err := d.Scheduler.PublishNow(ctx, userID, postID)
	return err
}
