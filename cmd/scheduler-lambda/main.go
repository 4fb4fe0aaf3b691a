// Package main is the scheduler Lambda. It is triggered three ways:
//
//   - an EventBridge schedule (every minute): one batch run;
//   - {"type":"run-batch"}: a manual batch run;
//   - {"type":"publish-post","userId","postId"}: the async half of
//     "publish now", invoked by the API Lambda.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/lambdaboot"
	"github.com/fpang/social-scheduler/internal/logging"
	"github.com/fpang/social-scheduler/internal/media"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/scheduler"
)

var coldStart = true

var sched *scheduler.Scheduler

// setup wires the scheduler at cold start.
func setup() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	st := lambdaboot.InitDynamo(clients.Config, "TABLE_NAME")
	s3s := lambdaboot.InitS3(clients.Config, "MEDIA_BUCKET")
	library := media.NewLibrary(s3s.Client, s3s.Presigner, s3s.Bucket, st)

	publisher := publish.NewPublisher(lambdaboot.NewGraphClient(), library)
	cfg := lambdaboot.SchedulerConfig()
	sched = scheduler.New(st, publisher, lambdaboot.InitEmitter(clients.Config), cfg)

	lambdaboot.StartupLog("scheduler-lambda", initStart).
		CommitHash(commitHash).
		DynamoTable("main", st.TableName()).
		S3Bucket("media", s3s.Bucket).
		EventBus("events", os.Getenv("EVENT_BUS_NAME")).
		Config("batchSize", fmt.Sprint(sched.Config().BatchSize)).
		Config("maxAttempts", fmt.Sprint(sched.Config().MaxAttempts)).
		Log()
}

func main() {
	setup()
	lambda.Start(handler)
}

func handler(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "scheduler-lambda").Msg("Cold start")
	}
	return route(ctx, sched, raw)
}

// route tells an EventBridge schedule tick from a direct Command.
func route(ctx context.Context, s *scheduler.Scheduler, raw json.RawMessage) (interface{}, error) {
	var tick events.CloudWatchEvent
	if err := json.Unmarshal(raw, &tick); err == nil && tick.Source == "aws.events" {
		log.Debug().Str("rule", strings.Join(tick.Resources, ",")).Msg("Scheduled batch run")
		return s.RunBatch(ctx)
	}

	var cmd scheduler.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch cmd.Type {
	case scheduler.EventPublishPost:
		if cmd.UserID == "" || cmd.PostID == "" {
			return nil, fmt.Errorf("publish-post requires userId and postId")
		}
		log.Info().Str("postId", cmd.PostID).Str("userId", cmd.UserID).Msg("Publish-now invocation")
		return s.PublishNow(ctx, cmd.UserID, cmd.PostID)
	case scheduler.EventRunBatch:
		return s.RunBatch(ctx)
	default:
		return nil, fmt.Errorf("unknown event type %q", cmd.Type)
	}
}
