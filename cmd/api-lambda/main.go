// Package main is the API Lambda: the internal/api server behind API
// Gateway (HTTP API, payload v2).
//
// Environment:
//
//	TABLE_NAME              DynamoDB single table
//	MEDIA_BUCKET            S3 bucket for the media library
//	EVENT_BUS_NAME          EventBridge bus for payment events (optional)
//	SCHEDULER_FUNCTION_ARN  scheduler Lambda invoked for "publish now"
//	REDIS_URL               rate limiter store (optional)
//	RATE_LIMIT_PER_MINUTE   requests per user and endpoint (default 60)
//	SELLER_*                seller details printed on invoices
//
// Secrets resolve through lambdaboot.LoadSecret (env, then SSM).
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/api"
	"github.com/fpang/social-scheduler/internal/auth"
	"github.com/fpang/social-scheduler/internal/imageai"
	"github.com/fpang/social-scheduler/internal/lambdaboot"
	"github.com/fpang/social-scheduler/internal/logging"
	"github.com/fpang/social-scheduler/internal/media"
	"github.com/fpang/social-scheduler/internal/payments"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/scheduler"
)

var adapter *httpadapter.HandlerAdapterV2

func init() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	clients := lambdaboot.InitAWS()
	s3s := lambdaboot.InitS3(clients.Config, "MEDIA_BUCKET")
	st := lambdaboot.InitDynamo(clients.Config, "TABLE_NAME")
	emitter := lambdaboot.InitEmitter(clients.Config)

	jwtSecret := lambdaboot.MustLoadSecret(ctx, clients.SSM, "JWT_SECRET", "SSM_JWT_SECRET_PARAM", "jwt-secret")
	verifier := auth.NewVerifier(jwtSecret,
		auth.WithIssuer(os.Getenv("JWT_ISSUER")),
		auth.WithAudience(os.Getenv("JWT_AUDIENCE")),
	)

	library := media.NewLibrary(s3s.Client, s3s.Presigner, s3s.Bucket, st)
	graphClient := lambdaboot.NewGraphClient()
	publisher := publish.NewPublisher(graphClient, library)

	deps := api.Deps{
		Store:        st,
		Verifier:     verifier,
		Publisher:    publisher,
		Pages:        graphClient,
		Media:        library,
		CronSecret:   lambdaboot.LoadSecret(ctx, clients.SSM, "CRON_SECRET", "SSM_CRON_SECRET_PARAM", "cron-secret"),
		MetaApp:      lambdaboot.LoadMetaApp(ctx, clients.SSM),
		GraphVersion: os.Getenv("GRAPH_API_VERSION"),
		Seller:       lambdaboot.SellerFromEnv(),
	}

	// The cron route runs the batch in this process; publish-now goes to the
	// scheduler Lambda so the request returns before the Graph API calls.
	sched := scheduler.New(st, publisher, emitter, lambdaboot.SchedulerConfig())
	deps.Scheduler = sched
	schedulerARN := os.Getenv("SCHEDULER_FUNCTION_ARN")
	if schedulerARN != "" {
		deps.Dispatcher = scheduler.NewLambdaDispatcher(lambdasvc.NewFromConfig(clients.Config), schedulerARN)
	} else {
		deps.Dispatcher = scheduler.InlineDispatcher{Scheduler: sched}
	}

	if key := lambdaboot.LoadSecret(ctx, clients.SSM, "GEMINI_API_KEY", "SSM_GEMINI_API_KEY_PARAM", "gemini-api-key"); key != "" {
		client, err := imageai.NewGeminiClient(ctx, key)
		if err != nil {
			log.Error().Err(err).Msg("Gemini disabled")
		} else {
			deps.Captions = imageai.NewCaptionGenerator(client.Models)
			deps.Enhancer = imageai.NewEnhancer(client.Models)
		}
	}
	if key := lambdaboot.LoadSecret(ctx, clients.SSM, "REMOVE_BG_API_KEY", "SSM_REMOVE_BG_PARAM", "remove-bg-api-key"); key != "" {
		deps.RemoveBG = imageai.NewRemoveBG(key)
	}

	keyID := lambdaboot.LoadSecret(ctx, clients.SSM, "RAZORPAY_KEY_ID", "SSM_RAZORPAY_KEY_ID_PARAM", "razorpay-key-id")
	keySecret := lambdaboot.LoadSecret(ctx, clients.SSM, "RAZORPAY_KEY_SECRET", "SSM_RAZORPAY_KEY_SECRET_PARAM", "razorpay-key-secret")
	if keyID != "" && keySecret != "" {
		svc := payments.NewService(st, payments.NewClient(keyID, keySecret), keySecret, emitter)
		svc.SetBusinessState(os.Getenv("SELLER_STATE"))
		deps.Payments = svc
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Error().Err(err).Msg("Invalid REDIS_URL; rate limiting disabled")
		} else {
			deps.Limiter = api.NewRedisLimiter(redis.NewClient(opts), lambdaboot.IntEnv("RATE_LIMIT_PER_MINUTE", 60), time.Minute)
		}
	}

	adapter = httpadapter.NewV2(api.New(deps).Handler())

	lambdaboot.StartupLog("api-lambda", initStart).
		CommitHash(commitHash).
		DynamoTable("main", st.TableName()).
		S3Bucket("media", s3s.Bucket).
		LambdaFunc("scheduler", schedulerARN).
		EventBus("events", os.Getenv("EVENT_BUS_NAME")).
		Feature("captions", deps.Captions != nil).
		Feature("removeBackground", deps.RemoveBG != nil).
		Feature("payments", deps.Payments != nil).
		Feature("rateLimit", deps.Limiter != nil).
		Feature("cron", deps.CronSecret != "").
		Feature("metaLogin", deps.MetaApp.AppID != "").
		Log()
}

func main() {
	lambda.Start(adapter.ProxyWithContext)
}
