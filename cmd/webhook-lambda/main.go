// Package main is the webhook Lambda.
//
//	GET  /webhook/meta      Meta verification handshake
//	POST /webhook/meta      Meta notifications, X-Hub-Signature-256 checked
//	POST /webhook/razorpay  Razorpay events, X-Razorpay-Signature checked
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/fpang/social-scheduler/internal/lambdaboot"
	"github.com/fpang/social-scheduler/internal/logging"
	"github.com/fpang/social-scheduler/internal/payments"
	"github.com/fpang/social-scheduler/internal/webhook"
)

func main() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	clients := lambdaboot.InitAWS()
	st := lambdaboot.InitDynamo(clients.Config, "TABLE_NAME")

	app := lambdaboot.LoadMetaApp(ctx, clients.SSM)
	verifyToken := lambdaboot.MustLoadSecret(ctx, clients.SSM, "META_WEBHOOK_VERIFY_TOKEN", "SSM_META_WEBHOOK_VERIFY_TOKEN_PARAM", "meta-webhook-verify-token")
	razorpaySecret := lambdaboot.LoadSecret(ctx, clients.SSM, "RAZORPAY_WEBHOOK_SECRET", "SSM_RAZORPAY_WEBHOOK_SECRET_PARAM", "razorpay-webhook-secret")

	mux := http.NewServeMux()
	mux.Handle("/webhook/meta", webhook.NewMetaHandler(verifyToken, app.AppSecret, metaEvents(st)))
	if razorpaySecret != "" {
		mux.Handle("POST /webhook/razorpay", payments.NewWebhookHandler(st, razorpaySecret))
	}

	lambdaboot.StartupLog("webhook-lambda", initStart).
		CommitHash(commitHash).
		DynamoTable("main", st.TableName()).
		SSMParam("verifyToken", logging.EnvOrDefault("SSM_META_WEBHOOK_VERIFY_TOKEN_PARAM", lambdaboot.ParamPrefix+"meta-webhook-verify-token")).
		Feature("metaSignature", app.AppSecret != "").
		Feature("razorpay", razorpaySecret != "").
		Log()

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}
