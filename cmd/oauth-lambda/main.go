// Package main is the Meta OAuth callback Lambda.
//
//	GET /oauth/callback?code=...&state=...  connect the account named by state
//	GET /oauth/callback?error=...           the user declined
//
// Either way the browser is redirected to APP_URL/settings?meta=<outcome>.
package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/fpang/social-scheduler/internal/auth"
	"github.com/fpang/social-scheduler/internal/lambdaboot"
	"github.com/fpang/social-scheduler/internal/logging"
)

func main() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	clients := lambdaboot.InitAWS()
	st := lambdaboot.InitDynamo(clients.Config, "TABLE_NAME")
	app := lambdaboot.LoadMetaApp(ctx, clients.SSM)
	jwtSecret := lambdaboot.MustLoadSecret(ctx, clients.SSM, "JWT_SECRET", "SSM_JWT_SECRET_PARAM", "jwt-secret")

	cb := &callback{
		states: auth.NewVerifier(jwtSecret,
			auth.WithIssuer(os.Getenv("JWT_ISSUER")),
			auth.WithAudience(os.Getenv("JWT_AUDIENCE")),
		),
		api:    lambdaboot.NewGraphClient(),
		app:    app,
		store:  st,
		appURL: strings.TrimRight(logging.EnvOrDefault("APP_URL", "http://localhost:3000"), "/"),
		now:    time.Now,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /oauth/callback", cb)

	lambdaboot.StartupLog("oauth-lambda", initStart).
		CommitHash(commitHash).
		DynamoTable("main", st.TableName()).
		SSMParam("metaAppId", logging.EnvOrDefault("SSM_META_APP_ID_PARAM", lambdaboot.ParamPrefix+"meta-app-id")).
		Config("appUrl", cb.appURL).
		Config("redirectUri", app.RedirectURI).
		Log()

	adapter := httpadapter.NewV2(mux)
	lambda.Start(adapter.ProxyWithContext)
}
