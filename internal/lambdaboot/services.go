package lambdaboot

import (
	"context"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fpang/social-scheduler/internal/billing"
	"github.com/fpang/social-scheduler/internal/events"
	"github.com/fpang/social-scheduler/internal/graph"
	"github.com/fpang/social-scheduler/internal/logging"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/scheduler"
)

// IntEnv reads an integer env var, falling back to def when it is unset or
// not a number.
func IntEnv(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("envVar", name).Str("value", v).Int("default", def).Msg("Ignoring non-numeric setting")
		return def
	}
	return n
}

// InitEmitter returns an EventBridge emitter for EVENT_BUS_NAME, or a no-op
// emitter when no bus is configured.
func InitEmitter(cfg aws.Config) events.Emitter {
	bus := os.Getenv("EVENT_BUS_NAME")
	if bus == "" {
		return events.NopEmitter{}
	}
	return events.NewEventBridgeEmitter(eventbridge.NewFromConfig(cfg), bus)
}

// NewGraphClient creates the Graph API client, paced at
// PUBLISH_RATE_PER_SEC requests per second.
func NewGraphClient() *graph.Client {
	perSec := IntEnv("PUBLISH_RATE_PER_SEC", 2)
	if perSec <= 0 {
		perSec = 2
	}
	return graph.NewClient(
		logging.EnvOrDefault("GRAPH_API_VERSION", graph.DefaultVersion),
		graph.WithLimiter(rate.NewLimiter(rate.Limit(perSec), perSec)),
	)
}

// SchedulerConfig reads the batch settings.
func SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		BatchSize:   IntEnv("SCHEDULER_BATCH_SIZE", scheduler.DefaultBatchSize),
		MaxAttempts: IntEnv("SCHEDULER_MAX_ATTEMPTS", scheduler.DefaultMaxAttempts),
	}
}

// LoadMetaApp resolves the Meta app credentials used for login and webhooks.
func LoadMetaApp(ctx context.Context, client ParameterGetter) publish.MetaApp {
	return publish.MetaApp{
		AppID:       LoadSecret(ctx, client, "META_APP_ID", "SSM_META_APP_ID_PARAM", "meta-app-id"),
		AppSecret:   LoadSecret(ctx, client, "META_APP_SECRET", "SSM_META_APP_SECRET_PARAM", "meta-app-secret"),
		RedirectURI: os.Getenv("META_REDIRECT_URI"),
	}
}

// SellerFromEnv reads the seller block printed on invoices from SELLER_NAME,
// SELLER_EMAIL, SELLER_GSTIN, SELLER_ADDRESS and SELLER_STATE.
func SellerFromEnv() billing.Party {
	var addr []string
	for _, v := range []string{os.Getenv("SELLER_ADDRESS"), os.Getenv("SELLER_STATE")} {
		if v != "" {
			addr = append(addr, v)
		}
	}
	return billing.Party{
		Name:    logging.EnvOrDefault("SELLER_NAME", "Social Scheduler"),
		Email:   os.Getenv("SELLER_EMAIL"),
		GSTIN:   os.Getenv("SELLER_GSTIN"),
		Address: addr,
	}
}
