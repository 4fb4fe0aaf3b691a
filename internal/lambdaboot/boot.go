// Package lambdaboot holds the cold-start wiring shared by every Lambda:
// AWS config, S3, DynamoDB, SSM secrets and the startup log line. Each
// Lambda's init() is a short composition of these helpers.
package lambdaboot

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/logging"
	"github.com/fpang/social-scheduler/internal/store"
)

// ParamPrefix is where secrets live in Parameter Store when no path is configured.
const ParamPrefix = "/social-scheduler/prod/"

// AWSClients holds the core AWS SDK clients used across Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// S3Clients holds S3 client, presigner, and bucket name.
type S3Clients struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Bucket    string
}

// InitAWS loads the default AWS config. Fatals on error.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client and presigner for the bucket named by
// bucketEnvVar. Fatals if the env var is empty.
func InitS3(cfg aws.Config, bucketEnvVar string) S3Clients {
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	client := s3.NewFromConfig(cfg)
	return S3Clients{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Bucket:    bucket,
	}
}

// InitDynamo creates the DynamoDB store for the table named by tableEnvVar.
// Fatals if the env var is empty.
func InitDynamo(cfg aws.Config, tableEnvVar string) *store.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Fatal().Str("envVar", tableEnvVar).Msg("DynamoDB table environment variable is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// ParameterGetter is the subset of the SSM client used to read secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSecret resolves a secret. envVar wins when set; otherwise the SSM
// parameter named by paramEnvVar is read, or ParamPrefix+name when that is
// unset too. Returns "" (with a warning) when the parameter cannot be read.
func LoadSecret(ctx context.Context, client ParameterGetter, envVar, paramEnvVar, name string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	param := logging.EnvOrDefault(paramEnvVar, ParamPrefix+name)
	if client == nil {
		log.Warn().Str("param", param).Msg("No SSM client; secret not loaded")
		return ""
	}
	start := time.Now()
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil || out.Parameter == nil {
		log.Warn().Err(err).Str("param", param).Msg("Secret not found in SSM")
		return ""
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return strings.TrimSpace(aws.ToString(out.Parameter.Value))
}

// MustLoadSecret is LoadSecret that fatals when the secret is empty.
func MustLoadSecret(ctx context.Context, client ParameterGetter, envVar, paramEnvVar, name string) string {
	v := LoadSecret(ctx, client, envVar, paramEnvVar, name)
	if v == "" {
		log.Fatal().Str("envVar", envVar).Str("name", name).Msg("Required secret is not configured")
	}
	return v
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
