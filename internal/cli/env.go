package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/store"
)

// LoadEnv loads KEY=value files into the environment without overriding
// variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	for _, f := range files {
		err := godotenv.Load(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		log.Debug().Str("file", f).Msg("Loaded environment file")
	}
	return nil
}

// OpenStore returns the DynamoDB store for table, or an in-memory store when
// table is empty.
func OpenStore(ctx context.Context, table string) (store.Store, error) {
	if table == "" {
		log.Warn().Msg("No table configured; using an in-memory store")
		return store.NewMemoryStore(), nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("region", cfg.Region).Str("table", table).Msg("Using DynamoDB store")
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table), nil
}

// TableFromEnv returns TABLE_NAME.
func TableFromEnv() string { return os.Getenv("TABLE_NAME") }
