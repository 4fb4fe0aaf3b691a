package lambdaboot

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSM struct {
	params    map[string]string
	requested []string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	name := aws.ToString(in.Name)
	f.requested = append(f.requested, name)
	if !aws.ToBool(in.WithDecryption) {
		return nil, errors.New("secrets must be decrypted")
	}
	v, ok := f.params[name]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func TestLoadSecret(t *testing.T) {
	ctx := context.Background()
	client := &fakeSSM{params: map[string]string{
		"/social-scheduler/prod/jwt-secret": "from-default\n",
		"/custom/path":                      "from-custom",
	}}

	t.Run("env wins", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "from-env")
		if got := LoadSecret(ctx, client, "JWT_SECRET", "SSM_JWT_SECRET_PARAM", "jwt-secret"); got != "from-env" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("default path", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		t.Setenv("SSM_JWT_SECRET_PARAM", "")
		if got := LoadSecret(ctx, client, "JWT_SECRET", "SSM_JWT_SECRET_PARAM", "jwt-secret"); got != "from-default" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("configured path", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		t.Setenv("SSM_JWT_SECRET_PARAM", "/custom/path")
		if got := LoadSecret(ctx, client, "JWT_SECRET", "SSM_JWT_SECRET_PARAM", "jwt-secret"); got != "from-custom" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv("REMOVE_BG_API_KEY", "")
		if got := LoadSecret(ctx, client, "REMOVE_BG_API_KEY", "SSM_REMOVE_BG_PARAM", "remove-bg-api-key"); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})

	t.Run("no client", func(t *testing.T) {
		t.Setenv("CRON_SECRET", "")
		if got := LoadSecret(ctx, nil, "CRON_SECRET", "SSM_CRON_SECRET_PARAM", "cron-secret"); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
}

func TestIntEnv(t *testing.T) {
	t.Setenv("SCHEDULER_BATCH_SIZE", "15")
	if got := IntEnv("SCHEDULER_BATCH_SIZE", 10); got != 15 {
		t.Errorf("got %d, want 15", got)
	}
	t.Setenv("SCHEDULER_BATCH_SIZE", "lots")
	if got := IntEnv("SCHEDULER_BATCH_SIZE", 10); got != 10 {
		t.Errorf("got %d, want default", got)
	}
	t.Setenv("SCHEDULER_BATCH_SIZE", "")
	if got := IntEnv("SCHEDULER_BATCH_SIZE", 10); got != 10 {
		t.Errorf("got %d, want default", got)
	}
}

func TestSchedulerConfigFromEnv(t *testing.T) {
	t.Setenv("SCHEDULER_BATCH_SIZE", "5")
	t.Setenv("SCHEDULER_MAX_ATTEMPTS", "")
	cfg := SchedulerConfig()
	if cfg.BatchSize != 5 || cfg.MaxAttempts != 3 {
		t.Errorf("config = %+v", cfg)
	}
}

func TestSellerFromEnv(t *testing.T) {
	t.Setenv("SELLER_NAME", "")
	t.Setenv("SELLER_EMAIL", "billing@example.com")
	t.Setenv("SELLER_GSTIN", "")
	t.Setenv("SELLER_ADDRESS", "")
	t.Setenv("SELLER_STATE", "Karnataka")

	got := SellerFromEnv()
	if got.Name != "Social Scheduler" || got.Email != "billing@example.com" {
		t.Errorf("SellerFromEnv = %+v", got)
	}
	if len(got.Address) != 1 || got.Address[0] != "Karnataka" {
		t.Errorf("Address = %v, want empty values dropped", got.Address)
	}
}
