package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/social-scheduler/internal/api"
	"github.com/fpang/social-scheduler/internal/cli"
	"github.com/fpang/social-scheduler/internal/events"
	"github.com/fpang/social-scheduler/internal/graph"
	"github.com/fpang/social-scheduler/internal/lambdaboot"
	"github.com/fpang/social-scheduler/internal/media"
	"github.com/fpang/social-scheduler/internal/publish"
	"github.com/fpang/social-scheduler/internal/scheduler"
	"github.com/fpang/social-scheduler/internal/store"
)

// stack is the scheduler with the services it publishes through.
type stack struct {
	store     store.Store
	graph     *graph.Client
	library   *media.Library
	publisher *publish.Publisher
	scheduler *scheduler.Scheduler
}

// buildStack wires the scheduler. MEDIA_BUCKET enables library keys in
// posts and EVENT_BUS_NAME enables EventBridge events; both need AWS
// credentials.
func buildStack(ctx context.Context, st store.Store) (*stack, error) {
	s := &stack{store: st, graph: lambdaboot.NewGraphClient()}
	var emitter events.Emitter = events.NopEmitter{}
	var resolver publish.URLResolver

	bucket := os.Getenv("MEDIA_BUCKET")
	if bucket != "" || os.Getenv("EVENT_BUS_NAME") != "" {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		emitter = lambdaboot.InitEmitter(cfg)
		if bucket != "" {
			client := s3.NewFromConfig(cfg)
			s.library = media.NewLibrary(client, s3.NewPresignClient(client), bucket, st)
			resolver = s.library
		}
	}

	s.publisher = publish.NewPublisher(s.graph, resolver)
	s.scheduler = scheduler.New(st, s.publisher, emitter, lambdaboot.SchedulerConfig())
	return s, nil
}

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one scheduling pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx, a.table)
			if err != nil {
				return err
			}
			s, err := buildStack(ctx, st)
			if err != nil {
				return err
			}
			res, err := s.scheduler.RunBatch(ctx)
			if err != nil {
				return err
			}
			cli.WriteBatchResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var addr, spec string
	var noAPI bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler on a cron schedule, with the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := a.openStore(ctx, a.table)
			if err != nil {
				return err
			}
			s, err := buildStack(ctx, st)
			if err != nil {
				return err
			}

			loop := scheduler.NewLoop(s.scheduler, spec)
			if err := loop.Start(); err != nil {
				return err
			}
			defer loop.Stop()

			if noAPI {
				<-ctx.Done()
				return nil
			}
			handler, err := s.apiHandler()
			if err != nil {
				return err
			}
			return serveHTTP(ctx, addr, handler)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&spec, "cron", scheduler.DefaultSpec, "Batch schedule (cron expression or @every duration)")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Run only the scheduler loop")
	return cmd
}

// apiHandler builds the API with publish-now dispatched in-process.
func (s *stack) apiHandler() (http.Handler, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required to serve the API (or pass --no-api)")
	}
	deps := api.Deps{
		Store:        s.store,
		Verifier:     newVerifier(secret),
		Scheduler:    s.scheduler,
		Dispatcher:   scheduler.InlineDispatcher{Scheduler: s.scheduler},
		Publisher:    s.publisher,
		Pages:        s.graph,
		CronSecret:   os.Getenv("CRON_SECRET"),
		MetaApp:      publish.MetaApp{AppID: os.Getenv("META_APP_ID"), AppSecret: os.Getenv("META_APP_SECRET"), RedirectURI: os.Getenv("META_REDIRECT_URI")},
		GraphVersion: os.Getenv("GRAPH_API_VERSION"),
		Seller:       lambdaboot.SellerFromEnv(),
	}
	if s.library != nil {
		deps.Media = s.library
	}
	return api.New(deps).Handler(), nil
}

func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("API stopped")
	return nil
}
