package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wazero-automation/convo-core/internal/action"
	"github.com/wazero-automation/convo-core/internal/config"
	"github.com/wazero-automation/convo-core/internal/debounce"
	"github.com/wazero-automation/convo-core/internal/distlock"
	"github.com/wazero-automation/convo-core/internal/htl"
	"github.com/wazero-automation/convo-core/internal/ingest"
	"github.com/wazero-automation/convo-core/internal/ingress"
	"github.com/wazero-automation/convo-core/internal/llmtransport"
	"github.com/wazero-automation/convo-core/internal/logging"
	"github.com/wazero-automation/convo-core/internal/observer"
	"github.com/wazero-automation/convo-core/internal/queue"
	"github.com/wazero-automation/convo-core/internal/retrieve"
	"github.com/wazero-automation/convo-core/internal/rpcclient"
	"github.com/wazero-automation/convo-core/internal/rpcserver"
	"github.com/wazero-automation/convo-core/internal/scheduler"
	"github.com/wazero-automation/convo-core/internal/store"
	"github.com/wazero-automation/convo-core/internal/telemetry"
)

const livenessFile = ".waserv.pid"

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "spawn the Queue Consumer, Scheduler, and RPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context())
		},
	}
}

func runStart(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint: cfg.OTLPEndpoint, ServiceName: "waserv", Environment: cfg.Environment,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("waserv_telemetry_shutdown_failed")
		}
	}()

	if err := writeLivenessFile(); err != nil {
		log.Warn().Err(err).Msg("waserv_liveness_file_write_failed")
	}
	defer os.Remove(livenessFile)

	srv, rpcServer, err := buildRPCServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build rpc server: %w", err)
	}
	defer srv.Close()

	httpSrv := &http.Server{Addr: cfg.RPCListenAddr, Handler: telemetry.InstrumentHandler("waserv.rpc", rpcServer)}

	rpc := rpcclient.New(cfg.RPCBaseURL, cfg.InternalSecret)
	deb, err := buildDebounce(cfg, rpc)
	if err != nil {
		return fmt.Errorf("build debounce layer: %w", err)
	}
	sched := scheduler.New(
		durationSeconds(cfg.SchedulerIntervalSeconds), rpc, deb,
	)
	consumer := queue.NewConsumer(cfg.QueueURL, cfg.QueueGroup, cfg.QueueTopic, deb, 4)

	producer := queue.NewProducer(cfg.QueueURL, cfg.QueueTopic)
	defer producer.Close()
	gateway := ingress.NewGateway(cfg.IngressWebhookSecret, producer)
	ingressSrv := &http.Server{Addr: cfg.IngressListenAddr, Handler: telemetry.InstrumentHandler("waserv.ingress", gateway)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.RPCListenAddr).Msg("waserv_rpc_listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("rpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.IngressListenAddr).Msg("waserv_ingress_listening")
		if err := ingressSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ingress server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		_ = ingressSrv.Close()
		return httpSrv.Close()
	})

	return g.Wait()
}

func buildRPCServer(ctx context.Context, cfg config.Config) (*store.Store, http.Handler, error) {
	if err := cfg.RequireForServer(); err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	embedder := llmtransport.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModel)
	engine := retrieve.New(st, embedder)
	ingester := ingest.New(embedder, st)
	sender := rpcserver.NewProviderSender(cfg.ProviderBaseURL, st)

	var notifier rpcserver.Notifier
	if cfg.RedisAddr != "" {
		lock := distlock.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "convo:events")
		notifier = observer.New(lock, cfg.ObserverWebhookURL)
	}

	srv := rpcserver.New(st, engine, ingester, sender, notifier, cfg.InternalSecret)
	return st, srv, nil
}

func buildDebounce(cfg config.Config, rpc *rpcclient.Client) (*debounce.Debounce, error) {
	var llm llmtransport.Client
	if cfg.AnthropicAPIKey != "" {
		llm = llmtransport.NewAnthropicClient(cfg.LLMBaseURL, cfg.AnthropicAPIKey, cfg.AnthropicModel)
	} else {
		llm = llmtransport.NewOpenAICompatClient(cfg.LLMBaseURL, cfg.LLMAPIKey)
	}

	pipeline := htl.New(rpc, llm, cfg.LLMModel)
	applier := action.New(rpc)

	var lock distlock.Lock
	if cfg.RedisAddr != "" {
		lock = distlock.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "convo:events")
	}

	return debounce.New(
		durationSeconds(cfg.DebounceWindowSeconds),
		durationSeconds(cfg.PipelineBudgetSeconds),
		rpc, pipeline, applier, lock,
	), nil
}

func writeLivenessFile() error {
	return os.WriteFile(livenessFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func durationSeconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
