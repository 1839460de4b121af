package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/meeting-service/config"
	"github.com/cwrk-planet/meeting-service/internal/postgres"
	"github.com/cwrk-planet/meeting-service/internal/registry"
	"github.com/cwrk-planet/meeting-service/internal/security"
	"github.com/cwrk-planet/meeting-service/internal/service"
	"github.com/cwrk-planet/meeting-service/internal/signaling"
	"github.com/cwrk-planet/meeting-service/internal/storage/memory"
	grpcx "github.com/cwrk-planet/meeting-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/meeting-service/internal/transport/http"
	"github.com/cwrk-planet/meeting-service/internal/transport/ws"
	"github.com/cwrk-planet/meeting-service/pkg/logger"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	fs := pflag.NewFlagSet("meetingd", pflag.ContinueOnError)
	var (
		configPath = fs.StringP("config", "c", "", "path to config.yaml (default $CONFIG_PATH or ./config/config.yaml)")
		showVer    = fs.BoolP("version", "v", false, "print version and exit")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("parse flags: %v", err)
	}
	if *showVer {
		fmt.Println(version)
		return
	}

	// --- config ---
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting meeting-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "build", version)

	if err := run(cfg); err != nil {
		slog.Error("meeting-service stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// spans only feed trace ids into log records; no exporter is configured
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// --- reservations ---
	var store service.ReservationStore = memory.NewReservations()
	if cfg.Postgres.DSN != "" {
		db, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime: cfg.Postgres.MaxConnIdleTime,
			ApplicationName: cfg.Postgres.ApplicationName,
		})
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
		store = postgres.NewReservationRepository(db.Pool)
		slog.Info("reservations in postgres")
	} else {
		slog.Info("reservations in memory")
	}

	// --- signaling core ---
	policy, err := registry.ParseHostPolicy(cfg.Signaling.HostPolicy)
	if err != nil {
		return err
	}
	reg := registry.New(registry.NewMemoryStore(), registry.WithHostPolicy(policy))
	meetings := service.NewMeetingService(store, reg, service.MeetingConfig{
		PublicURL:      cfg.Meeting.PublicURL,
		ReservationTTL: cfg.Meeting.ReservationTTL,
	})
	engine := signaling.NewEngine(signaling.Config{
		InboxSize:        cfg.Signaling.InboxSize,
		RequireAdmission: cfg.Signaling.RequireAdmission,
		SweepEvery:       cfg.Signaling.SweepEvery,
	}, signaling.Deps{
		Registry:     reg,
		Hub:          signaling.NewHub(),
		Admission:    signaling.NewAdmission(cfg.Signaling.PendingTTL, nil),
		Reservations: meetings,
		Chat:         service.NewChatService(cfg.Signaling.ChatMaxLength),
		Logger:       slog.Default().With("component", "signaling"),
	})

	wsServer := ws.NewServer(engine, ws.Options{
		SendBuffer:      cfg.Signaling.SendBuffer,
		PingEvery:       cfg.Signaling.PingEvery,
		WriteWait:       cfg.Signaling.WriteWait,
		MaxMessageBytes: cfg.Signaling.MaxMessageBytes,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
	})

	// --- HTTP ---
	verifier, err := security.NewVerifier(security.VerifierConfig{
		Algorithm:     cfg.Security.JWT.Algorithm,
		PublicKeyPath: cfg.Security.JWT.PublicKeyPath,
		Secret:        cfg.Security.JWT.Secret,
		Issuer:        cfg.Security.JWT.Issuer,
		Audience:      cfg.Security.JWT.Audience,
		ClockSkew:     cfg.Security.JWT.ClockSkew,
	})
	if err != nil {
		return fmt.Errorf("jwt verifier: %w", err)
	}
	router := httpx.NewRouter(httpx.RouterDeps{
		Handler:        httpx.NewHandler(meetings),
		Verifier:       verifier,
		WS:             wsServer.HandleWS,
		WSPath:         cfg.Signaling.Path,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	// --- gRPC ---
	var admin *grpcx.Admin
	if cfg.GRPC.Addr != "" {
		admin = grpcx.NewAdmin()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if admin != nil {
			admin.SetServing(true)
			defer admin.SetServing(false)
		}
		return engine.Run(gctx)
	})

	g.Go(func() error {
		return meetings.RunJanitor(gctx, cfg.Meeting.PurgeEvery)
	})

	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr, "ws", cfg.Signaling.Path)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if admin != nil {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
			return admin.Server.Serve(lis)
		})
	}

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if admin != nil {
			admin.Stop()
		}
		n := wsServer.CloseAll()
		slog.Info("websocket connections closed", "count", n)
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
