package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/mediconnect/consult-relay/internal/account"
	"github.com/mediconnect/consult-relay/internal/auth"
	"github.com/mediconnect/consult-relay/internal/broker"
	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/config"
	"github.com/mediconnect/consult-relay/internal/data"
	"github.com/mediconnect/consult-relay/internal/db"
	"github.com/mediconnect/consult-relay/internal/gateway"
	"github.com/mediconnect/consult-relay/internal/logger"
	"github.com/mediconnect/consult-relay/internal/middleware"
	"github.com/mediconnect/consult-relay/internal/video"
	v1 "github.com/mediconnect/consult-relay/proto/chat/v1"
)

const (
	shutdownTimeout = 10 * time.Second
	// presenceTTL is how long a silent instance keeps its identities online.
	presenceTTL = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// backend is the storage selected by STORE.
type backend struct {
	store     chat.Store
	dir       chat.Directory
	users     account.UserStore
	providers account.ProviderStore
	health    map[string]gateway.HealthCheck
	close     func(ctx context.Context) error
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	if cfg.Store == config.StoreMemory {
		slog.WarnContext(ctx, "using in-memory store, data is lost on restart")
		mem := data.NewMemory()
		return backend{
			store: mem, dir: mem, users: mem, providers: mem,
			health: map[string]gateway.HealthCheck{},
			close:  func(context.Context) error { return nil },
		}, nil
	}

	client, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return backend{}, err
	}
	if err := client.CreateIndexes(ctx); err != nil {
		_ = client.Close(ctx)
		return backend{}, err
	}
	providers := data.NewProvidersStore(client.ProvidersCollection(), client.UsersCollection())
	return backend{
		store:     data.NewMessagesStore(client.Mongo(), client.ConversationsCollection(), client.MessagesCollection()),
		dir:       providers,
		users:     data.NewUsersStore(client.UsersCollection()),
		providers: providers,
		health:    map[string]gateway.HealthCheck{"mongo": client.Ping},
		close:     client.Close,
	}, nil
}

func newTokens(cfg config.Config) (*auth.JWTManager, error) {
	if cfg.JWTKeys == "" {
		return auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL), nil
	}
	keys, err := cfg.KeyRing()
	if err != nil {
		return nil, err
	}
	return auth.NewJWTManagerFromKeys(keys, cfg.JWTActiveKid, cfg.TokenTTL), nil
}

// newGRPCServer builds the gRPC server: JSON codec, optional TLS, rate
// limiting on the credential methods, then authentication.
func newGRPCServer(cfg config.Config, srv *Server, reg *chat.Registry, limiter *middleware.LimiterStore) (*grpc.Server, error) {
	opts := []grpc.ServerOption{v1.ServerCodec()}
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	}

	limited := map[string]bool{
		v1.ChatService_Register_FullMethodName: true,
		v1.ChatService_Login_FullMethodName:    true,
	}
	opts = append(opts,
		grpc.ChainUnaryInterceptor(
			middleware.RateLimitUnaryInterceptor(limiter, limited),
			authUnaryInterceptor(reg),
		),
		grpc.ChainStreamInterceptor(authStreamInterceptor(reg)),
	)

	s := grpc.NewServer(opts...)
	registerService(s, srv)
	return s, nil
}

func run(ctx context.Context, cfg config.Config) error {
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := be.close(closeCtx); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()

	tokens, err := newTokens(cfg)
	if err != nil {
		return err
	}

	reg := chat.NewRegistry(tokens)
	relay := chat.NewRelay(reg)

	var (
		bus        *broker.Broker
		instanceID string
	)
	if cfg.RedisURL != "" {
		bus, err = broker.New(ctx, cfg.RedisURL, cfg.RedisChannel, cfg.SendQueueSize*16)
		if err != nil {
			return err
		}
		defer bus.Close()
		instanceID = uuid.NewString()
		relay = relay.WithBus(bus, instanceID)
		be.health["redis"] = bus.Ping
		slog.InfoContext(ctx, "cross-instance relay enabled", "instance_id", instanceID, "channel", cfg.RedisChannel)
	}

	chatSvc := chat.NewService(chat.NewLog(be.store, be.dir), be.dir, reg, relay, cfg.SendQueueSize)
	if bus != nil {
		chatSvc.WithPresence(bus.Presence(instanceID, presenceTTL))
	}
	accounts := account.NewService(be.users, be.providers, tokens)

	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	defer limiter.Stop()

	grpcServer, err := newGRPCServer(cfg, newServer(chatSvc, accounts), reg, limiter)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: gateway.New(gateway.Options{
			Chat:           chatSvc,
			Accounts:       accounts,
			Video:          video.NewNamer(cfg.VideoRoomPrefix),
			Limiter:        limiter,
			AllowedOrigins: cfg.AllowedOrigins,
			Health:         be.health,
		}).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(gctx, "gRPC server listening", "addr", lis.Addr().String())
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		slog.InfoContext(gctx, "HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bus != nil {
		g.Go(func() error { return bus.Run(gctx, relay) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown", "error", err)
		}
		// Live Connect streams never finish on their own.
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
