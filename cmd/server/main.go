package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront-orders/internal/adapter/handler"
	"github.com/rl1809/storefront-orders/internal/adapter/notifier"
	"github.com/rl1809/storefront-orders/internal/adapter/payment"
	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/config"
	"github.com/rl1809/storefront-orders/internal/core/service"
	"github.com/rl1809/storefront-orders/internal/port"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:          "storefront-orders",
		Short:        "order lifecycle and payment reconciliation service",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		serveCommand(),
		migrateCommand(),
		sweepCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP and gRPC APIs with the payment expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd.Context(), migrate, serve)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	return cmd
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "create tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd.Context(), true, func(ctx context.Context, a *app) error {
				a.logger.Info("migrated", slog.String("driver", a.cfg.DBDriver))
				return nil
			})
		},
	}
}

func sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "expire overdue online orders once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd.Context(), false, func(ctx context.Context, a *app) error {
				n, err := a.sweeper.SweepOnce(ctx)
				if err != nil {
					return err
				}
				a.logger.Info("sweep complete", slog.Int("expired", n))
				return nil
			})
		},
	}
}

// app holds the wired dependencies shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *storage.SQLStore
	rdb      *redis.Client
	notifier port.Notifier
	orders   *service.OrderService
	payments *service.PaymentService
	sweeper  *service.ExpirySweeper
	closers  []func() error
}

func runWithApp(parent context.Context, migrate bool, run func(context.Context, *app) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.Any("error", err))
		return err
	}
	defer a.close()

	if migrate {
		if err := a.store.Migrate(ctx); err != nil {
			logger.Error("migrate failed", slog.Any("error", err))
			return err
		}
	}

	if err := run(ctx, a); err != nil {
		logger.Error("command failed", slog.Any("error", err))
		return err
	}
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	logger.Info("connected to database", slog.String("driver", cfg.DBDriver))

	var cache port.CacheRepository
	if cfg.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, a.rdb.Close)
		cache = storage.NewRedisAdapter(a.rdb)
		logger.Info("connected to redis", slog.String("addr", cfg.RedisAddr))
	}

	switch cfg.Notifier {
	case "kafka":
		kn, err := notifier.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		a.closers = append(a.closers, kn.Close)
		a.notifier = kn
	case "redis":
		a.notifier = notifier.NewRedisNotifier(a.rdb, cfg.RedisChannel)
	default:
		a.notifier = notifier.NewLogNotifier(logger)
	}
	logger.Info("notifier ready", slog.String("kind", cfg.Notifier))

	a.orders = service.NewOrderService(store, cache, a.notifier, service.Options{
		PaymentWindow:         cfg.PaymentWindow,
		ProviderTimeout:       cfg.PaymentProviderTimeout,
		ShippingFee:           cfg.ShippingFee,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		LowStockThreshold:     &cfg.LowStockThreshold,
		Logger:                logger,
	})
	provider := payment.NewHTTPProvider(cfg.PaymentProviderURL, cfg.PaymentProviderSecret, cfg.PaymentProviderTimeout, nil)
	a.payments = service.NewPaymentService(a.orders, provider)
	a.sweeper = service.NewExpirySweeper(store, a.orders, cache, service.SweeperConfig{
		Interval: cfg.SweepInterval,
		Batch:    cfg.SweepBatch,
		Workers:  cfg.SweepWorkers,
		Logger:   logger,
	})
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", slog.Any("error", err))
		}
	}
	a.closers = nil
}

func serve(ctx context.Context, a *app) error {
	httpHandler := handler.NewHTTPHandler(a.orders, a.payments, a.cfg.PaymentProviderSecret, a.logger)
	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	handler.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(a.orders, a.payments))
	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", slog.String("addr", a.cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("gRPC server listening", slog.String("addr", a.cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("HTTP shutdown", slog.Any("error", err))
		}
		a.logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		a.logger.Info("gRPC server stopped")
		return nil
	})

	return g.Wait()
}
