package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/orderdesk/internal/messaging"
	"github.com/joao-fontenele/orderdesk/internal/storeapi"
	"github.com/joao-fontenele/orderdesk/internal/telemetry"
)

const serviceVersion = "0.1.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	flag.Parse()
	if flag.Arg(0) == "keygen" {
		if err := keygen(flag.Args()[1:]); err != nil {
			logger.Error("keygen failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(logger); err != nil {
		logger.Error("storegw stopped", "error", err)
		os.Exit(1)
	}
}

// keygen prints an API key for the role given on the command line.
func keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	role := fs.String("role", "authenticated", "role claim: anon (read only), authenticated or service_role")
	ttl := fs.Duration("ttl", 0, "key lifetime, 0 for no expiry")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}

	key, err := storeapi.SignAPIKey(secret, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func run(logger *slog.Logger) error {
	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		return errors.New("POSTGRES_URL environment variable is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := telemetry.Config{
		ServiceName:    "storegw",
		ServiceVersion: serviceVersion,
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg)
	if err != nil {
		return fmt.Errorf("initialize meter: %w", err)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	db, err := telemetry.OpenPostgres(ctx, postgresURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var publisher storeapi.ChangePublisher
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		topic := os.Getenv("KAFKA_CHANGES_TOPIC")
		if topic == "" {
			topic = messaging.DefaultChangesTopic
		}
		partitions := 1
		if v := os.Getenv("KAFKA_CHANGES_PARTITIONS"); v != "" {
			partitions, err = strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid KAFKA_CHANGES_PARTITIONS %q: %w", v, err)
			}
		}
		brokers := strings.Split(kafkaBrokers, ",")
		if err := messaging.EnsureTopic(ctx, brokers, topic, partitions); err != nil {
			return err
		}
		producer := messaging.NewProducer(brokers, topic)
		defer func() { _ = producer.Close() }()
		publisher = producer
		logger.Info("publishing order changes", "topic", topic)
	} else {
		logger.Warn("KAFKA_BROKERS not set, order changes will not be published")
	}

	repo := storeapi.NewOrderRepository(db)
	handler := storeapi.NewHandler(repo, publisher, logger)
	auth := storeapi.NewAuthenticator(jwtSecret, logger)

	api := http.NewServeMux()
	handler.Register(api)

	mux := http.NewServeMux()
	mux.Handle("/rest/v1/", auth.Middleware(api))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := repo.Ping(r.Context()); err != nil {
			logger.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "storegw",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting store gateway", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
