package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joao-fontenele/orderdesk/internal/desk"
	"github.com/joao-fontenele/orderdesk/internal/domain"
	"github.com/joao-fontenele/orderdesk/internal/messaging"
	"github.com/joao-fontenele/orderdesk/internal/orderstore"
	"github.com/joao-fontenele/orderdesk/internal/telemetry"
)

const usage = `usage: orderdesk <command> [arguments]

commands:
  pending                     orders waiting on the kitchen
  list [-limit N] [-status S] recent orders, newest first
  show <id>                   one order in full
  set-status <id> <status>    move an order to any status
  deliver <id>                shorthand for set-status <id> delivered
  watch                       follow live order changes
`

type app struct {
	client  *orderstore.Client
	printer *desk.Printer
	logger  *slog.Logger
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))}))

	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    "orderdesk",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	client, err := newClient(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	a := &app{
		client:  client,
		printer: desk.NewPrinter(os.Stdout, os.Getenv("NO_COLOR") == ""),
		logger:  logger,
	}

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "order %s not found\n", nf.ID)
			os.Exit(1)
		}
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func newClient(logger *slog.Logger) (*orderstore.Client, error) {
	cfg := orderstore.Config{
		BaseURL: os.Getenv("ORDERSTORE_URL"),
		APIKey:  os.Getenv("ORDERSTORE_API_KEY"),
	}

	opts := []orderstore.Option{orderstore.WithLogger(logger)}

	if brokers := os.Getenv("ORDERSTORE_FEED_BROKERS"); brokers != "" {
		topic := os.Getenv("ORDERSTORE_FEED_TOPIC")
		if topic == "" {
			topic = messaging.DefaultChangesTopic
		}
		brokerList := strings.Split(brokers, ",")
		opts = append(opts, orderstore.WithChangeFeed(func(ctx context.Context) (orderstore.ChangeFeed, error) {
			feed, err := messaging.DialChangeFeed(ctx, brokerList, topic)
			if err != nil {
				return nil, err
			}
			return feed, nil
		}))
	}

	return orderstore.New(cfg, opts...)
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "pending":
		orders, err := a.client.ListPendingOrders(ctx)
		if err != nil {
			return err
		}
		return a.printer.Orders(orders)

	case "list":
		flags := flag.NewFlagSet("list", flag.ContinueOnError)
		limit := flags.Int("limit", orderstore.DefaultListLimit, "maximum number of orders")
		status := flags.String("status", "", "only orders in this status")
		if err := flags.Parse(args); err != nil {
			return err
		}
		orders, err := a.client.ListOrders(ctx, orderstore.ListOptions{
			Limit:  *limit,
			Status: domain.OrderStatus(*status),
		})
		if err != nil {
			return err
		}
		return a.printer.Orders(orders)

	case "show":
		if len(args) != 1 {
			return errors.New("show needs an order id")
		}
		order, err := a.client.GetOrder(ctx, args[0])
		if err != nil {
			return err
		}
		return a.printer.Order(*order)

	case "set-status":
		if len(args) != 2 {
			return errors.New("set-status needs an order id and a status")
		}
		status, err := domain.ParseOrderStatus(args[1])
		if err != nil {
			return err
		}
		return a.setStatus(ctx, args[0], status)

	case "deliver":
		if len(args) != 1 {
			return errors.New("deliver needs an order id")
		}
		return a.setStatus(ctx, args[0], domain.OrderStatusDelivered)

	case "watch":
		return a.watch(ctx)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) setStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	order, err := a.client.UpdateOrderStatus(ctx, id, status)
	if err != nil {
		return err
	}
	fmt.Printf("order %s is now %s\n", order.OrderNumber, a.printer.Status(order.Status))
	return nil
}

// watch prints the pending queue, then every change until interrupted. The
// queue is printed again after each reconnect since missed changes are not
// replayed.
func (a *app) watch(ctx context.Context) error {
	showQueue := func() {
		orders, err := a.client.ListPendingOrders(ctx)
		if err != nil {
			a.logger.Error("failed to list pending orders", "error", err)
			return
		}
		_ = a.printer.Orders(orders)
	}

	showQueue()

	sub, err := a.client.Subscribe(ctx,
		func(_ context.Context, ev domain.ChangeEvent) {
			_ = a.printer.Change(ev)
		},
		orderstore.OnReconnect(func() {
			fmt.Println("-- reconnected, current queue:")
			showQueue()
		}),
	)
	if err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sub.Unsubscribe(stopCtx)
}

func logLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn
	}
	return level
}
