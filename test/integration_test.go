//go:build integration

package test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/orderdesk/internal/domain"
	"github.com/joao-fontenele/orderdesk/internal/messaging"
	"github.com/joao-fontenele/orderdesk/internal/orderstore"
	"github.com/joao-fontenele/orderdesk/internal/storeapi"
)

var seedTime = time.Date(2025, 6, 13, 12, 0, 0, 0, time.UTC)

func seedOrder(ctx context.Context, t *testing.T, db *sql.DB, id string, status domain.OrderStatus, created time.Time) {
	t.Helper()
	_, err := db.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, customer_name, customer_phone, customer_address,
			items, subtotal, discount, total, status, created_at, updated_at)
		VALUES ($1, $2, 'Test Customer', '9000000000', 'Test Street',
			'[{"name":"Biryani","quantity":1,"price":299}]', 299, 0, 299, $3, $4, $4)
	`, id, "N-"+id, string(status), created)
	if err != nil {
		t.Fatalf("failed to seed order %s: %v", id, err)
	}
}

func newClient(t *testing.T, gw *Gateway, opts ...orderstore.Option) *orderstore.Client {
	t.Helper()
	client, err := orderstore.New(orderstore.Config{BaseURL: gw.URL, APIKey: gw.APIKey}, opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestOrderStoreAgainstPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	gw := StartGateway(ctx, t, pg.ConnStr, nil, "")

	statuses := domain.AllStatuses()
	for i, s := range statuses {
		seedOrder(ctx, t, gw.DB, fmt.Sprintf("ord-%d", i), s, seedTime.Add(time.Duration(i)*time.Minute))
	}

	client := newClient(t, gw)

	t.Run("list is newest first", func(t *testing.T) {
		orders, err := client.ListOrders(ctx, orderstore.ListOptions{})
		if err != nil {
			t.Fatalf("list orders: %v", err)
		}
		if len(orders) != len(statuses) {
			t.Fatalf("expected %d orders, got %d", len(statuses), len(orders))
		}
		for i := 1; i < len(orders); i++ {
			if orders[i].CreatedAt.After(orders[i-1].CreatedAt) {
				t.Fatalf("order %d (%s) is newer than order %d", i, orders[i].ID, i-1)
			}
		}
	})

	t.Run("pending filter", func(t *testing.T) {
		orders, err := client.ListPendingOrders(ctx)
		if err != nil {
			t.Fatalf("list pending orders: %v", err)
		}
		var got []string
		for _, o := range orders {
			got = append(got, string(o.Status))
		}
		if strings.Join(got, ",") != "preparing,confirmed,pending" {
			t.Fatalf("unexpected pending statuses: %v", got)
		}
	})

	t.Run("update round trip", func(t *testing.T) {
		before, err := client.GetOrder(ctx, "ord-4")
		if err != nil {
			t.Fatalf("get order: %v", err)
		}

		if _, err := client.UpdateOrderStatus(ctx, "ord-4", domain.OrderStatusDelivered); err != nil {
			t.Fatalf("update order status: %v", err)
		}

		after, err := client.GetOrder(ctx, "ord-4")
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if after.Status != domain.OrderStatusDelivered {
			t.Fatalf("expected delivered, got %s", after.Status)
		}
		if !after.UpdatedAt.After(before.UpdatedAt) {
			t.Fatalf("updated_at did not move forward: %v -> %v", before.UpdatedAt, after.UpdatedAt)
		}
	})

	t.Run("missing order is not found", func(t *testing.T) {
		_, err := client.GetOrder(ctx, "does-not-exist")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if errors.Is(err, domain.ErrTransport) {
			t.Fatalf("not found must not be a transport error: %v", err)
		}

		_, err = client.UpdateOrderStatus(ctx, "does-not-exist", domain.OrderStatusReady)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found on update, got %v", err)
		}
	})

	t.Run("invalid status never reaches the store", func(t *testing.T) {
		_, err := client.UpdateOrderStatus(ctx, "ord-0", "shipped")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		var status string
		if err := gw.DB.QueryRowContext(ctx, "SELECT status FROM orders WHERE id = 'ord-0'").Scan(&status); err != nil {
			t.Fatalf("read status: %v", err)
		}
		if status != string(domain.OrderStatusPending) {
			t.Fatalf("status changed to %s", status)
		}
	})

	t.Run("bad api key", func(t *testing.T) {
		bad, err := orderstore.New(orderstore.Config{BaseURL: gw.URL, APIKey: "not-a-key"})
		if err != nil {
			t.Fatalf("create client: %v", err)
		}
		_, err = bad.ListPendingOrders(ctx)
		var te *domain.TransportError
		if !errors.As(err, &te) || te.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 transport error, got %v", err)
		}
	})

	t.Run("anon key is read only", func(t *testing.T) {
		anonKey, err := storeapi.SignAPIKey(gatewaySecret, "anon", 0)
		if err != nil {
			t.Fatalf("sign api key: %v", err)
		}
		anon := newClient(t, &Gateway{URL: gw.URL, APIKey: anonKey})

		if _, err := anon.GetOrder(ctx, "ord-1"); err != nil {
			t.Fatalf("anon read: %v", err)
		}
		_, err = anon.UpdateOrderStatus(ctx, "ord-1", domain.OrderStatusCancelled)
		var te *domain.TransportError
		if !errors.As(err, &te) || te.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403 transport error, got %v", err)
		}
	})
}

func TestSubscriptionReceivesChanges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	brokers, cleanupKafka := SetupKafka(ctx, t)
	defer cleanupKafka()

	const partitions = 2
	topic := messaging.DefaultChangesTopic
	CreateTopic(ctx, t, brokers, topic, partitions)

	gw := StartGateway(ctx, t, pg.ConnStr, brokers, topic)

	// One order per partition, picked with the producer's balancer.
	ids := orderPerPartition(t, partitions)
	for _, id := range ids {
		seedOrder(ctx, t, gw.DB, id, domain.OrderStatusPending, seedTime)
	}

	client := newClient(t, gw,
		orderstore.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		orderstore.WithChangeFeed(func(ctx context.Context) (orderstore.ChangeFeed, error) {
			feed, err := messaging.DialChangeFeed(ctx, brokers, topic, messaging.WithMaxWait(100*time.Millisecond))
			if err != nil {
				return nil, err
			}
			return feed, nil
		}),
	)

	events := make(chan domain.ChangeEvent, 16)
	sub, err := client.Subscribe(ctx, func(_ context.Context, ev domain.ChangeEvent) {
		events <- ev
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The feed starts at the live end, which the readers resolve lazily, so
	// keep writing until a change for every order shows up.
	next := []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusPreparing, domain.OrderStatusReady}
	seen := map[string]bool{}
	for i := 0; len(seen) < len(ids) && i < 20; i++ {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			if _, err := client.UpdateOrderStatus(ctx, id, next[i%len(next)]); err != nil {
				t.Fatalf("update order status: %v", err)
			}
		}
		deadline := time.After(3 * time.Second)
	drain:
		for len(seen) < len(ids) {
			select {
			case ev := <-events:
				if ev.Type != domain.ChangeUpdate {
					t.Fatalf("unexpected event: %+v", ev)
				}
				seen[ev.OrderID()] = true
			case <-deadline:
				break drain
			}
		}
	}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("no change event received for %s (seen %v)", id, seen)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(ctx, 10*time.Second)
	defer stopCancel()
	if err := sub.Unsubscribe(stopCtx); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	for len(events) > 0 {
		<-events
	}
	for _, id := range ids {
		if _, err := client.UpdateOrderStatus(ctx, id, domain.OrderStatusDelivered); err != nil {
			t.Fatalf("update order status: %v", err)
		}
	}
	select {
	case ev := <-events:
		t.Fatalf("handler called after unsubscribe: %+v", ev)
	case <-time.After(2 * time.Second):
	}
}

func orderPerPartition(t *testing.T, partitions int) []string {
	t.Helper()

	all := make([]int, partitions)
	for i := range all {
		all[i] = i
	}

	balancer := &kafka.Hash{}
	byPartition := map[int]string{}
	for n := 0; len(byPartition) < partitions && n < 1000; n++ {
		id := fmt.Sprintf("live-%d", n)
		p := balancer.Balance(kafka.Message{Key: []byte(id)}, all...)
		if _, ok := byPartition[p]; !ok {
			byPartition[p] = id
		}
	}
	if len(byPartition) < partitions {
		t.Fatalf("could not find an order id for every partition")
	}

	ids := make([]string, 0, partitions)
	for p := range partitions {
		ids = append(ids, byPartition[p])
	}
	return ids
}
