package rabbit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/robertarktes/smarthost-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNotifierPublishesBookingConfirmed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping rabbit container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health/checks/alarms").WithPort("15672").WithBasicAuth("guest", "guest"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)

	conn, err := rabbit.Dial(ctx, "amqp://guest:guest@"+host+":"+port.Port()+"/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	consumer, err := rabbit.NewConsumer(conn, "mailer.test", rabbit.RoutingBookingConfirmed)
	require.NoError(t, err)
	deliveries, err := consumer.Consume(ctx)
	require.NoError(t, err)

	pub, err := rabbit.NewPublisher(conn)
	require.NoError(t, err)

	in, _ := time.Parse(domain.DateLayout, "2031-01-10")
	out, _ := time.Parse(domain.DateLayout, "2031-01-12")
	err = rabbit.NewNotifier(pub).NotifyBookingConfirmed(ctx, domain.Reservation{
		ID: 42, ApartmentID: 1, CheckIn: in, CheckOut: out, Guests: 2,
		TotalPrice: decimal.RequireFromString("100"), AccessCode: "123456",
		Guest: domain.GuestInformation{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
	})
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		assert.Equal(t, "booking_confirmed:42", d.MessageId)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(d.Body, &body))
		assert.Equal(t, "2031-01-10", body["check_in"])
		assert.Equal(t, "100.00", body["total_price"])
		assert.Equal(t, "ada@example.com", body["guest_email"])
		require.NoError(t, d.Ack(false))
	case <-time.After(10 * time.Second):
		t.Fatal("no booking confirmation delivered")
	}
}
