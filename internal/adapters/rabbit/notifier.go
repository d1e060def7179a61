package rabbit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
)

const RoutingBookingConfirmed = "notification.booking_confirmed"

type bookingConfirmed struct {
	ReservationID int64  `json:"reservation_id"`
	ApartmentID   int64  `json:"apartment_id"`
	CheckIn       string `json:"check_in"`
	CheckOut      string `json:"check_out"`
	Guests        int    `json:"guests"`
	TotalPrice    string `json:"total_price"`
	AccessCode    string `json:"access_code"`
	GuestName     string `json:"guest_name"`
	GuestEmail    string `json:"guest_email"`
}

// Notifier hands booking confirmations to the mailer service over RabbitMQ.
type Notifier struct {
	pub *Publisher
}

func NewNotifier(pub *Publisher) *Notifier {
	return &Notifier{pub: pub}
}

func (n *Notifier) NotifyBookingConfirmed(ctx context.Context, r domain.Reservation) error {
	body, err := json.Marshal(bookingConfirmed{
		ReservationID: r.ID,
		ApartmentID:   r.ApartmentID,
		CheckIn:       r.CheckIn.Format(domain.DateLayout),
		CheckOut:      r.CheckOut.Format(domain.DateLayout),
		Guests:        r.Guests,
		TotalPrice:    r.TotalPrice.StringFixed(2),
		AccessCode:    r.AccessCode,
		GuestName:     r.Guest.FirstName + " " + r.Guest.LastName,
		GuestEmail:    r.Guest.Email,
	})
	if err != nil {
		return errors.Wrap(err, "marshal booking confirmation")
	}
	return n.pub.Publish(ctx, RoutingBookingConfirmed, amqp.Publishing{
		MessageId:    "booking_confirmed:" + strconv.FormatInt(r.ID, 10),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}
