package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "PENDING"
	StatusConfirmed ReservationStatus = "CONFIRMED"
	StatusCancelled ReservationStatus = "CANCELLED"
)

// BlockingStatuses are the statuses that count toward overlap detection.
var BlockingStatuses = []ReservationStatus{StatusPending, StatusConfirmed}

func (s ReservationStatus) Blocking() bool {
	for _, b := range BlockingStatuses {
		if s == b {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

const ProviderStripe = "STRIPE"

// Apartment is owned by the catalog; this service only reads it.
type Apartment struct {
	ID        int64
	Name      string
	MaxGuests int
	BasePrice decimal.Decimal
}

type GuestInformation struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	City      string
	Country   string
}

type Reservation struct {
	ID                int64
	ApartmentID       int64
	ClientID          *int64
	CheckIn           time.Time
	CheckOut          time.Time
	Guests            int
	TotalPrice        decimal.Decimal
	Status            ReservationStatus
	AccessCode        string
	CancellationToken string
	SpecialRequest    string
	CreatedAt         time.Time
	Guest             GuestInformation
}

func (r Reservation) Range() DateRange {
	return DateRange{CheckIn: r.CheckIn, CheckOut: r.CheckOut}
}

type Payment struct {
	ID              int64
	ReservationID   int64
	Amount          decimal.Decimal
	Provider        string
	SessionID       string
	PaymentIntentID string
	Status          PaymentStatus
	PaymentDate     time.Time
}
