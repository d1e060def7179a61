package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func mustRange(t *testing.T, in, out string) DateRange {
	t.Helper()
	r, err := ParseDateRange(in, out)
	require.NoError(t, err)
	return r
}

func TestParseDateRange(t *testing.T) {
	r := mustRange(t, "2025-06-01", "2025-06-05")
	assert.Equal(t, 4, r.Nights())

	for _, tt := range []struct{ in, out string }{
		{"2025-06-05", "2025-06-01"},
		{"2025-06-01", "2025-06-01"},
		{"2025/06/01", "2025-06-05"},
		{"2025-06-01", ""},
	} {
		_, err := ParseDateRange(tt.in, tt.out)
		assert.ErrorIs(t, err, ErrDateRangeInvalid, "%s..%s", tt.in, tt.out)
	}
}

func TestNewDateRangeTruncatesToDays(t *testing.T) {
	r, err := NewDateRange(
		time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC),
		time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	assert.Equal(t, day("2025-06-01"), r.CheckIn)
	assert.Equal(t, day("2025-06-03"), r.CheckOut)
	assert.Equal(t, 2, r.Nights())

	_, err = NewDateRange(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC), time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrDateRangeInvalid)
}

func TestOverlapsIsHalfOpen(t *testing.T) {
	existing := mustRange(t, "2025-06-10", "2025-06-15")
	tests := []struct {
		name    string
		in, out string
		want    bool
	}{
		{"ends on check-in", "2025-06-05", "2025-06-10", false},
		{"starts on check-out", "2025-06-15", "2025-06-20", false},
		{"inside", "2025-06-11", "2025-06-12", true},
		{"covers", "2025-06-01", "2025-06-30", true},
		{"straddles start", "2025-06-08", "2025-06-11", true},
		{"straddles end", "2025-06-14", "2025-06-16", true},
		{"identical", "2025-06-10", "2025-06-15", true},
		{"disjoint", "2025-07-01", "2025-07-02", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustRange(t, tt.in, tt.out)
			assert.Equal(t, tt.want, r.Overlaps(existing))
			assert.Equal(t, tt.want, existing.Overlaps(r), "symmetric")
		})
	}
}

func TestStartsBefore(t *testing.T) {
	now := time.Date(2025, 5, 20, 23, 59, 0, 0, time.UTC)
	assert.False(t, mustRange(t, "2025-05-20", "2025-05-21").StartsBefore(now), "today is allowed")
	assert.True(t, mustRange(t, "2025-05-19", "2025-05-21").StartsBefore(now))
}

func TestBlockingStatuses(t *testing.T) {
	assert.True(t, StatusPending.Blocking())
	assert.True(t, StatusConfirmed.Blocking())
	assert.False(t, StatusCancelled.Blocking())
}

func TestTokens(t *testing.T) {
	for i := 0; i < 50; i++ {
		assert.Regexp(t, `^\d{6}$`, NewAccessCode())
	}

	a, err := NewCancellationToken()
	require.NoError(t, err)
	b, err := NewCancellationToken()
	require.NoError(t, err)
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)

	assert.True(t, TokensEqual(a, a))
	assert.False(t, TokensEqual(a, b))
	assert.False(t, TokensEqual(a, ""))
}

func TestPersistenceMarking(t *testing.T) {
	assert.NoError(t, Persistence(nil, "noop"))

	err := Persistence(errors.New("connection reset"), "insert reservation")
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.Contains(t, err.Error(), "insert reservation")

	domainErr := errors.Wrap(ErrSlotUnavailable, "apartment 1")
	assert.Equal(t, domainErr, Persistence(domainErr, "ignored"))
	assert.False(t, errors.Is(Persistence(domainErr, "ignored"), ErrPersistence))
}

func TestInputError(t *testing.T) {
	ie := NewInputError()
	assert.True(t, ie.Empty())
	ie.Add("guests", "must be at least 1")
	ie.Add("guest.email", "is not a valid address")
	ie.Add("guests", "must be an integer")

	assert.False(t, ie.Empty())
	assert.Equal(t, "invalid input: guest.email: is not a valid address; guests: must be at least 1, must be an integer", ie.Error())

	var err error = errors.Wrap(ie, "create reservation")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	got, ok := AsInputError(err)
	require.True(t, ok)
	assert.Len(t, got.Fields()["guests"], 2)
}

func TestNewReservationEvent(t *testing.T) {
	now := time.Date(2025, 5, 20, 8, 0, 0, 0, time.UTC)
	ev, err := NewReservationEvent(EventReservationConfirmed, Reservation{
		ID:          42,
		ApartmentID: 3,
		CheckIn:     day("2025-06-01"),
		CheckOut:    day("2025-06-04"),
		Guests:      2,
		TotalPrice:  decimal.RequireFromString("240"),
		Status:      StatusConfirmed,
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "reservation.confirmed:42", ev.DedupeKey)
	assert.Equal(t, "NEW", ev.Status)
	assert.Equal(t, int64(42), ev.AggregateID)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(ev.Payload, &body))
	assert.Equal(t, "240.00", body["total_price"])
	assert.Equal(t, "2025-06-01", body["check_in"])
	assert.Equal(t, "CONFIRMED", body["status"])
}
