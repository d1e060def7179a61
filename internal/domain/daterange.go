package domain

import (
	"time"

	"github.com/cockroachdb/errors"
)

const DateLayout = "2006-01-02"

// DateRange is a half-open interval [CheckIn, CheckOut) of whole UTC days.
type DateRange struct {
	CheckIn  time.Time
	CheckOut time.Time
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func NewDateRange(checkIn, checkOut time.Time) (DateRange, error) {
	r := DateRange{CheckIn: Day(checkIn), CheckOut: Day(checkOut)}
	if !r.CheckIn.Before(r.CheckOut) {
		return DateRange{}, errors.Wrapf(ErrDateRangeInvalid, "check-in %s is not before check-out %s",
			r.CheckIn.Format(DateLayout), r.CheckOut.Format(DateLayout))
	}
	return r, nil
}

func ParseDateRange(checkIn, checkOut string) (DateRange, error) {
	in, err := time.Parse(DateLayout, checkIn)
	if err != nil {
		return DateRange{}, errors.Wrapf(ErrDateRangeInvalid, "check-in %q", checkIn)
	}
	out, err := time.Parse(DateLayout, checkOut)
	if err != nil {
		return DateRange{}, errors.Wrapf(ErrDateRangeInvalid, "check-out %q", checkOut)
	}
	return NewDateRange(in, out)
}

// Overlaps reports NOT (r.CheckOut <= o.CheckIn OR r.CheckIn >= o.CheckOut).
// Back-to-back ranges do not overlap.
func (r DateRange) Overlaps(o DateRange) bool {
	return !(!r.CheckOut.After(o.CheckIn) || !r.CheckIn.Before(o.CheckOut))
}

// StartsBefore reports whether the range begins before the day containing now.
func (r DateRange) StartsBefore(now time.Time) bool {
	return r.CheckIn.Before(Day(now))
}

func (r DateRange) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
}
