package domain

import (
	"errors"
	"time"
)

// DateLayout is the calendar-day format activities are keyed by. Dates carry
// no time component and must round-trip exactly as stored.
const DateLayout = "2006-01-02"

// Activity is a single logged exercise session.
type Activity struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	Type          string    `json:"type"`
	Minutes       int       `json:"minutes"`
	Date          string    `json:"date"`
	Points        int       `json:"points"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

var (
	// ErrInvalidMinutes rejects non-positive durations.
	ErrInvalidMinutes = errors.New("activity minutes must be a positive integer")
	// ErrInvalidDate rejects dates that are not plain YYYY-MM-DD days.
	ErrInvalidDate = errors.New("activity date must be formatted as YYYY-MM-DD")
)

// ValidateDate checks that value is a plain calendar day that round-trips
// without shifting.
func ValidateDate(value string) error {
	parsed, err := time.Parse(DateLayout, value)
	if err != nil {
		return ErrInvalidDate
	}
	if parsed.Format(DateLayout) != value {
		return ErrInvalidDate
	}
	return nil
}
