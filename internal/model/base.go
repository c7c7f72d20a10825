package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all persisted models
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DateRange bounds a listing by calendar date, both ends inclusive
type DateRange struct {
	From string `json:"from" form:"from"`
	To   string `json:"to" form:"to"`
}

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"
