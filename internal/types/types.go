// Package types holds the shared data structures used across the
// service. Keeping them in one place prevents import cycles: handlers,
// service, storage and the billing client all import types without
// depending on each other.
package types

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and storage format of every calendar date.
const DateLayout = "2006-01-02"

// Patient is the persisted patient record.
//
// ID and RegisteredDate are set once, when the record is first saved,
// and never change afterwards.
type Patient struct {
	ID             uuid.UUID
	Name           string
	Email          string
	Address        string
	DateOfBirth    time.Time
	RegisteredDate time.Time
}

// PatientRequest is the JSON body accepted by create and update.
//
// Dates arrive as strings so the validator can report a bad format
// as a field error rather than a JSON decode failure.
type PatientRequest struct {
	Name           string `json:"name"           validate:"required,notblank,max=100"`
	Email          string `json:"email"          validate:"required,email"`
	Address        string `json:"address"        validate:"required,notblank"`
	DateOfBirth    string `json:"dateOfBirth"    validate:"required,datetime=2006-01-02"`
	RegisteredDate string `json:"registeredDate" validate:"omitempty,datetime=2006-01-02"`
}

// PatientResponse is the JSON representation returned to clients.
type PatientResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Address        string `json:"address"`
	DateOfBirth    string `json:"dateOfBirth"`
	RegisteredDate string `json:"registeredDate"`
}

// ToResponse maps a stored patient to its output representation.
func ToResponse(p Patient) PatientResponse {
	return PatientResponse{
		ID:             p.ID.String(),
		Name:           p.Name,
		Email:          p.Email,
		Address:        p.Address,
		DateOfBirth:    p.DateOfBirth.Format(DateLayout),
		RegisteredDate: p.RegisteredDate.Format(DateLayout),
	}
}

// ParseDate parses a calendar date in DateLayout.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
