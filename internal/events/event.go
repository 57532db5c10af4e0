package events

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pm/patient-service/internal/types"
)

// Field numbers of the PatientEvent message.
const (
	patientIDField protowire.Number = 1
	nameField      protowire.Number = 2
	emailField     protowire.Number = 3
	eventTypeField protowire.Number = 4
)

// EventPatientCreated is the event_type of a new patient.
const EventPatientCreated = "PATIENT_CREATED"

// PatientEvent mirrors the analytics contract:
//
//	message PatientEvent { string patientId = 1; string name = 2; string email = 3; string event_type = 4; }
type PatientEvent struct {
	PatientID string
	Name      string
	Email     string
	EventType string
}

// NewPatientCreated builds the event for a freshly saved patient.
func NewPatientCreated(p types.Patient) PatientEvent {
	return PatientEvent{
		PatientID: p.ID.String(),
		Name:      p.Name,
		Email:     p.Email,
		EventType: EventPatientCreated,
	}
}

// Marshal encodes the event in protobuf wire format.
func (e PatientEvent) Marshal() []byte {
	var b []byte
	for _, f := range []struct {
		num protowire.Number
		val string
	}{
		{patientIDField, e.PatientID},
		{nameField, e.Name},
		{emailField, e.Email},
		{eventTypeField, e.EventType},
	} {
		if f.val == "" {
			continue
		}
		b = protowire.AppendTag(b, f.num, protowire.BytesType)
		b = protowire.AppendString(b, f.val)
	}
	return b
}

// UnmarshalPatientEvent decodes a PatientEvent, skipping unknown fields.
// This service only produces; the decoder is for consumers of the topic
// and for tests.
func UnmarshalPatientEvent(b []byte) (PatientEvent, error) {
	var e PatientEvent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return PatientEvent{}, fmt.Errorf("decode patient event: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType || num < patientIDField || num > eventTypeField {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return PatientEvent{}, fmt.Errorf("skip patient event field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return PatientEvent{}, fmt.Errorf("decode patient event field %d: %w", num, protowire.ParseError(n))
		}
		switch num {
		case patientIDField:
			e.PatientID = v
		case nameField:
			e.Name = v
		case emailField:
			e.Email = v
		case eventTypeField:
			e.EventType = v
		}
		b = b[n:]
	}
	return e, nil
}
