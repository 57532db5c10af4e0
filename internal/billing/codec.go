package billing

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the billing service's protobuf contract:
//
//	message BillingRequest  { string patientId = 1; string name = 2; string email = 3; }
//	message BillingResponse { string accountId = 1; string status = 2; }
const (
	reqPatientIDField  protowire.Number = 1
	reqNameField       protowire.Number = 2
	reqEmailField      protowire.Number = 3
	respAccountIDField protowire.Number = 1
	respStatusField    protowire.Number = 2
)

// frameCodec hands pre-encoded protobuf bytes to gRPC untouched.
// Messages are built with protowire, so the client needs no generated
// stubs while staying byte-compatible with the billing service.
// Name returns "proto" so the content-type is application/grpc+proto.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("billing codec: cannot marshal %T", v)
	}
	return *b, nil
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("billing codec: cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (frameCodec) Name() string { return "proto" }

type billingRequest struct {
	PatientID string
	Name      string
	Email     string
}

func (r billingRequest) marshal() []byte {
	var b []byte
	b = appendString(b, reqPatientIDField, r.PatientID)
	b = appendString(b, reqNameField, r.Name)
	b = appendString(b, reqEmailField, r.Email)
	return b
}

// appendString follows proto3 semantics: empty strings are omitted.
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Account is the billing service's reply.
type Account struct {
	AccountID string
	Status    string
}

// unmarshalAccount decodes a BillingResponse, skipping unknown fields.
func unmarshalAccount(b []byte) (Account, error) {
	var acc Account
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Account{}, fmt.Errorf("decode billing response tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if typ == protowire.BytesType && (num == respAccountIDField || num == respStatusField) {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Account{}, fmt.Errorf("decode billing response field %d: %w", num, protowire.ParseError(n))
			}
			if num == respAccountIDField {
				acc.AccountID = v
			} else {
				acc.Status = v
			}
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return Account{}, fmt.Errorf("skip billing response field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return acc, nil
}
