package types

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// validate is shared by every request. A *validator.Validate caches
// struct metadata and is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names ("dateOfBirth", not "DateOfBirth")
	// so error messages match what the client actually sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// required alone lets "   " through.
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

// createRules layers the create-only constraints on top of the default
// rule set carried by PatientRequest.
type createRules struct {
	PatientRequest
	RegisteredDate string `json:"registeredDate" validate:"required,datetime=2006-01-02"`
}

// ValidateCreate checks a request body for POST /patients.
// Every field is required, including registeredDate.
func ValidateCreate(req PatientRequest) error {
	return validate.Struct(createRules{
		PatientRequest: withoutRegisteredDate(req),
		RegisteredDate: req.RegisteredDate,
	})
}

// ValidateUpdate checks a request body for PUT /patients/{id}.
// Only the default rule set applies; registeredDate is ignored because
// it can never be changed after creation.
func ValidateUpdate(req PatientRequest) error {
	return validate.Struct(withoutRegisteredDate(req))
}

// withoutRegisteredDate clears the field so the default rule set never
// reports it. The create rules check it separately, once.
func withoutRegisteredDate(req PatientRequest) PatientRequest {
	req.RegisteredDate = ""
	return req
}
