// Package patient contains the HTTP handlers for the Patient resource.
//
// Each exported function is a factory: it receives the service once,
// at route registration, and returns the http.HandlerFunc that runs on
// every request.
//
//	r.Post("/patients", patient.New(svc))
package patient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pm/patient-service/internal/types"
	"github.com/pm/patient-service/internal/utils/response"
)

// Service is what the handlers need from the patient service.
type Service interface {
	List(ctx context.Context) ([]types.PatientResponse, error)
	Get(ctx context.Context, id uuid.UUID) (types.PatientResponse, error)
	Create(ctx context.Context, req types.PatientRequest) (types.PatientResponse, error)
	Update(ctx context.Context, id uuid.UUID, req types.PatientRequest) (types.PatientResponse, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Register mounts every patient route on r.
//
//	GET    /patients        list all patients
//	GET    /patients/{id}   get one patient
//	POST   /patients        create a patient
//	PUT    /patients/{id}   update a patient
//	DELETE /patients/{id}   delete a patient
func Register(r chi.Router, svc Service) {
	r.Route("/patients", func(r chi.Router) {
		r.Get("/", GetList(svc))
		r.Post("/", New(svc))
		r.Get("/{id}", GetByID(svc))
		r.Put("/{id}", Update(svc))
		r.Delete("/{id}", Delete(svc))
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// New handles POST /patients
//
// Request body (JSON):
//
//	{ "name": "Jane Doe", "email": "jane@example.com", "address": "1 Main St",
//	  "dateOfBirth": "1990-04-12", "registeredDate": "2024-01-05" }
//
// 200 with the created patient; 400 on a bad body or failed validation;
// 409 if the email is taken.
// ─────────────────────────────────────────────────────────────────────────────
func New(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r)
		log.Info("creating a patient")

		req, ok := decodeRequest(w, r, types.ValidateCreate)
		if !ok {
			return
		}

		created, err := svc.Create(r.Context(), req)
		if err != nil {
			log.Error("error creating patient", slog.String("error", err.Error()))
			response.WriteError(w, err)
			return
		}

		log.Info("patient created", slog.String("id", created.ID))
		response.WriteJSON(w, http.StatusOK, created)
	}
}

// GetList handles GET /patients. An empty store yields [] rather than null.
func GetList(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r)
		log.Info("getting all patients")

		patients, err := svc.List(r.Context())
		if err != nil {
			log.Error("error getting patients", slog.String("error", err.Error()))
			response.WriteError(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, patients)
	}
}

// GetByID handles GET /patients/{id}.
func GetByID(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r)
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		log.Info("getting a patient", slog.String("id", id.String()))

		p, err := svc.Get(r.Context(), id)
		if err != nil {
			log.Error("error getting patient",
				slog.String("id", id.String()),
				slog.String("error", err.Error()))
			response.WriteError(w, err)
			return
		}

		response.WriteJSON(w, http.StatusOK, p)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Update handles PUT /patients/{id}
//
// The body carries name, email, address and dateOfBirth. registeredDate
// may be present but is ignored.
//
// 200 with the updated patient; 400 on a bad id or body; 404 for an
// unknown id; 409 if another patient holds the email.
// ─────────────────────────────────────────────────────────────────────────────
func Update(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r)
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		log.Info("updating a patient", slog.String("id", id.String()))

		req, ok := decodeRequest(w, r, types.ValidateUpdate)
		if !ok {
			return
		}

		updated, err := svc.Update(r.Context(), id, req)
		if err != nil {
			log.Error("error updating patient",
				slog.String("id", id.String()),
				slog.String("error", err.Error()))
			response.WriteError(w, err)
			return
		}

		log.Info("patient updated", slog.String("id", id.String()))
		response.WriteJSON(w, http.StatusOK, updated)
	}
}

// Delete handles DELETE /patients/{id}: 204 on success, 404 if unknown.
func Delete(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := requestLogger(r)
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		log.Info("deleting a patient", slog.String("id", id.String()))

		if err := svc.Delete(r.Context(), id); err != nil {
			log.Error("error deleting patient",
				slog.String("id", id.String()),
				slog.String("error", err.Error()))
			response.WriteError(w, err)
			return
		}

		log.Info("patient deleted", slog.String("id", id.String()))
		w.WriteHeader(http.StatusNoContent)
	}
}

// decodeRequest reads and validates the JSON body. On failure it has
// already written the 400 response and returns ok=false.
func decodeRequest(w http.ResponseWriter, r *http.Request, validate func(types.PatientRequest) error) (types.PatientRequest, bool) {
	var req types.PatientRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if errors.Is(err, io.EOF) {
		response.WriteJSON(w, http.StatusBadRequest,
			response.GeneralError(errors.New("request body is empty")))
		return req, false
	}
	if err != nil {
		response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
		return req, false
	}

	if err := validate(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.WriteJSON(w, http.StatusBadRequest, response.ValidationError(verrs))
		} else {
			response.WriteJSON(w, http.StatusBadRequest, response.GeneralError(err))
		}
		return req, false
	}
	return req, true
}

// pathID parses the {id} URL segment as a UUID, writing a 400 if not.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteJSON(w, http.StatusBadRequest,
			response.GeneralError(errors.New("invalid id: must be a UUID")))
		return uuid.Nil, false
	}
	return id, true
}

func requestLogger(r *http.Request) *slog.Logger {
	return slog.Default().With(slog.String("request_id", middleware.GetReqID(r.Context())))
}
