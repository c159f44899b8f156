package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/ayo6706/escrow-settlement/internal/api/middleware"
	"github.com/ayo6706/escrow-settlement/internal/api/problem"
	"github.com/ayo6706/escrow-settlement/internal/domain"
	"github.com/ayo6706/escrow-settlement/internal/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == domain.RoleAdmin, nil
}

// actor resolves the caller or writes a 401 and reports false.
func actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool, bool) {
	id, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return uuid.Nil, false, false
	}
	return id, isAdmin, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		problem.WriteFields(w, r, http.StatusBadRequest, problem.Type("request/invalid-id"), http.StatusText(http.StatusBadRequest),
			"path parameter "+name+" must be a UUID", []problem.FieldError{{Field: name, Reason: domain.ReasonInvalidFormat}})
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody reads a JSON body into dst and runs its validate tags. An empty
// body is accepted when allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !allowEmpty || !errors.Is(err, io.EOF) {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
			return false
		}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]problem.FieldError, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, problem.FieldError{Field: fe.Field(), Reason: validationReason(fe.Tag())})
			}
			problem.WriteFields(w, r, http.StatusBadRequest, problem.Type("request/validation-failed"), http.StatusText(http.StatusBadRequest), "request validation failed", fields)
			return false
		}
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return false
	}
	return true
}

func validationReason(tag string) string {
	switch tag {
	case "required":
		return domain.ReasonRequired
	case "uuid", "uuid4", "oneof", "email", "numeric":
		return domain.ReasonInvalidFormat
	case "max", "min", "len":
		return domain.ReasonInvalidLength
	default:
		return tag
	}
}

func parseUUIDField(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, domain.NewValidationError(field, domain.ReasonInvalidFormat, field+" must be a UUID")
	}
	return id, nil
}

func pagination(r *http.Request) (int32, int32, error) {
	limit := int32(50)
	offset := int32(0)
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 500 {
			return 0, 0, domain.NewValidationError("limit", domain.ReasonInvalidFormat, "limit must be between 1 and 500")
		}
		limit = int32(parsed)
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return 0, 0, domain.NewValidationError("offset", domain.ReasonInvalidFormat, "offset must be a non-negative integer")
		}
		offset = int32(parsed)
	}
	return limit, offset, nil
}

// writeServiceError maps domain and provider errors onto problem responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if ve, ok := domain.AsValidationError(err); ok {
		problem.WriteFields(w, r, http.StatusBadRequest, problem.Type("request/validation-failed"), http.StatusText(http.StatusBadRequest),
			ve.Error(), []problem.FieldError{{Field: ve.Field, Reason: ve.Reason}})
		return
	}
	if pe, ok := gateway.AsProviderError(err); ok {
		zap.L().Warn(op+" provider failure", zap.Error(err), zap.String("provider", pe.Provider))
		RespondError(w, r, http.StatusBadGateway, "provider/failure", "payment provider request failed")
		return
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "resource/not-found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
	case errors.Is(err, domain.ErrIdempotencyViolation):
		RespondError(w, r, http.StatusConflict, "webhook/idempotency-violation", err.Error())
	case domain.IsStateConflict(err):
		RespondError(w, r, http.StatusConflict, "state/conflict", err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		RespondError(w, r, http.StatusUnprocessableEntity, "wallet/insufficient-balance", err.Error())
	case errors.Is(err, domain.ErrInvalidSignature):
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
	case errors.Is(err, domain.ErrUnsupportedProvider):
		RespondError(w, r, http.StatusNotFound, "provider/unsupported", err.Error())
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error(op+" failed", zap.Error(err), zap.String("trace_id", middleware.TraceIDFromContext(r.Context())))
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	default:
		return 0, "", "", false
	}
}
