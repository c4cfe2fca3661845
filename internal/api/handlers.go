package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"keyhub/internal/clientip"
	"keyhub/internal/dispense"
	"keyhub/internal/models"
	"keyhub/internal/version"
)

// maxBodyBytes bounds request bodies; every body here is a single small field.
const maxBodyBytes = 64 << 10

var errInvalidBody = errors.New("invalid JSON body")

// Handlers contains HTTP handlers for the keyhub API
type Handlers struct {
	service          dispense.ServiceInterface
	resolver         *clientip.Resolver
	allowBodyAddress bool
}

// NewHandlers creates a new handlers instance. With allowBodyAddress the
// client address is read from the request body's ip field instead of the
// connection.
func NewHandlers(service dispense.ServiceInterface, resolver *clientip.Resolver, allowBodyAddress bool) *Handlers {
	if resolver == nil {
		resolver = clientip.NewResolver(nil)
	}
	return &Handlers{
		service:          service,
		resolver:         resolver,
		allowBodyAddress: allowBodyAddress,
	}
}

// AllocateKey hands one key to the calling address
// POST /api/get-key
func (h *Handlers) AllocateKey(w http.ResponseWriter, r *http.Request) {
	addr, err := h.clientAddress(r)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	response, err := h.service.AllocateKey(r.Context(), addr)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// VerifyKey checks a candidate key
// POST /api/verify-key
func (h *Handlers) VerifyKey(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, err.Error())
		return
	}

	response, err := h.service.VerifyKey(r.Context(), req.Key)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// KeyCount reports how many keys are left
// GET /api/key-count
func (h *Handlers) KeyCount(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.KeyCount(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// UsageStats returns the stored usage record
// GET /api/usage-stats
func (h *Handlers) UsageStats(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.UsageStats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// HealthCheck reports store reachability and pool size
// GET /health, GET /api/health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := h.service.Health(r.Context())
	response.Version = version.GetInfo().Version

	status := http.StatusOK
	if response.Status == models.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, response)
}

func (h *Handlers) clientAddress(r *http.Request) (string, error) {
	if !h.allowBodyAddress {
		return h.resolver.Address(r), nil
	}

	var req models.AllocateRequest
	if err := decodeBody(nil, r, &req); err != nil {
		return "", err
	}
	return strings.TrimSpace(req.IP), nil
}

// decodeBody parses a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	body := io.Reader(r.Body)
	if w != nil {
		body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	} else {
		body = io.LimitReader(r.Body, maxBodyBytes)
	}

	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidBody
	}
	return nil
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error body carrying the request ID
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	writeError(w, r, statusCode, errorCode, message)
}

// writeServiceError renders err. Internal failures are logged with their
// cause and shown to the client as a generic message.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *dispense.ServiceError
	if !errors.As(err, &svcErr) {
		svcErr = dispense.NewInternalError("internal server error", err)
	}

	if svcErr.StatusCode >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err)
	}

	h.writeErrorResponse(w, r, svcErr.StatusCode, svcErr.Code, svcErr.Message)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; nothing more to tell the client.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = RequestIDFromContext(r.Context())
	writeJSON(w, statusCode, errorResp)
}
