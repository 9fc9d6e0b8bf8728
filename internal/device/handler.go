package device

import (
	"encoding/json"
	"net/http"

	"analytics-hub/internal/httpapi"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register handles POST /api/v1/auth/register. The path is exempt from
// signature authentication; the project id still arrives in X-Project-ID.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	projectID := r.Header.Get("X-Project-ID")
	if projectID == "" {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "MISSING_PROJECT_ID", "missing project id, pass it in the X-Project-ID header")
		return
	}

	var body RegisterRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		httpapi.WriteErrorCode(w, http.StatusBadRequest, "INVALID_BODY", "invalid json body")
		return
	}

	resp, err := h.service.Register(r.Context(), projectID, body)
	if err != nil {
		httpapi.WriteError(w, err)
		return
	}

	httpapi.WriteSuccess(w, http.StatusOK, resp)
}
