package moderation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/floodwatch/floodwatch-api/internal/domain/user"
	"github.com/floodwatch/floodwatch-api/internal/middleware"
	"github.com/floodwatch/floodwatch-api/internal/pkg/imaging"
	"github.com/floodwatch/floodwatch-api/internal/pkg/logger"
	"github.com/floodwatch/floodwatch-api/internal/pkg/response"
	"github.com/floodwatch/floodwatch-api/internal/pkg/validator"
)

// maxSubmitBody leaves room for a base64 photo of MaxPayloadSize.
const maxSubmitBody = imaging.MaxPayloadSize*4/3 + 64*1024

// Handler handles report HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates report handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// List handles GET /reports
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.ListApproved(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WithMeta(w, reportResponses(reports), response.Meta{Total: len(reports)})
}

// Create handles POST /reports
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)

	var req CreateReportRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	rep, err := h.service.Submit(r.Context(), actorFrom(r), req.toInput())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	response.Created(w, ReportResponseFromEntity(rep))
}

// AdminList handles GET /admin/reports
func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	reports, err := h.service.ListForAdmin(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WithMeta(w, adminReportResponses(reports), response.Meta{Total: len(reports)})
}

// Diagnostic handles GET /admin/reports/{id}/diagnostic
func (h *Handler) Diagnostic(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}

	d, err := h.service.Diagnose(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, diagnosticResponse(d))
}

// Approve handles PATCH /admin/reports/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}

	out, err := h.service.Approve(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, moderationResponse(out))
}

// Reject handles PATCH /admin/reports/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}

	out, err := h.service.Reject(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, moderationResponse(out))
}

// Reprocess handles POST /admin/reports/{id}/reprocess
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}

	out, err := h.service.Reprocess(r.Context(), actorFrom(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, moderationResponse(out))
}

// Cleanup handles DELETE /admin/reports?mode=
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	mode := CleanupMode(r.URL.Query().Get("mode"))

	res, err := h.service.BulkCleanup(r.Context(), actorFrom(r), mode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, CleanupResponse{
		Mode:         string(res.Mode),
		Deleted:      res.Deleted,
		UsersUpdated: res.UsersUpdated,
	})
}

// RecalculateTrust handles POST /admin/reports/recalculate-trust
func (h *Handler) RecalculateTrust(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.RecomputeAll(r.Context(), actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.OK(w, RecalculateResponse{UsersUpdated: len(users), Users: users})
}

// TestDetector handles POST /admin/reports/detector/test
func (h *Handler) TestDetector(w http.ResponseWriter, r *http.Request) {
	probe, err := h.service.ProbeDetector(r.Context(), actorFrom(r))
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			response.Forbidden(w, "Admin access required")
			return
		}
		logger.FromContext(r.Context()).Warn().Err(err).Msg("Detector probe failed")
		response.BadGateway(w, "Detector unreachable: "+err.Error())
		return
	}
	response.OK(w, probe)
}

// fail maps engine errors onto the response envelope. Internal failures
// never expose their cause.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		response.Unauthorized(w, "Authentication required")
	case errors.Is(err, ErrForbidden):
		response.Forbidden(w, "Admin access required")
	case IsValidation(err):
		response.ValidationError(w, validationDetails(err))
	case errors.Is(err, ErrInvalidCleanupMode):
		response.BadRequest(w, "Invalid mode. Use deleteNonApproved or deleteAll")
	case errors.Is(err, ErrNoOriginalImage):
		response.BadRequest(w, "Report has no image to reprocess")
	case errors.Is(err, ErrReportNotFound):
		response.NotFound(w, "Report not found")
	case errors.Is(err, ErrOwnerNotFound):
		response.NotFound(w, "User not found")
	case errors.Is(err, ErrAlreadyApproved):
		response.Conflict(w, "Report already approved")
	case errors.Is(err, ErrAlreadyRejected):
		response.Conflict(w, "Report already rejected")
	default:
		logger.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Report operation failed")
		response.InternalError(w)
	}
}

func validationDetails(err error) map[string]string {
	switch {
	case errors.Is(err, ErrInvalidSeverity):
		return map[string]string{"severity": "Must be LOW, MEDIUM or HIGH"}
	case errors.Is(err, ErrInvalidCoordinates):
		return map[string]string{"latitude": "Coordinates out of range"}
	default:
		return map[string]string{"location": "This field is required"}
	}
}

func actorFrom(r *http.Request) Actor {
	return Actor{
		UserID: middleware.GetUserID(r.Context()),
		Role:   user.Role(middleware.GetRole(r.Context())),
	}
}

func reportID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "Invalid report ID")
		return 0, false
	}
	return id, true
}
