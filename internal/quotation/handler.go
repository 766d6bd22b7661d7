package quotation

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/quotedesk/quotedesk/internal/platform/httpx"
	"github.com/quotedesk/quotedesk/internal/shared"
)

// Handler exposes the quotation engine as a JSON API.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	validate    *validator.Validate
	summary     singleflight.Group
}

func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idempotency,
		validate:    validator.New(),
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromSession(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, "quotation.create"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
				return
			}
			h.respondError(w, "idempotency check", err)
			return
		}
	}

	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	q, err := h.service.Create(r.Context(), req, actorID)
	if err != nil {
		h.respondError(w, "create quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":           q.ID,
		"quotation_no": q.Number(),
	})
}

func (h *Handler) PreviewNumber(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromSession(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var salespersonID *int64
	if raw := r.URL.Query().Get("salesperson_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Parameter", "salesperson_id must be numeric")
			return
		}
		salespersonID = &id
	}

	number, err := h.service.PreviewNumber(r.Context(), salespersonID, actorID)
	if err != nil {
		h.respondError(w, "preview number", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"quotation_no": number})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}

	q, validity, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"quotation": q,
		"validity":  validity,
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	req := ListRequest{Limit: 50}
	query := r.URL.Query()

	if raw := query.Get("customer_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			req.CustomerID = &id
		}
	}
	if raw := query.Get("salesperson_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			req.SalespersonID = &id
		}
	}
	if raw := query.Get("status"); raw != "" {
		status := Status(raw)
		req.Status = &status
	}
	req.DateFrom = parseDate(query.Get("date_from"))
	req.DateTo = parseDate(query.Get("date_to"))
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			req.Limit = n
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			req.Offset = n
		}
	}

	rows, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.respondError(w, "list quotations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"quotations": rows,
		"total":      total,
		"pagination": shared.NewPagination(req.Offset/req.Limit+1, req.Limit, total),
	})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromSession(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}

	var req UpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	q, err := h.service.Update(r.Context(), id, req, actorID)
	if err != nil {
		h.respondError(w, "update quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromSession(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}

	var req DecideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	q, err := h.service.Decide(r.Context(), id, req, actorID)
	if err != nil {
		h.respondError(w, "decide quotation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) Reissue(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromSession(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}

	var req ReissueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	q, err := h.service.Reissue(r.Context(), id, req, actorID)
	if err != nil {
		h.respondError(w, "reissue quotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":               q.ID,
		"quotation_no":     q.Number(),
		"reissued_from_id": q.ReissuedFromID,
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorFromSession(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}

	if err := h.service.Delete(r.Context(), id, actorID); err != nil {
		h.respondError(w, "delete quotation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Decisions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	records, err := h.service.Decisions(r.Context(), id)
	if err != nil {
		h.respondError(w, "list decisions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"decisions": records})
}

func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	versions, err := h.service.Versions(r.Context(), id)
	if err != nil {
		h.respondError(w, "list versions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"versions": versions})
}

// Summary serves dashboard counts. Concurrent identical requests collapse to
// a single repository scan via singleflight.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("salesperson_id")
	result, err, _ := h.summary.Do(key, func() (interface{}, error) {
		var salespersonID *int64
		if key != "" {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: salesperson_id must be numeric", ErrValidation)
			}
			salespersonID = &id
		}
		return h.service.Summary(r.Context(), salespersonID)
	})
	if err != nil {
		h.respondError(w, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrAlreadyDecided),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrNotExpired),
		errors.Is(err, ErrAlreadyReissued):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func actorFromSession(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
