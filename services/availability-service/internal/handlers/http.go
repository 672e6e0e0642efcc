package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/peerhours/libs/auth"
	"github.com/md-rashed-zaman/peerhours/libs/httpx"
	otelx "github.com/md-rashed-zaman/peerhours/libs/otel"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/peerhours/services/availability-service/internal/windows"
)

type Queries interface {
	ListOpenSlots(ctx context.Context, r model.DateRange, durationMinutes int) (availability.SlotResult, error)
	FindFreeProviders(ctx context.Context, date model.Date, t model.TimeOfDay, durationMinutes int) ([]model.Provider, error)
}

type Windows interface {
	Create(ctx context.Context, a model.AuthContext, in windows.NewWindow) (model.Window, error)
	Get(ctx context.Context, id string) (model.Window, error)
	List(ctx context.Context, providerID string) ([]model.Window, error)
	Update(ctx context.Context, a model.AuthContext, id string, patch model.WindowPatch) (model.Window, error)
	SetActive(ctx context.Context, a model.AuthContext, id string, active bool) (model.Window, error)
	Delete(ctx context.Context, a model.AuthContext, id string, expectedVersion *int64) error
}

type Handler struct {
	queries         Queries
	windows         Windows
	defaultDuration int
	logger          *slog.Logger
}

func New(q Queries, w Windows, defaultDuration int, logger *slog.Logger) *Handler {
	if defaultDuration <= 0 {
		defaultDuration = 60
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queries: q, windows: w, defaultDuration: defaultDuration, logger: logger}
}

// Register mounts the API on mux, wrapping every route with protect (typically bearer auth).
func (h *Handler) Register(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protect(fn))
	}
	route("GET /api/v1/slots", h.ListOpenSlots)
	route("GET /api/v1/providers/free", h.FindFreeProviders)
	route("GET /api/v1/windows", h.ListWindows)
	route("POST /api/v1/windows", h.CreateWindow)
	route("GET /api/v1/windows/{id}", h.GetWindow)
	route("PATCH /api/v1/windows/{id}", h.UpdateWindow)
	route("DELETE /api/v1/windows/{id}", h.DeleteWindow)
	route("PUT /api/v1/windows/{id}/active", h.SetWindowActive)
}

func (h *Handler) ListOpenSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := model.ParseDate(q.Get("start_date"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "input_invalid", "start_date: "+err.Error())
		return
	}
	end, err := model.ParseDate(q.Get("end_date"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "input_invalid", "end_date: "+err.Error())
		return
	}
	duration, ok := h.duration(w, r)
	if !ok {
		return
	}

	res, err := h.queries.ListOpenSlots(r.Context(), model.DateRange{Start: start, End: end}, duration)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) FindFreeProviders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := model.ParseDate(q.Get("date"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "input_invalid", "date: "+err.Error())
		return
	}
	at, err := model.ParseTimeOfDay(q.Get("time"))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "input_invalid", "time: "+err.Error())
		return
	}
	duration, ok := h.duration(w, r)
	if !ok {
		return
	}

	providers, err := h.queries.FindFreeProviders(r.Context(), date, at, duration)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out := make([]providerResponse, 0, len(providers))
	for _, p := range providers {
		out = append(out, providerResponse{ID: p.ID, DisplayName: p.DisplayName, AvatarRef: p.AvatarRef})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (h *Handler) ListWindows(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		providerID = authContext(r).UserID
	}
	ws, err := h.windows.List(r.Context(), providerID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out := make([]windowResponse, 0, len(ws))
	for _, win := range ws {
		out = append(out, toWindowResponse(win))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"windows": out})
}

func (h *Handler) CreateWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProviderID string           `json:"provider_id"`
		DayOfWeek  *int             `json:"day_of_week"`
		StartTime  *model.TimeOfDay `json:"start_time"`
		EndTime    *model.TimeOfDay `json:"end_time"`
		Active     *bool            `json:"active"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.DayOfWeek == nil || req.StartTime == nil || req.EndTime == nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "input_invalid", "day_of_week, start_time and end_time are required")
		return
	}

	win, err := h.windows.Create(r.Context(), authContext(r), windows.NewWindow{
		ProviderID: strings.TrimSpace(req.ProviderID),
		DayOfWeek:  time.Weekday(*req.DayOfWeek),
		StartTime:  *req.StartTime,
		EndTime:    *req.EndTime,
		Active:     req.Active,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/windows/"+win.ID)
	writeWindow(w, http.StatusCreated, win)
}

func (h *Handler) GetWindow(w http.ResponseWriter, r *http.Request) {
	win, err := h.windows.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeWindow(w, http.StatusOK, win)
}

func (h *Handler) UpdateWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DayOfWeek *int             `json:"day_of_week"`
		StartTime *model.TimeOfDay `json:"start_time"`
		EndTime   *model.TimeOfDay `json:"end_time"`
		Active    *bool            `json:"active"`
		Version   *int64           `json:"version"`
	}
	if !decode(w, r, &req) {
		return
	}
	patch := model.WindowPatch{
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		Active:          req.Active,
		ExpectedVersion: req.Version,
	}
	if req.DayOfWeek != nil {
		day := time.Weekday(*req.DayOfWeek)
		patch.DayOfWeek = &day
	}
	if patch.ExpectedVersion == nil {
		if v, ok := ifMatchVersion(r); ok {
			patch.ExpectedVersion = &v
		}
	}

	win, err := h.windows.Update(r.Context(), authContext(r), r.PathValue("id"), patch)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeWindow(w, http.StatusOK, win)
}

func (h *Handler) SetWindowActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Active == nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "input_invalid", "active is required")
		return
	}
	win, err := h.windows.SetActive(r.Context(), authContext(r), r.PathValue("id"), *req.Active)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeWindow(w, http.StatusOK, win)
}

// DeleteWindow honours If-Match so a client holding a stale copy gets 409.
func (h *Handler) DeleteWindow(w http.ResponseWriter, r *http.Request) {
	var expected *int64
	if v, ok := ifMatchVersion(r); ok {
		expected = &v
	}
	if err := h.windows.Delete(r.Context(), authContext(r), r.PathValue("id"), expected); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) duration(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("duration_minutes"))
	if raw == "" {
		return h.defaultDuration, true
	}
	d, err := strconv.Atoi(raw)
	if err != nil || d <= 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "input_invalid", "duration_minutes must be a positive integer")
		return 0, false
	}
	return d, true
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "err", err, "path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"trace_id", otelx.TraceID(r.Context()),
		)
		msg = http.StatusText(status)
	}
	httpx.WriteError(w, r, status, kind.String(), msg)
}

func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindUnauthorized:
		return http.StatusForbidden
	case model.KindInputInvalid:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindStoreUnavailable, model.KindOracleUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func authContext(r *http.Request) model.AuthContext {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return model.AuthContext{}
	}
	return model.AuthContext{UserID: id.UserID, Role: id.Role}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "input_invalid", "invalid json body: "+err.Error())
		return false
	}
	return true
}

// writeWindow writes one window with its version as a weak ETag.
func writeWindow(w http.ResponseWriter, status int, win model.Window) {
	w.Header().Set("ETag", etag(win.Version))
	httpx.WriteJSON(w, status, toWindowResponse(win))
}

func etag(version int64) string {
	return `W/"` + strconv.FormatInt(version, 10) + `"`
}

// ifMatchVersion reads an optimistic version from an If-Match header such as "3" or W/"3".
func ifMatchVersion(r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

type providerResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

type windowResponse struct {
	ID         string          `json:"id"`
	ProviderID string          `json:"provider_id"`
	DayOfWeek  int             `json:"day_of_week"`
	StartTime  model.TimeOfDay `json:"start_time"`
	EndTime    model.TimeOfDay `json:"end_time"`
	Active     bool            `json:"active"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toWindowResponse(w model.Window) windowResponse {
	return windowResponse{
		ID:         w.ID,
		ProviderID: w.ProviderID,
		DayOfWeek:  int(w.DayOfWeek),
		StartTime:  w.StartTime,
		EndTime:    w.EndTime,
		Active:     w.Active,
		Version:    w.Version,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
}
