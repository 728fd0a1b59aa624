package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/safe-forge/api"
	"github.com/ruteri/safe-forge/interfaces"
	"github.com/ruteri/safe-forge/registry"
)

const defaultMaxBodySize = 4 << 20

// RequestError provides structured error information for HTTP responses.
// It includes both an HTTP status code and the underlying error.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func badRequest(format string, args ...any) *RequestError {
	return &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf(format, args...)}
}

// Handler translates HTTP requests into forge operations.
type Handler struct {
	forge   interfaces.Forge
	log     *slog.Logger
	maxBody int64
	now     func() time.Time
}

func NewHandler(forge interfaces.Forge, log *slog.Logger) *Handler {
	return &Handler{
		forge:   forge,
		log:     log,
		maxBody: defaultMaxBodySize,
		now:     time.Now,
	}
}

// WithMaxBodySize caps request bodies. Non-positive values are ignored.
func (h *Handler) WithMaxBodySize(n int64) *Handler {
	if n > 0 {
		h.maxBody = n
	}
	return h
}

// Routes mounts the API on r. Mutating routes require a signed request.
func (h *Handler) Routes(r chi.Router) {
	r.Get(api.AdminsPath, h.HandleListAdmins)
	r.Get(api.AdminsPath+"/{principal}", h.HandleIsAdmin)
	r.Get(api.TemplatesPath, h.HandleListTemplates)
	r.Get(api.TemplatesPath+"/{name}", h.HandleGetTemplate)
	r.Get(api.TemplatesPath+"/{name}/code", h.HandleTemplateCode)
	r.Get(api.EventsPath, h.HandleListEvents)
	r.Get(api.EventsPath+"/{id}", h.HandleGetEvent)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireSignature)
		r.Post(api.AdminsPath, h.HandleAddAdmin)
		r.Post(api.TemplatesPath, h.HandleRegisterTemplate)
		r.Post(api.TemplatesPath+"/{name}/approve", h.HandleApproveTemplate)
		r.Post(api.TemplatesPath+"/{name}/generate", h.HandleGenerateContract)
	})
}

func (h *Handler) HandleListAdmins(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.AdminsResponse{Admins: h.forge.Admins()})
}

func (h *Handler) HandleIsAdmin(w http.ResponseWriter, r *http.Request) {
	p, err := interfaces.NewPrincipalFromHex(chi.URLParam(r, "principal"))
	if err != nil {
		h.writeError(w, r, badRequest("%v", err))
		return
	}
	h.writeJSON(w, http.StatusOK, api.IsAdminResponse{Principal: p, Admin: h.forge.IsAuthorizedAdmin(p)})
}

func (h *Handler) HandleAddAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req api.AddAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Principal.IsZero() {
		h.writeError(w, r, badRequest("principal is required"))
		return
	}

	result, err := h.forge.AddAdmin(r.Context(), caller, req.Principal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ResultResponse{Result: result})
}

func (h *Handler) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates := h.forge.Templates()
	resp := api.TemplatesResponse{Templates: make([]api.TemplateSummary, 0, len(templates))}
	for _, t := range templates {
		resp.Templates = append(resp.Templates, api.NewTemplateSummary(t))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleRegisterTemplate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req api.RegisterTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.forge.RegisterTemplate(r.Context(), caller, req.Name, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ResultResponse{Result: result})
}

func (h *Handler) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	name, err := templateName(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	t, err := h.forge.Template(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// HandleTemplateCode serves the raw payload with its content id as ETag.
func (h *Handler) HandleTemplateCode(w http.ResponseWriter, r *http.Request) {
	name, err := templateName(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	t, err := h.forge.Template(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if id := interfaces.ComputeID(t.Code); id != t.CodeID {
		h.writeError(w, r, fmt.Errorf("stored code of %q does not match content id %s", name, t.CodeID))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("ETag", `"`+t.CodeID.String()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(t.Code)
}

func (h *Handler) HandleApproveTemplate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	name, err := templateName(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.forge.ApproveTemplate(r.Context(), caller, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ResultResponse{Result: result})
}

func (h *Handler) HandleGenerateContract(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	name, err := templateName(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req api.GenerateContractRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	event, err := h.forge.GenerateContract(r.Context(), caller, name, req.DeploymentData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, event)
}

func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var after uint64
	if s := q.Get("after"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			h.writeError(w, r, badRequest("invalid after %q", s))
			return
		}
		after = v
	}

	limit := registry.DefaultEventPageSize
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			h.writeError(w, r, badRequest("invalid limit %q", s))
			return
		}
		limit = min(v, registry.MaxEventPageSize)
	}

	events := h.forge.Events(after, limit)
	resp := api.EventsResponse{Events: events}
	if len(events) == limit {
		resp.Next = events[len(events)-1].EventID
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, badRequest("invalid event id %q", chi.URLParam(r, "id")))
		return
	}

	event, err := h.forge.Event(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, event)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (interfaces.Principal, bool) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		h.writeError(w, r, &RequestError{StatusCode: http.StatusUnauthorized, Err: errors.New("unauthenticated request")})
	}
	return caller, ok
}

// templateName returns the decoded {name} param. chi matches against
// RawPath when the request has one, so only then is the param still escaped.
func templateName(r *http.Request) (interfaces.TemplateName, error) {
	raw := chi.URLParam(r, "name")
	if r.URL.RawPath == "" {
		return interfaces.TemplateName(raw), nil
	}
	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", badRequest("invalid template name %q", raw)
	}
	return interfaces.TemplateName(name), nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes. Only ForgeErrors carry
// a wire code in the response body.
func statusFor(err error) (int, uint32) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode, 0
	}

	if kind, ok := interfaces.KindOf(err); ok {
		switch kind {
		case interfaces.NotAuthorized:
			return http.StatusForbidden, kind.Code()
		case interfaces.TemplateNotFound:
			return http.StatusNotFound, kind.Code()
		case interfaces.TemplateAlreadyExists:
			return http.StatusConflict, kind.Code()
		case interfaces.InvalidTemplate:
			return http.StatusUnprocessableEntity, kind.Code()
		default:
			return http.StatusInternalServerError, kind.Code()
		}
	}

	switch {
	case errors.Is(err, interfaces.ErrInvalidTemplateName):
		return http.StatusBadRequest, 0
	case errors.Is(err, interfaces.ErrEventNotFound):
		return http.StatusNotFound, 0
	default:
		return http.StatusInternalServerError, 0
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	msg := err.Error()
	if status == http.StatusInternalServerError && code == 0 {
		h.log.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			"err", err)
		msg = "internal error"
	} else {
		h.log.Debug("Request rejected",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			"err", err)
	}

	h.writeJSON(w, status, api.ErrorResponse{Code: int(code), Error: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
