// Package handler wires the certificate lifecycle to HTTP. The submission
// route is the only one holding the user-scoped lock: the guard inside the
// service is racy without it.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"crcert/internal/certificate/models"
	"crcert/internal/certificate/service"
	"crcert/internal/locker"
	"crcert/pkg/domainerrors"
	"crcert/pkg/platform/httputil"
	"crcert/pkg/requestcontext"
)

const (
	defaultPageSize = 100
	lockPrefix      = "criminal-cert-submission:"
)

type Handler struct {
	service *service.Service
	locks   locker.Locker
	log     *slog.Logger
}

func New(service *service.Service, locks locker.Locker, log *slog.Logger) *Handler {
	return &Handler{service: service, locks: locks, log: log}
}

// Register mounts the certificate endpoints on the router. The caller is
// expected to have the auth middleware installed above this subtree.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1/criminal-cert", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{applicationId}", h.HandleGet)
		r.Get("/{applicationId}/download", h.HandleDownloadArchive)
		r.Get("/{applicationId}/pdf", h.HandleDownloadPdf)
		r.Get("/{applicationId}/order-result", h.HandleOrderResult)

		r.Route("/application", func(r chi.Router) {
			r.Get("/info", h.HandleInfo)
			r.Get("/reasons", h.HandleReasons)
			r.Get("/types", h.HandleTypes)
			r.Post("/screen/{screen}", h.HandleScreen)
			r.Post("/confirmation", h.HandleConfirmation)
			r.Post("/", h.HandleSend)
		})
	})
	r.Post("/api/v1/public-service/criminal-cert/check", h.HandlePublicServiceCheck)
	r.Get("/api/v1/public-service/criminal-cert/{applicationId}/pdf", h.HandlePdfToProcess)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) *models.User {
	user := requestcontext.User(r.Context())
	if user == nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeUnauthorized, "authentication required"))
	}
	return user
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := h.user(w, r)
	if user == nil {
		return
	}

	form, err := httputil.DecodeJSON[models.ApplicationRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var result *service.SendResult
	err = h.locks.WithLock(ctx, lockPrefix+user.Identifier, func(ctx context.Context) error {
		var sendErr error
		result, sendErr = h.service.SendApplication(ctx, user, requestcontext.MobileUID(ctx), form)
		return sendErr
	})
	if err != nil {
		h.log.Error("application submission failed", "userIdentifier", user.Identifier, "err", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleConfirmation(w http.ResponseWriter, r *http.Request) {
	user := h.user(w, r)
	if user == nil {
		return
	}

	form, err := httputil.DecodeJSON[models.ApplicationRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	confirmation, err := h.service.Confirmation(r.Context(), user, form)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, confirmation)
}

func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	user := h.user(w, r)
	if user == nil {
		return
	}

	initiator := models.PublicServiceCode(r.URL.Query().Get("publicService"))
	info, err := h.service.ApplicationInfo(r.Context(), user, initiator)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (h *Handler) HandleReasons(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"reasons": h.service.Reasons()})
}

func (h *Handler) HandleTypes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"types": h.service.Types()})
}

func (h *Handler) HandleScreen(w http.ResponseWriter, r *http.Request) {
	user := h.user(w, r)
	if user == nil {
		return
	}

	form, err := httputil.DecodeJSON[models.ApplicationRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	screen := models.Screen(chi.URLParam(r, "screen"))
	state, err := h.service.ResolveScreen(r.Context(), user, form, screen)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user := h.user(w, r)
	if user == nil {
		return
	}

	status := models.Status(r.URL.Query().Get("status"))
	if status != models.StatusProcessing && status != models.StatusDone {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "status must be processing or done"))
		return
	}

	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", defaultPageSize)

	result, err := h.service.List(r.Context(), user, status, skip, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user := h.user(w, r)
	if user == nil {
		return
	}

	detail, err := h.service.GetByID(r.Context(), user, chi.URLParam(r, "applicationId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) HandleDownloadArchive(w http.ResponseWriter, r *http.Request) {
	user := h.user(w, r)
	if user == nil {
		return
	}

	doc, err := h.service.DownloadArchive(r.Context(), user, chi.URLParam(r, "applicationId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) HandleDownloadPdf(w http.ResponseWriter, r *http.Request) {
	user := h.user(w, r)
	if user == nil {
		return
	}

	doc, err := h.service.DownloadPdf(r.Context(), user, chi.URLParam(r, "applicationId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) HandleOrderResult(w http.ResponseWriter, r *http.Request) {
	user := h.user(w, r)
	if user == nil {
		return
	}

	result, err := h.service.OrderResult(r.Context(), user, chi.URLParam(r, "applicationId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandlePdfToProcess serves other services that hold an application id
// without a user scope; it leaves the owner's action flags alone.
func (h *Handler) HandlePdfToProcess(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.DownloadPdfToProcess(r.Context(), chi.URLParam(r, "applicationId"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

type publicServiceCheckRequest struct {
	PublicServiceCode models.PublicServiceCode `json:"publicServiceCode"`
	ResourceID        string                   `json:"resourceId,omitempty"`
}

func (h *Handler) HandlePublicServiceCheck(w http.ResponseWriter, r *http.Request) {
	user := h.user(w, r)
	if user == nil {
		return
	}

	req, err := httputil.DecodeJSON[publicServiceCheckRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.PublicServiceCode == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "publicServiceCode is required"))
		return
	}

	check, err := h.service.CheckApplicationForPublicService(r.Context(), user, req.PublicServiceCode, req.ResourceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, check)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
