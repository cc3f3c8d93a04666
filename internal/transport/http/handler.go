package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"QRKot/internal/matcher"
	"QRKot/internal/model"
	"QRKot/internal/repository"
)

// коды ошибок в теле ответа
const (
	errCodeInvalid      = 1
	errCodeInternal     = 2
	errCodeNotFound     = 3
	errCodeUnauthorized = 4
	errCodeForbidden    = 5
)

// ProjectService: операции над проектами, нужные HTTP-слою
type ProjectService interface {
	Create(ctx context.Context, name, description string, fullAmount int64) (*model.CharityProject, error)
	Update(ctx context.Context, id int, upd model.ProjectUpdate) (*model.CharityProject, error)
	Delete(ctx context.Context, id int) (*model.CharityProject, error)
	List(ctx context.Context) ([]model.CharityProject, error)
	Report(ctx context.Context) ([]model.ProjectCompletion, error)
}

// DonationService: операции над пожертвованиями, нужные HTTP-слою
type DonationService interface {
	Create(ctx context.Context, userID int, fullAmount int64, comment *string) (*model.Donation, error)
	List(ctx context.Context) ([]model.Donation, error)
	ListByUser(ctx context.Context, userID int) ([]model.Donation, error)
}

// ReadinessCheck проверяет доступность внешней зависимости
type ReadinessCheck func(ctx context.Context) error

// Handler реализует HTTP API фонда
type Handler struct {
	projects  ProjectService
	donations DonationService
	auth      *Authenticator
	log       zerolog.Logger
	checks    map[string]ReadinessCheck
}

// NewHandler создаёт Handler
func NewHandler(projects ProjectService, donations DonationService, auth *Authenticator, log zerolog.Logger) *Handler {
	return &Handler{projects: projects, donations: donations, auth: auth, log: log, checks: map[string]ReadinessCheck{}}
}

// AddReadinessCheck регистрирует проверку для /readyz
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// RegisterRoutes регистрирует маршруты API
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.Readyz).Methods(http.MethodGet)

	r.HandleFunc("/charity_project/", h.ListProjects).Methods(http.MethodGet)
	r.Handle("/charity_project/", h.auth.RequireSuperuser(http.HandlerFunc(h.CreateProject))).Methods(http.MethodPost)
	r.Handle("/charity_project/report", h.auth.RequireSuperuser(http.HandlerFunc(h.ProjectsReport))).Methods(http.MethodGet)
	r.Handle("/charity_project/{id:[0-9]+}", h.auth.RequireSuperuser(http.HandlerFunc(h.UpdateProject))).Methods(http.MethodPatch)
	r.Handle("/charity_project/{id:[0-9]+}", h.auth.RequireSuperuser(http.HandlerFunc(h.DeleteProject))).Methods(http.MethodDelete)

	r.Handle("/donation/", h.auth.RequireSuperuser(http.HandlerFunc(h.ListDonations))).Methods(http.MethodGet)
	r.Handle("/donation/", h.auth.RequireUser(http.HandlerFunc(h.CreateDonation))).Methods(http.MethodPost)
	r.Handle("/donation/my", h.auth.RequireUser(http.HandlerFunc(h.MyDonations))).Methods(http.MethodGet)
}

// ErrorResponse модель ошибки API
type ErrorResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *model.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, ErrorResponse{errCodeInvalid, vErr.Message, map[string]interface{}{"reason": vErr.Code}})
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrorResponse{errCodeNotFound, "errors.common.notFound", map[string]interface{}{}})
	case errors.Is(err, matcher.ErrConservationViolation):
		// подробности уже залогированы сервисом
		writeError(w, http.StatusInternalServerError, ErrorResponse{errCodeInternal, "internal error", map[string]interface{}{}})
	default:
		h.log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", RequestIDFromContext(r.Context())).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, ErrorResponse{errCodeInternal, "internal error", map[string]interface{}{}})
	}
}

// decodeBody читает JSON-тело, отклоняя неизвестные поля
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{errCodeInvalid, "invalid request body", map[string]interface{}{"error": err.Error()}})
		return false
	}
	return true
}

// ListProjects обрабатывает GET /charity_project/
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, projects)
}

// CreateProject обрабатывает POST /charity_project/
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		FullAmount  int64  `json:"full_amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	project, err := h.projects.Create(r.Context(), req.Name, req.Description, req.FullAmount)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, project)
}

// ProjectsReport обрабатывает GET /charity_project/report
func (h *Handler) ProjectsReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.projects.Report(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, report)
}

// UpdateProject обрабатывает PATCH /charity_project/{id}
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var upd model.ProjectUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	project, err := h.projects.Update(r.Context(), id, upd)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, project)
}

// DeleteProject обрабатывает DELETE /charity_project/{id} и возвращает удалённый проект
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	project, err := h.projects.Delete(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, project)
}

// ListDonations обрабатывает GET /donation/
func (h *Handler) ListDonations(w http.ResponseWriter, r *http.Request) {
	donations, err := h.donations.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, donations)
}

// CreateDonation обрабатывает POST /donation/ от имени текущего пользователя
func (h *Handler) CreateDonation(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	var req struct {
		FullAmount int64   `json:"full_amount"`
		Comment    *string `json:"comment"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	donation, err := h.donations.Create(r.Context(), user.ID, req.FullAmount, req.Comment)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, donation.Short())
}

// MyDonations обрабатывает GET /donation/my
func (h *Handler) MyDonations(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	donations, err := h.donations.ListByUser(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	short := make([]model.DonationShort, 0, len(donations))
	for i := range donations {
		short = append(short, donations[i].Short())
	}
	writeJSON(w, short)
}

// Healthz возвращает статус работы сервиса
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Readyz выполняет зарегистрированные проверки зависимостей
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]interface{}{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{errCodeInternal, "not ready", failed})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// parseID извлекает id из пути; при ошибке сам пишет ответ 400
func parseID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, ErrorResponse{errCodeInvalid, "invalid id", map[string]interface{}{}})
		return 0, false
	}
	return id, true
}
