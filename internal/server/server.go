package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/lifecycle"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/notify"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/reconcile"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/thresholds"
)

// ActorHeader carries the id of the user performing a request.
const ActorHeader = "X-User-ID"

const requestTimeout = 10 * time.Second

// Reconciler runs an on-demand reconciliation.
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Result, error)
}

// Dispatcher notifies the recipients of an alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *model.Alert) (*notify.Report, error)
}

// NotificationLister reads persisted in-app notifications.
type NotificationLister interface {
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error)
}

// Deps are the services behind the API. Nil optional fields disable their
// routes.
type Deps struct {
	Alerts        *lifecycle.Manager
	Reconciler    Reconciler
	Dispatcher    Dispatcher
	Thresholds    *thresholds.Registry
	Notifications NotificationLister
	Metrics       http.Handler
	Realtime      http.Handler
}

// Server provides the alert API.
type Server struct {
	deps   Deps
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates an API server.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /api/v1/alerts", s.handleListAlerts)
	s.mux.HandleFunc("POST /api/v1/alerts", s.handleCreateAlert)
	s.mux.HandleFunc("GET /api/v1/alerts/{id}", s.handleGetAlert)
	s.mux.HandleFunc("GET /api/v1/alerts/{id}/history", s.handleHistory)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/send", s.handleSend)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/acknowledge", s.handleAcknowledge)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/progress", s.handleProgress)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", s.handleResolve)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/archive", s.handleArchive)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/comments", s.handleComment)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	if s.deps.Dispatcher != nil {
		s.mux.HandleFunc("POST /api/v1/alerts/{id}/notify", s.handleNotify)
	}
	if s.deps.Reconciler != nil {
		s.mux.HandleFunc("POST /api/v1/reconcile", s.handleReconcile)
	}
	if s.deps.Thresholds != nil {
		s.mux.HandleFunc("GET /api/v1/thresholds", s.handleListThresholds)
		s.mux.HandleFunc("PUT /api/v1/thresholds", s.handleSetThreshold)
	}
	if s.deps.Notifications != nil {
		s.mux.HandleFunc("GET /api/v1/notifications", s.handleNotifications)
	}
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}
	if s.deps.Realtime != nil {
		s.mux.Handle("GET /ws", s.deps.Realtime)
	}
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListAlerts serves the named views (pending, active, resolved,
// archived) or a free filter when no view is given.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	q := r.URL.Query()
	user := q.Get("user")

	var (
		alerts []model.Alert
		err    error
	)
	switch view := q.Get("view"); view {
	case "pending":
		alerts, err = s.deps.Alerts.PendingDecision(ctx)
	case "active":
		alerts, err = s.deps.Alerts.Active(ctx, user)
	case "resolved":
		alerts, err = s.deps.Alerts.RecentlyResolved(ctx, user)
	case "archived":
		alerts, err = s.deps.Alerts.Archived(ctx, user)
	case "":
		filter, ferr := filterFromQuery(q.Get("status"), q.Get("kpi"), q.Get("severity"), q.Get("limit"))
		if ferr != nil {
			writeError(w, http.StatusBadRequest, ferr.Error())
			return
		}
		filter.Recipient = user
		filter.RelatedInvoiceID = q.Get("invoice")
		alerts, err = s.deps.Alerts.Search(ctx, filter)
	default:
		writeError(w, http.StatusBadRequest, "unknown view "+strconv.Quote(view))
		return
	}
	if err != nil {
		s.fail(w, "list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func filterFromQuery(status, kpi, severity, limit string) (model.AlertFilter, error) {
	var f model.AlertFilter
	for _, v := range splitList(status) {
		st, err := model.ParseAlertStatus(v)
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	f.KpiNames = splitList(kpi)
	if severity != "" {
		sev, err := model.ParseSeverity(strings.ToUpper(severity))
		if err != nil {
			return f, err
		}
		f.Severity = sev
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return f, errors.New("invalid limit")
		}
		f.Limit = n
	}
	return f, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type createAlertRequest struct {
	KpiName          string             `json:"kpi_name"`
	Dimension        string             `json:"dimension"`
	DimensionValue   string             `json:"dimension_value"`
	CurrentValue     float64            `json:"current_value"`
	ThresholdValue   float64            `json:"threshold_value"`
	Severity         model.Severity     `json:"severity"`
	Status           model.HealthStatus `json:"status"`
	Message          string             `json:"message"`
	Recommendation   string             `json:"recommendation"`
	RelatedInvoiceID string             `json:"related_invoice_id"`
	Metadata         map[string]string  `json:"metadata"`
	Notify           bool               `json:"notify"`
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createAlertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.KpiName == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "kpi_name and message are required")
		return
	}
	if req.Severity != "" && !req.Severity.Valid() {
		writeError(w, http.StatusBadRequest, "invalid severity "+strconv.Quote(string(req.Severity)))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alert, err := s.deps.Alerts.Create(ctx, &model.Alert{
		KpiName:          req.KpiName,
		Dimension:        req.Dimension,
		DimensionValue:   req.DimensionValue,
		CurrentValue:     req.CurrentValue,
		ThresholdValue:   req.ThresholdValue,
		Severity:         req.Severity,
		Status:           req.Status,
		Message:          req.Message,
		Recommendation:   req.Recommendation,
		RelatedInvoiceID: req.RelatedInvoiceID,
		Metadata:         req.Metadata,
	}, actor)
	if err != nil {
		s.fail(w, "create alert", err)
		return
	}

	if req.Notify && s.deps.Dispatcher != nil {
		if _, err := s.deps.Dispatcher.Dispatch(ctx, alert); err != nil {
			s.logger.Error("dispatch created alert", "alert_id", alert.ID, "error", err)
		} else if fresh, err := s.deps.Alerts.Get(ctx, alert.ID); err == nil {
			alert = fresh
		}
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alert, err := s.deps.Alerts.Get(ctx, r.PathValue("id"))
	if err != nil {
		s.fail(w, "get alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	history, err := s.deps.Alerts.History(ctx, r.PathValue("id"))
	if err != nil {
		s.fail(w, "alert history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type transitionFunc func(ctx context.Context, id, actor, comment string) (*model.Alert, error)

func (s *Server) commentTransition(w http.ResponseWriter, r *http.Request, op string, fn transitionFunc) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req commentRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alert, err := fn(ctx, r.PathValue("id"), actor, req.Comment)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	s.commentTransition(w, r, "send alert", s.deps.Alerts.SendToProjectManager)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.commentTransition(w, r, "acknowledge alert", s.deps.Alerts.Acknowledge)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.commentTransition(w, r, "mark alert in progress", s.deps.Alerts.MarkInProgress)
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	s.commentTransition(w, r, "comment alert", func(ctx context.Context, id, actor, comment string) (*model.Alert, error) {
		if strings.TrimSpace(comment) == "" {
			return nil, errBadRequest("comment is required")
		}
		return s.deps.Alerts.AddComment(ctx, id, actor, comment)
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req lifecycle.Resolution
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alert, err := s.deps.Alerts.Resolve(ctx, r.PathValue("id"), actor, req)
	if err != nil {
		s.fail(w, "resolve alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alert, err := s.deps.Alerts.Archive(ctx, r.PathValue("id"), actor)
	if err != nil {
		s.fail(w, "archive alert", err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alert, err := s.deps.Alerts.Get(ctx, r.PathValue("id"))
	if err != nil {
		s.fail(w, "get alert", err)
		return
	}
	report, err := s.deps.Dispatcher.Dispatch(ctx, alert)
	if err != nil {
		s.fail(w, "dispatch alert", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	stats, err := s.deps.Alerts.Statistics(ctx, r.URL.Query().Get("user"))
	if err != nil {
		s.fail(w, "alert statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Reconciler.RunOnce(r.Context())
	if err != nil {
		s.fail(w, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.deps.Thresholds.Reload(ctx); err != nil {
		s.fail(w, "list thresholds", err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Thresholds.All())
}

// thresholdRequest is the PUT body. Omitted levels are rejected and an
// omitted enabled flag means enabled.
type thresholdRequest struct {
	KpiName        string   `json:"kpi_name"`
	Dimension      string   `json:"dimension"`
	DimensionValue string   `json:"dimension_value"`
	Low            *float64 `json:"low_threshold"`
	High           *float64 `json:"high_threshold"`
	Unit           string   `json:"unit"`
	Description    string   `json:"description"`
	Enabled        *bool    `json:"enabled"`
}

func (req thresholdRequest) threshold() (model.Threshold, error) {
	if req.KpiName == "" {
		return model.Threshold{}, errBadRequest("kpi_name is required")
	}
	if req.Low == nil || req.High == nil {
		return model.Threshold{}, errBadRequest("low_threshold and high_threshold are required")
	}
	t := model.Threshold{
		KpiName:        req.KpiName,
		Dimension:      req.Dimension,
		DimensionValue: req.DimensionValue,
		Low:            *req.Low,
		High:           *req.High,
		Unit:           req.Unit,
		Description:    req.Description,
		Enabled:        req.Enabled == nil || *req.Enabled,
	}
	if t.Dimension == "" {
		t.Dimension = model.DimensionGlobal
	}
	return t, nil
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := req.threshold()
	if err != nil {
		s.fail(w, "set threshold", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.deps.Thresholds.Apply(ctx, []model.Threshold{t}); err != nil {
		s.fail(w, "set threshold", err)
		return
	}
	stored, _ := s.deps.Thresholds.Lookup(t.KpiName, t.Dimension, t.DimensionValue)
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	list, err := s.deps.Notifications.ListNotifications(ctx, user, r.URL.Query().Get("unread") == "true")
	if err != nil {
		s.fail(w, "list notifications", err)
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}
