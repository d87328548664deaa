// Package server exposes the administrative JSON API over the lifecycle engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"content-pilot/internal/compose"
	"content-pilot/internal/dashboard"
	"content-pilot/internal/importer"
	"content-pilot/internal/lifecycle"
	"content-pilot/internal/model"
	"content-pilot/internal/ports"
	"content-pilot/internal/store"
	"content-pilot/internal/worker"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Lifecycle is the set of transitions an administrator may trigger by hand.
type Lifecycle interface {
	Approve(ctx context.Context, id uuid.UUID) (*model.Article, error)
	Publish(ctx context.Context, id uuid.UUID, guard lifecycle.Guard) (lifecycle.PublishOutcome, error)
	SoftDelete(ctx context.Context, id uuid.UUID) (*model.Article, error)
	Restore(ctx context.Context, id uuid.UUID) (*model.Article, error)
	Edit(ctx context.Context, id uuid.UUID, title, content string) (*model.Article, error)
	Reoptimize(ctx context.Context, id uuid.UUID, mode lifecycle.Mode, guard lifecycle.Guard) (*model.Article, error)
	SetAds(ctx context.Context, id uuid.UUID, enabled bool) (*model.Article, error)
	SetAutoPublish(ctx context.Context, id uuid.UUID, enabled bool) (*model.Article, error)
	RecordView(ctx context.Context, id uuid.UUID) (*model.Article, error)
}

type Composer interface {
	FromTopic(ctx context.Context, topic string) (*model.Article, error)
}

type Importer interface {
	Import(ctx context.Context, rawURL string) (*model.Article, error)
}

type Jobs interface {
	Jobs() []string
	RunNow(ctx context.Context, name string) (worker.BatchReport, error)
}

// Deps wires the server. Composer, Importer, Queue and Jobs are optional;
// their routes answer 503 when unset.
type Deps struct {
	Store     store.Store
	Lifecycle Lifecycle
	Switch    ports.Switch
	Dashboard *dashboard.Service
	Composer  Composer
	Importer  Importer
	// Queue, when set, makes imports asynchronous.
	Queue  store.ImportQueue
	Jobs   Jobs
	Logger *zap.Logger
}

type Server struct {
	deps   Deps
	logger *zap.Logger
	router *mux.Router
	server *http.Server
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		logger: logger,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/articles", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/articles/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/articles/{id}", s.handleEdit).Methods(http.MethodPut)
	api.HandleFunc("/articles/{id}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/articles/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	api.HandleFunc("/articles/{id}/publish", s.handlePublish).Methods(http.MethodPost)
	api.HandleFunc("/articles/{id}/restore", s.handleRestore).Methods(http.MethodPost)
	api.HandleFunc("/articles/{id}/reoptimize", s.handleReoptimize).Methods(http.MethodPost)
	api.HandleFunc("/articles/{id}/ads", s.handleFlag(lifecycleSetAds)).Methods(http.MethodPut)
	api.HandleFunc("/articles/{id}/auto-publish", s.handleFlag(lifecycleSetAutoPublish)).Methods(http.MethodPut)
	api.HandleFunc("/articles/{id}/views", s.handleView).Methods(http.MethodPost)

	api.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/import", s.handleImport).Methods(http.MethodPost)

	api.HandleFunc("/auto-publish", s.handleSwitchStatus).Methods(http.MethodGet)
	api.HandleFunc("/auto-publish/pause", s.handleSwitch(false)).Methods(http.MethodPost)
	api.HandleFunc("/auto-publish/resume", s.handleSwitch(true)).Methods(http.MethodPost)

	api.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{name}/run", s.handleRunJob).Methods(http.MethodPost)

	api.HandleFunc("/dashboard/overview", s.handleOverview).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/low-view", s.handleLowView).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/top", s.handleTop).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/topics", s.handleTopics).Methods(http.MethodGet)
}

// Start launches the HTTP server
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		// Manual publish and re-optimize wait on the generator and publisher.
		WriteTimeout: 5 * time.Minute,
	}

	s.logger.Info("Admin API listening", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var filter store.Filter
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := model.ArticleStatus(strings.TrimSpace(part))
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(part))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	articles, err := s.deps.Store.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if articles == nil {
		articles = []model.Article{}
	}
	writeJSON(w, http.StatusOK, articles)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	article, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, article)
}

type editRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	var req editRequest
	if !decode(w, r, &req) {
		return
	}
	s.respond(w, r, http.StatusOK)(s.deps.Lifecycle.Edit(r.Context(), id, req.Title, req.Content))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	s.respond(w, r, http.StatusOK)(s.deps.Lifecycle.SoftDelete(r.Context(), id))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	s.respond(w, r, http.StatusOK)(s.deps.Lifecycle.Approve(r.Context(), id))
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	s.respond(w, r, http.StatusOK)(s.deps.Lifecycle.Restore(r.Context(), id))
}

type publishResponse struct {
	Message string         `json:"message"`
	URL     string         `json:"url,omitempty"`
	Article *model.Article `json:"article"`
}

// handlePublish bypasses the selector; only the lifecycle preconditions apply.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	out, err := s.deps.Lifecycle.Publish(r.Context(), id, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publishResponse{Message: out.Message(), URL: out.Article.URL, Article: &out.Article})
}

func (s *Server) handleReoptimize(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	mode := lifecycle.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = lifecycle.ModeRefresh
	}
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "mode must be ctr or refresh")
		return
	}
	s.respond(w, r, http.StatusOK)(s.deps.Lifecycle.Reoptimize(r.Context(), id, mode, nil))
}

type flagRequest struct {
	Enabled *bool `json:"enabled"`
}

type flagSetter func(l Lifecycle, ctx context.Context, id uuid.UUID, enabled bool) (*model.Article, error)

func lifecycleSetAds(l Lifecycle, ctx context.Context, id uuid.UUID, enabled bool) (*model.Article, error) {
	return l.SetAds(ctx, id, enabled)
}

func lifecycleSetAutoPublish(l Lifecycle, ctx context.Context, id uuid.UUID, enabled bool) (*model.Article, error) {
	return l.SetAutoPublish(ctx, id, enabled)
}

func (s *Server) handleFlag(set flagSetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := articleID(w, r)
		if !ok {
			return
		}
		var req flagRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "enabled is required")
			return
		}
		s.respond(w, r, http.StatusOK)(set(s.deps.Lifecycle, r.Context(), id, *req.Enabled))
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	id, ok := articleID(w, r)
	if !ok {
		return
	}
	article, err := s.deps.Lifecycle.RecordView(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"view_count": article.ViewCount})
}

type generateRequest struct {
	Topic string `json:"topic"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Composer == nil {
		writeError(w, http.StatusServiceUnavailable, "generation is not configured")
		return
	}
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	s.respond(w, r, http.StatusCreated)(s.deps.Composer.FromTopic(r.Context(), req.Topic))
}

type importRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decode(w, r, &req) {
		return
	}
	if s.deps.Queue != nil {
		if err := importer.Validate(req.URL); err != nil {
			s.fail(w, r, err)
			return
		}
		if err := s.deps.Queue.EnqueueImport(r.Context(), strings.TrimSpace(req.URL)); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "import queued", "url": req.URL})
		return
	}
	if s.deps.Importer == nil {
		writeError(w, http.StatusServiceUnavailable, "import is not configured")
		return
	}
	s.respond(w, r, http.StatusCreated)(s.deps.Importer.Import(r.Context(), req.URL))
}

func (s *Server) handleSwitchStatus(w http.ResponseWriter, r *http.Request) {
	enabled, err := s.deps.Switch.Enabled(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) handleSwitch(enabled bool) http.HandlerFunc {
	msg := "Auto publishing paused"
	if enabled {
		msg = "Auto publishing resumed"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.deps.Switch.SetEnabled(r.Context(), enabled); err != nil {
			s.fail(w, r, err)
			return
		}
		s.logger.Info(msg)
		writeJSON(w, http.StatusOK, map[string]any{"message": msg, "enabled": enabled})
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Jobs.Jobs())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is not configured")
		return
	}
	report, err := s.deps.Jobs.RunNow(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.deps.Dashboard.Overview(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleLowView(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Dashboard.LowView(r.Context(), limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Dashboard.Top(r.Context(), limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.deps.Dashboard.Topics(r.Context(), limitParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if topics == nil {
		topics = []model.TopicUsage{}
	}
	writeJSON(w, http.StatusOK, topics)
}

// respond writes the article returned by a transition, or maps its error.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int) func(*model.Article, error) {
	return func(a *model.Article, err error) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, code, a)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, code, err.Error())
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, worker.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrPolicyViolation),
		errors.Is(err, compose.ErrNoAllowedTopic),
		errors.Is(err, compose.ErrTopicOnHold),
		errors.Is(err, worker.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, importer.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrCollaborator), errors.Is(err, ports.ErrEmptyOutput):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func articleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid article id")
		return uuid.Nil, false
	}
	return id, true
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return dashboard.DefaultLimit
	}
	return n
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
