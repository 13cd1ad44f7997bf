package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SalesIntel/internal/auth"
	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/knowledge"
	"SalesIntel/internal/observability/metrics"
	"SalesIntel/internal/storage/mysql"
	"SalesIntel/internal/task"
	"SalesIntel/pkg/logger"
)

const maxBodyBytes = 1 << 20

// RunService 是 API 依赖的任务服务能力，task.Service 是默认实现。
type RunService interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Task, error)
	Stats(ctx context.Context, opts ...task.ListOption) (task.TaskStats, error)
}

// KnowledgeMatcher 是知识库查询能力，knowledge.Engine 是默认实现。
type KnowledgeMatcher interface {
	Match(query string) knowledge.Result
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr         string
	runs         RunService
	reports      mysql.ReportRepository
	knowledge    KnowledgeMatcher
	auth         *auth.Service
	metrics      *metrics.Collector
	metricsPath  string
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithReports 配置报告历史仓库。
func WithReports(repo mysql.ReportRepository) Option {
	return func(s *Server) { s.reports = repo }
}

// WithKnowledge 配置知识库查询。
func WithKnowledge(matcher KnowledgeMatcher) Option {
	return func(s *Server) { s.knowledge = matcher }
}

// WithAuth 配置 API Key 认证。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithMetrics 配置指标采集与暴露路径。
func WithMetrics(collector *metrics.Collector, path string) Option {
	return func(s *Server) {
		s.metrics = collector
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithTimeouts 配置 HTTP 读写超时。
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runs RunService, opts ...Option) *Server {
	s := &Server{addr: addr, runs: runs, metricsPath: "/metrics"}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Handler 返回完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/runs", "runs.create", auth.PermissionRunsWrite, s.handleCreateRun)
	s.route(mux, "GET /api/v1/runs", "runs.list", auth.PermissionRunsRead, s.handleListRuns)
	s.route(mux, "GET /api/v1/runs/stats", "runs.stats", auth.PermissionRunsRead, s.handleRunStats)
	s.route(mux, "GET /api/v1/runs/{id}", "runs.get", auth.PermissionRunsRead, s.handleRunDetail)
	s.route(mux, "GET /api/v1/reports", "reports.list", auth.PermissionRunsRead, s.handleListReports)
	s.route(mux, "GET /api/v1/reports/{id}", "reports.get", auth.PermissionRunsRead, s.handleReportDetail)
	s.route(mux, "POST /api/v1/knowledge/lookup", "knowledge.lookup", auth.PermissionKnowledgeRead, s.handleKnowledgeLookup)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, event, permission string, fn http.HandlerFunc) {
	var handler http.Handler = fn
	handler = s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {permission}},
		AuditEvent:          event,
	})(handler)
	handler = s.metrics.Middleware(event, handler)
	mux.Handle(pattern, handler)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type createRunRequest struct {
	ID               string   `json:"id,omitempty"`
	TargetName       string   `json:"target_name"`
	Industry         string   `json:"industry"`
	KeyDecisionMaker string   `json:"key_decision_maker,omitempty"`
	Position         string   `json:"position,omitempty"`
	Milestone        string   `json:"milestone,omitempty"`
	Recipients       []string `json:"recipients,omitempty"`
	SendEmail        bool     `json:"send_email"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	submit := task.SubmitRequest{
		ID:         req.ID,
		Recipients: req.Recipients,
		SendEmail:  req.SendEmail,
	}
	submit.Target.Name = req.TargetName
	submit.Target.Industry = req.Industry
	submit.Target.KeyDecisionMaker = req.KeyDecisionMaker
	submit.Target.Position = req.Position
	submit.Target.Milestone = req.Milestone

	created, err := s.runs.Submit(r.Context(), submit)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("运行已受理",
		slog.String("run_id", created.ID),
		slog.String("target", created.Target.Name),
		slog.String("caller", auth.CallerName(r.Context())),
	)
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": tasks})
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.runs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	found, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "报告仓库未配置"))
		return
	}
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.reports.ListLatest(r.Context(), limit)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询报告历史失败"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": records})
}

func (s *Server) handleReportDetail(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "报告仓库未配置"))
		return
	}
	record, err := s.reports.FindByRunID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, mysql.ErrNotFound) {
			writeError(w, xerrors.Wrap(xerrors.CodeNotFound, err, "report not found"))
			return
		}
		writeError(w, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询报告失败"))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type lookupRequest struct {
	Query string `json:"query"`
}

type lookupResponse struct {
	Answer   string `json:"answer"`
	Tier     string `json:"tier"`
	Category string `json:"category,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

func (s *Server) handleKnowledgeLookup(w http.ResponseWriter, r *http.Request) {
	if s.knowledge == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "知识库未加载"))
		return
	}
	var req lookupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result := s.knowledge.Match(req.Query)
	writeJSON(w, http.StatusOK, lookupResponse{
		Answer:   result.Text,
		Tier:     result.Tier.String(),
		Category: result.Category,
		Topic:    result.Topic,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	opts := make([]task.ListOption, 0, 5)

	limit, err := intParam(r, "limit", 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		opts = append(opts, task.WithLimit(limit))
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown status: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	switch strings.ToLower(strings.TrimSpace(query.Get("order"))) {
	case "", "desc":
	case "asc":
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "order must be asc or desc")
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	if industry := query.Get("industry"); industry != "" {
		opts = append(opts, task.WithIndustry(industry))
	}
	if raw := query.Get("has_result"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result must be a boolean")
		}
		opts = append(opts, task.WithResultPresence(has))
	}
	return opts, nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, name+" must be a non-negative integer")
	}
	return value, nil
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
