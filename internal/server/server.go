// Package server exposes the device ingestion API, the admin/kiosk read
// APIs, the SSE alert stream, and the restored auth endpoints.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"smartbin/internal/alert"
	"smartbin/internal/auth"
	"smartbin/internal/category"
	"smartbin/internal/eventlog"
	"smartbin/internal/ingest"
	"smartbin/internal/pubsub"
	"smartbin/internal/telemetry"
)

// ResetDeviceID is attributed to the zero rows inserted by /api/levels/reset.
const ResetDeviceID = "admin"

type Config struct {
	Store     *telemetry.Store
	Log       eventlog.Log
	Ingest    *ingest.Service
	Alerts    *alert.Engine
	Hub       *pubsub.Hub
	Auth      *auth.Manager
	UploadDir string

	// DeviceBurst requests per DeviceWindow per source IP on the push
	// endpoints. Zero values pick the defaults.
	DeviceBurst  int
	DeviceWindow time.Duration
}

type Server struct {
	cfg     Config
	limiter *rateLimiter
	metrics *metricsSet
}

func New(cfg Config) *Server {
	if cfg.DeviceBurst <= 0 {
		cfg.DeviceBurst = 120
	}
	if cfg.DeviceWindow <= 0 {
		cfg.DeviceWindow = time.Minute
	}
	s := &Server{
		cfg:     cfg,
		limiter: newRateLimiter(cfg.DeviceBurst, cfg.DeviceWindow),
	}
	s.metrics = newMetrics(cfg.Hub.SubscriberCount)
	cfg.Alerts.OnAlert(s.metrics.alertsSent.Inc)
	return s
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// device ingestion
	mux.Handle("/begin", s.withDeviceLimit(http.HandlerFunc(s.handleBegin)))
	mux.Handle("/update", s.withDeviceLimit(http.HandlerFunc(s.handleUpdate)))
	mux.Handle("/upload", s.withDeviceLimit(http.HandlerFunc(s.handleUpload)))

	// polling reads
	mux.HandleFunc("/data", s.handleData)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/logs/delete", s.handleLogsDelete)
	mux.HandleFunc("/api/levels", s.handleLevels)
	mux.HandleFunc("/api/levels/logs", s.handleLevelLogs)
	mux.HandleFunc("/api/levels/delete", s.handleLevelsDelete)
	mux.HandleFunc("/api/levels/reset", s.handleLevelsReset)
	mux.HandleFunc("/api/stats", s.handleStats)

	// push channel
	mux.HandleFunc("/alerts/stream", s.cfg.Hub.ServeSSE)
	mux.HandleFunc("/alert", s.handleManualAlert)

	// auth + admin
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.Handle("/api/admin/users", s.cfg.Auth.RequireAdmin(http.HandlerFunc(s.handleUsers)))
	mux.Handle("/api/admin/users/update", s.cfg.Auth.RequireAdmin(http.HandlerFunc(s.handleUsersUpdate)))

	// uploaded images
	mux.Handle("/images/", http.StripPrefix("/images/", http.FileServer(http.Dir(s.cfg.UploadDir))))

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"smartbin"}`))
	})
	mux.Handle("/metrics", s.metrics.handler())

	return withCORS(s.withAccessLog("api", mux))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// --- device ingestion ---

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	begin := s.cfg.Ingest.Begin()
	writeJSON(w, http.StatusOK, map[string]int64{"beginTime": begin})
}

type updateRequest struct {
	Class    string   `json:"class"`
	Level    *float64 `json:"level"`
	DeviceID string   `json:"device_id"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	start := time.Now()

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Class == "" || req.Level == nil {
		writeMessage(w, http.StatusBadRequest, "class and numeric level are required")
		return
	}

	err := s.cfg.Ingest.SubmitLevel(r.Context(), req.Class, *req.Level, req.DeviceID)
	s.metrics.ingestLatency.Observe(time.Since(start).Seconds())

	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		writeMessage(w, http.StatusBadRequest, verr.Error())
	case err != nil:
		writeMessage(w, http.StatusInternalServerError, "서버 에러")
	default:
		w.WriteHeader(http.StatusOK)
	}
}

const maxUploadBytes = 10 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	start := time.Now()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeMessage(w, http.StatusBadRequest, "필수 필드 누락")
		return
	}
	file, header, err := r.FormFile("image")
	class := r.FormValue("class")
	angleStr := r.FormValue("angle")
	if err != nil || class == "" || angleStr == "" {
		writeMessage(w, http.StatusBadRequest, "필수 필드 누락")
		return
	}
	defer file.Close()

	angle, err := strconv.Atoi(angleStr)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "필수 필드 누락")
		return
	}

	stored, err := s.cfg.Ingest.SubmitClassification(
		r.Context(), header.Filename, file, class, angle, r.FormValue("device_id"))
	s.metrics.ingestLatency.Observe(time.Since(start).Seconds())

	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		writeMessage(w, http.StatusBadRequest, "필수 필드 누락")
	case err != nil:
		writeMessage(w, http.StatusInternalServerError, "서버 에러")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "업로드 성공", "filename": stored})
	}
}

// --- polling reads ---

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Store.Snapshot()
	out := make(map[string]any, len(snap.Levels)+2)
	for c, level := range snap.Levels {
		out[string(c)] = level
	}
	out["lastUpdated"] = snap.LastUpdated
	out["lastBegin"] = snap.LastBegin
	writeJSON(w, http.StatusOK, out)
}

type logEntry struct {
	Filename string    `json:"filename"`
	Result   string    `json:"result"`
	Angle    int       `json:"angle"`
	Time     time.Time `json:"time"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var f eventlog.Filter
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	events, err := s.cfg.Log.Classifications(r.Context(), f)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "로그 조회 실패")
		return
	}
	out := make([]logEntry, 0, len(events))
	for _, ev := range events {
		out = append(out, logEntry{
			Filename: ev.StoredName,
			Result:   string(ev.Class),
			Angle:    ev.Angle,
			Time:     ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLogsDelete(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Filename == "" {
		writeMessage(w, http.StatusBadRequest, "파일명이 필요합니다")
		return
	}
	switch err := s.cfg.Log.DeleteClassification(r.Context(), req.Filename); {
	case errors.Is(err, eventlog.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "해당 파일명을 가진 로그를 찾을 수 없습니다")
	case err != nil:
		writeMessage(w, http.StatusInternalServerError, "서버 에러")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

type levelEntry struct {
	Type  string  `json:"type"`
	Level float64 `json:"level"`
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	current, err := s.cfg.Log.CurrentLevels(r.Context())
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "채움률 조회 실패")
		return
	}
	out := make([]levelEntry, 0, len(current))
	for _, c := range category.All {
		if level, ok := current[c]; ok {
			out = append(out, levelEntry{Type: string(c), Level: level})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLevelLogs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.cfg.Log.LevelHistory(r.Context(), eventlog.Filter{})
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "채움률 로그 조회 실패")
		return
	}
	if rows == nil {
		rows = []eventlog.LevelMeasurement{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLevelsDelete(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		writeMessage(w, http.StatusBadRequest, "id 필요")
		return
	}
	switch err := s.cfg.Log.DeleteLevel(r.Context(), req.ID); {
	case errors.Is(err, eventlog.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "존재하지 않는 id")
	case err != nil:
		writeMessage(w, http.StatusInternalServerError, "서버 에러")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *Server) handleLevelsReset(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.cfg.Log.ResetLevels(r.Context(), ResetDeviceID); err != nil {
		writeMessage(w, http.StatusInternalServerError, "초기화 실패")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type statEntry struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.cfg.Log.ClassificationCounts(r.Context())
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "통계 조회 실패")
		return
	}
	out := make([]statEntry, 0, len(counts))
	for _, c := range category.All {
		if n, ok := counts[c]; ok {
			out = append(out, statEntry{Name: string(c), Value: n})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// --- push channel ---

func (s *Server) handleManualAlert(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" || req.Message == "" {
		writeMessage(w, http.StatusBadRequest, "필수 필드 누락")
		return
	}
	s.cfg.Alerts.Manual(category.Category(req.Type), req.Message)
	w.WriteHeader(http.StatusOK)
}

// --- auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "필수 필드 누락")
		return
	}
	switch err := s.cfg.Auth.Register(r.Context(), req.Email, req.Name, req.Password); {
	case errors.Is(err, auth.ErrEmailTaken):
		writeMessage(w, http.StatusBadRequest, "이미 존재하는 이메일입니다")
	case err != nil:
		writeMessage(w, http.StatusBadRequest, err.Error())
	default:
		writeMessage(w, http.StatusCreated, "회원가입 성공. 관리자 승인 후 사용 가능합니다")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "필수 필드 누락")
		return
	}
	res, err := s.cfg.Auth.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrBadCredentials):
		writeMessage(w, http.StatusUnauthorized, "아이디 또는 비밀번호가 틀렸습니다")
	case errors.Is(err, auth.ErrPendingApproval):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"message":  "관리자의 승인이 필요합니다",
			"name":     res.Name,
			"role":     res.Role,
			"approved": res.Approved,
			"token":    res.Token,
		})
	case err != nil:
		writeMessage(w, http.StatusInternalServerError, "서버 에러")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.cfg.Auth.Users(r.Context())
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "사용자 목록 조회 실패")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleUsersUpdate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		ID       int64  `json:"id"`
		Approved bool   `json:"approved"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		writeMessage(w, http.StatusBadRequest, "id 필요")
		return
	}
	switch err := s.cfg.Auth.UpdateUser(r.Context(), req.ID, req.Approved, req.Role); {
	case errors.Is(err, auth.ErrUserNotFound):
		writeMessage(w, http.StatusNotFound, "존재하지 않는 사용자")
	case err != nil:
		writeMessage(w, http.StatusInternalServerError, "사용자 업데이트 실패")
	default:
		writeMessage(w, http.StatusOK, "사용자 정보가 업데이트되었습니다")
	}
}
