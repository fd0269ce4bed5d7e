package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/columbiaprep/house-points-app-sub000/internal/config"
	"github.com/columbiaprep/house-points-app-sub000/internal/ctxutil"
	"github.com/columbiaprep/house-points-app-sub000/internal/db"
	"github.com/columbiaprep/house-points-app-sub000/internal/export"
	"github.com/columbiaprep/house-points-app-sub000/internal/metrics"
	"github.com/columbiaprep/house-points-app-sub000/internal/models"
	"github.com/columbiaprep/house-points-app-sub000/internal/notify"
	"github.com/columbiaprep/house-points-app-sub000/internal/observability"
	"github.com/columbiaprep/house-points-app-sub000/internal/points"
	"github.com/columbiaprep/house-points-app-sub000/internal/roster"
)

const defaultEventLimit = 100

type Server struct {
	srv      *http.Server
	svc      *points.Service
	db       *sql.DB
	log      *zap.SugaredLogger
	notifier *notify.Notifier
}

func StartHTTP(ctx context.Context, cfg *config.Config, svc *points.Service, database *sql.DB, log *zap.SugaredLogger, notifier *notify.Notifier) *Server {
	s := &Server{svc: svc, db: database, log: log, notifier: notifier}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/houses", s.handleListHouses)
	mux.HandleFunc("GET /api/houses/{id}", s.handleGetHouse)
	mux.HandleFunc("GET /api/houses/{id}/bonuses", s.handleListHouseBonuses)
	mux.HandleFunc("DELETE /api/houses/{id}/bonuses/{entryId}", s.handleRemoveBonus)
	mux.HandleFunc("GET /api/bonuses", s.handleListAllBonuses)

	mux.HandleFunc("GET /api/individuals/{id}", s.handleGetIndividual)
	mux.HandleFunc("GET /api/individuals/{id}/nearby", s.handleNearbyRankings)

	mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/events", s.handleListEvents)
	mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/categories", s.handleCreateCategory)
	mux.HandleFunc("PATCH /api/categories/{key}", s.handleUpdateCategory)

	mux.HandleFunc("POST /api/points/individual", s.handleGrantIndividual)
	mux.HandleFunc("POST /api/points/house", s.handleGrantHouseBonus)
	mux.HandleFunc("POST /api/points/bulk", s.handleGrantBulk)
	mux.HandleFunc("POST /api/roster/reset", s.handleRosterReset)
	mux.HandleFunc("POST /api/recompute", s.handleRecompute)

	mux.HandleFunc("POST /api/rollbacks", s.handleRequestRollback)
	mux.HandleFunc("GET /api/rollbacks/{batchId}", s.handleGetRollback)
	mux.HandleFunc("POST /api/rollbacks/{batchId}/confirm", s.handleConfirmRollback)
	mux.HandleFunc("POST /api/rollbacks/{batchId}/cancel", s.handleCancelRollback)

	mux.HandleFunc("GET /api/export/history", s.handleExportHistory)

	s.srv = &http.Server{Addr: cfg.HTTPAddr, Handler: s.withActor(mux)}

	go func() {
		_ = s.srv.ListenAndServe() // closed cleanly via Shutdown below
	}()
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shCtx)
	}()

	return s
}

// withActor lifts the authenticated operator identity (supplied by the auth
// proxy in front of us) into the request context for audit fields.
func (s *Server) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get("X-Actor")
		if actor == "" {
			actor = "unknown"
		}
		next.ServeHTTP(w, r.WithContext(ctxutil.WithActor(r.Context(), actor)))
	})
}

func actor(r *http.Request) string {
	a, _ := ctxutil.Actor(r.Context())
	return a
}

type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		s.log.Warnw("write response", "err", err)
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, points.ErrUnknownCategory),
		errors.Is(err, points.ErrEmptyReason),
		errors.Is(err, points.ErrZeroAmount):
		status = http.StatusBadRequest
	case errors.Is(err, points.ErrNotFound),
		errors.Is(err, points.ErrBatchNotFound),
		errors.Is(err, sql.ErrNoRows):
		status = http.StatusNotFound
	case errors.Is(err, points.ErrAlreadyRequested),
		errors.Is(err, points.ErrNotPending),
		errors.Is(err, points.ErrBulkEventProtected):
		status = http.StatusConflict
	case errors.Is(err, points.ErrConfirmationMismatch):
		status = http.StatusForbidden
	case errors.Is(err, points.ErrCoolingOffNotElapsed):
		status = http.StatusTooEarly
	}
	if status == http.StatusInternalServerError {
		metrics.HandlerErrors.Inc()
		observability.CaptureErr(err)
		s.log.Errorw("handler error", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(envelope{Error: msg})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.badRequest(w, "bad request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
	defer cancel()
	t0 := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		http.Error(w, "db not ok: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	metrics.ObserveDBPing(time.Since(t0))
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleListHouses(w http.ResponseWriter, r *http.Request) {
	houses, err := db.ListHouses(r.Context(), s.db)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	for i := range houses {
		houses[i].CategoryPoints, err = db.HouseCategoryPoints(r.Context(), s.db, houses[i].ID)
		if err != nil {
			s.writeErr(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, houses)
}

func (s *Server) handleGetHouse(w http.ResponseWriter, r *http.Request) {
	house, err := db.GetHouse(r.Context(), s.db, r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, house)
}

func (s *Server) handleGetIndividual(w http.ResponseWriter, r *http.Request) {
	student, err := db.GetStudent(r.Context(), s.db, r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, student)
}

// parseRange reads the nearby-window half-width. An explicit 0 is valid (the
// window is just the student); only a missing, unparseable, or negative value
// falls back to the default.
func parseRange(raw string) int {
	if raw == "" {
		return 3
	}
	rng, err := strconv.Atoi(raw)
	if err != nil || rng < 0 {
		return 3
	}
	return rng
}

func (s *Server) handleNearbyRankings(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("id")
	rng := parseRange(r.URL.Query().Get("range"))

	student, err := db.GetStudent(r.Context(), s.db, studentID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	houseID, err := db.HouseIDByName(r.Context(), s.db, student.HouseName)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	rankings, err := s.svc.FetchNearbyRankings(r.Context(), houseID, studentID, rng)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rankings)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	sums, err := s.svc.FetchHouseSummaries(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sums)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = defaultEventLimit
	}

	var (
		events []models.PointEvent
		err    error
	)
	switch {
	case q.Get("student") != "":
		events, err = db.EventsByStudent(r.Context(), s.db, q.Get("student"), limit)
	case q.Get("house") != "":
		events, err = db.EventsByHouse(r.Context(), s.db, q.Get("house"), limit)
	default:
		events, err = db.AllEvents(r.Context(), s.db, limit)
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeErr(w, points.ErrNotFound)
		return
	}
	if err := s.svc.DeleteEvent(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.svc.Cats.Get(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Key == "" || req.Name == "" {
		s.badRequest(w, "key and name are required")
		return
	}
	id, err := db.CreateCategory(r.Context(), s.db, req.Key, req.Name)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.svc.Cats.Invalidate()
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": id, "key": req.Key})
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req struct {
		Name   *string `json:"name"`
		Active *bool   `json:"active"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Name != nil {
		if err := db.RenameCategory(r.Context(), s.db, key, *req.Name); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	if req.Active != nil {
		if err := db.SetCategoryActive(r.Context(), s.db, key, *req.Active); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	s.svc.Cats.Invalidate()
	s.writeJSON(w, http.StatusOK, map[string]any{"key": key})
}

func (s *Server) handleGrantIndividual(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Category string `json:"category"`
		Points   int    `json:"points"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	event, err := s.svc.Grant(r.Context(), req.ID, req.Category, req.Points, actor(r), models.GrantIndividual, nil)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleGrantHouseBonus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Category string `json:"category"`
		Points   int    `json:"points"`
		Reason   string `json:"reason"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.svc.GrantHouseBonus(r.Context(), req.ID, req.Category, req.Points, req.Reason, actor(r))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGrantBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Grants   []points.BulkGrant `json:"grants"`
		CSV      string             `json:"csv"`
		Category string             `json:"category"`
		Points   int                `json:"points"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	gtype := models.GrantBulk
	grants := req.Grants
	var rowErrs []roster.RowError
	if req.CSV != "" {
		gtype = models.GrantCSV
		rows, bad, err := roster.ParseBulkGrants(strings.NewReader(req.CSV), req.Category, req.Points)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		rowErrs = bad
		for _, row := range rows {
			grants = append(grants, points.BulkGrant{StudentID: row.Email, Category: row.Category, Points: row.Points})
		}
	}
	if len(grants) == 0 {
		s.badRequest(w, "no grants supplied")
		return
	}

	res, err := s.svc.GrantBulk(r.Context(), grants, actor(r), gtype)
	if err != nil && !errors.Is(err, points.ErrPartialBatch) {
		s.writeErr(w, err)
		return
	}
	status := http.StatusOK
	if errors.Is(err, points.ErrPartialBatch) || len(rowErrs) > 0 {
		status = http.StatusMultiStatus
	}
	s.writeJSON(w, status, map[string]any{"result": res, "rowErrors": rowErrs})
}

func (s *Server) handleRosterReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Roster string `json:"roster"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	rows, rowErrs, err := roster.ParseRoster(strings.NewReader(req.Roster))
	if err != nil {
		s.writeErr(w, err)
		return
	}

	res, err := s.svc.ResetRoster(r.Context(), rows)
	if err != nil && !errors.Is(err, points.ErrPartialBatch) {
		s.writeErr(w, err)
		return
	}
	status := http.StatusOK
	if errors.Is(err, points.ErrPartialBatch) || len(rowErrs) > 0 {
		status = http.StatusMultiStatus
	}
	s.writeJSON(w, status, map[string]any{"result": res, "rowErrors": rowErrs})
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	diffs, err := s.svc.RecomputeAllHouseTotals(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.notifier.DriftDetected(diffs)
	s.writeJSON(w, http.StatusOK, map[string]any{"corrected": len(diffs), "diffs": diffs})
}

func (s *Server) handleListHouseBonuses(w http.ResponseWriter, r *http.Request) {
	entries, err := db.ListBonusesForHouse(r.Context(), s.db, r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListAllBonuses(w http.ResponseWriter, r *http.Request) {
	entries, err := db.ListAllBonuses(r.Context(), s.db)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRemoveBonus(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(r.PathValue("entryId"), 10, 64)
	if err != nil {
		s.writeErr(w, points.ErrNotFound)
		return
	}
	if err := s.svc.RemoveBonus(r.Context(), r.PathValue("id"), entryID); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": entryID})
}

func (s *Server) handleRequestRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchID string `json:"batchId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	rb, err := s.svc.RequestRollback(r.Context(), req.BatchID, actor(r))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.notifier.RollbackRequested(rb)
	// the one and only time the confirmation code leaves the server
	s.writeJSON(w, http.StatusCreated, rb)
}

func (s *Server) handleGetRollback(w http.ResponseWriter, r *http.Request) {
	rb, err := s.svc.GetRollback(r.Context(), r.PathValue("batchId"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rb)
}

func (s *Server) handleConfirmRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	batchID := r.PathValue("batchId")
	res, err := s.svc.ConfirmRollback(r.Context(), batchID, actor(r), req.Code)
	if err != nil && !errors.Is(err, points.ErrPartialBatch) {
		s.writeErr(w, err)
		return
	}
	if errors.Is(err, points.ErrPartialBatch) {
		s.writeJSON(w, http.StatusMultiStatus, res)
		return
	}
	s.notifier.RollbackExecuted(batchID, actor(r), res.Reversed)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelRollback(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("batchId")
	if err := s.svc.CancelRollback(r.Context(), batchID, actor(r)); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batchId": batchID, "status": models.RollbackCancelled})
}

func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	sums, err := s.svc.FetchHouseSummaries(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	events, err := db.AllEvents(r.Context(), s.db, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	wb, err := export.NewHistoryWorkbook(sums, events)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	var buf bytes.Buffer
	if err := wb.File.Write(&buf); err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="house-points-history.xlsx"`)
	_, _ = w.Write(buf.Bytes())
}
