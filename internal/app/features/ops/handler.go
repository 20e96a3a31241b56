// Package ops exposes the operator surface of the reconciliation engine:
// run-now triggers, drift preview and apply, and outbox inspection. All
// responses are JSON; authentication is expected to happen upstream (ingress
// or gateway).
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	groupstore "github.com/memberhub-app/memberhub/internal/app/store/groups"
	membershipstore "github.com/memberhub-app/memberhub/internal/app/store/memberships"
	outboxstore "github.com/memberhub-app/memberhub/internal/app/store/outbox"
	"github.com/memberhub-app/memberhub/internal/app/store/audit"
	"github.com/memberhub-app/memberhub/internal/app/system/auditlog"
	"github.com/memberhub-app/memberhub/internal/app/system/drift"
	"github.com/memberhub-app/memberhub/internal/app/system/eligibility"
	"github.com/memberhub-app/memberhub/internal/app/system/joblock"
	"github.com/memberhub-app/memberhub/internal/app/system/outboxproc"
	"github.com/memberhub-app/memberhub/internal/app/system/reconcile"
	"github.com/memberhub-app/memberhub/internal/app/system/timeouts"
	"github.com/memberhub-app/memberhub/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Handler holds the engine components the operator endpoints drive.
type Handler struct {
	Rec       *reconcile.Reconciler
	Proc      *outboxproc.Processor
	Drift     *drift.Previewer
	Outbox    *outboxstore.Store
	Calc      *eligibility.Calculator
	Groups    *groupstore.Store
	Members   *membershipstore.Store
	Audit     *auditlog.Logger
	Locks     joblock.Locker
	Log       *zap.Logger
	BatchSize int64
}

func NewHandler(rec *reconcile.Reconciler, proc *outboxproc.Processor, previewer *drift.Previewer, outbox *outboxstore.Store, calc *eligibility.Calculator, groups *groupstore.Store, members *membershipstore.Store, auditLog *auditlog.Logger, locks joblock.Locker, batchSize int64, logger *zap.Logger) *Handler {
	return &Handler{
		Rec:       rec,
		Proc:      proc,
		Drift:     previewer,
		Outbox:    outbox,
		Calc:      calc,
		Groups:    groups,
		Members:   members,
		Audit:     auditLog,
		Locks:     locks,
		Log:       logger,
		BatchSize: batchSize,
	}
}

// actor identifies the operator for the audit trail. The upstream proxy is
// expected to set the header after authenticating.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Operator"); a != "" {
		return a
	}
	return "operator"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// runExclusive takes the named job lock for the duration of fn, so manual
// triggers and ticker runs never overlap.
func (h *Handler) runExclusive(ctx context.Context, job string, fn func(ctx context.Context) error) error {
	ttl := timeouts.Batch() + 30*time.Second
	token, ok, err := h.Locks.Acquire(ctx, job, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return errAlreadyRunning
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Locks.Release(releaseCtx, job, token); err != nil {
			h.Log.Warn("failed to release job lock",
				zap.String("job", job),
				zap.Error(err))
		}
	}()
	return fn(ctx)
}

var errAlreadyRunning = errors.New("job is already running")

// reconcileAllResponse is the JSON shape for POST /ops/reconcile. Drain is
// nil when the drain step was skipped because the drain job was busy.
type reconcileAllResponse struct {
	Reconcile reconcile.Result        `json:"reconcile"`
	Drain     *outboxproc.BatchResult `json:"drain,omitempty"`
}

// ReconcileAll handles POST /ops/reconcile: one full pass over every
// managed group followed by an outbox drain, synchronously. The drain step
// is skipped (not failed) when the scheduled drainer holds its lock; the
// queued events go out on its next tick.
func (h *Handler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Batch())
	defer cancel()

	var resp reconcileAllResponse
	err := h.runExclusive(ctx, joblock.JobReconcile, func(ctx context.Context) error {
		var runErr error
		resp.Reconcile, runErr = h.Rec.Reconcile(ctx, reconcile.Scope{})
		return runErr
	})
	if err == errAlreadyRunning {
		writeError(w, http.StatusConflict, "a reconcile pass is already running")
		return
	}
	if err != nil {
		h.Log.Error("manual reconcile failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var drain outboxproc.BatchResult
	err = h.runExclusive(ctx, joblock.JobOutboxDrain, func(ctx context.Context) error {
		var runErr error
		drain, runErr = h.Proc.ProcessBatch(ctx, h.BatchSize)
		return runErr
	})
	switch {
	case err == errAlreadyRunning:
		// Leave Drain nil; the running drainer will pick the events up.
	case err != nil:
		h.Log.Error("post-reconcile drain failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	default:
		resp.Drain = &drain
	}

	h.Audit.OperatorAction(ctx, audit.EventManualReconcile, actor(r), "manual full reconcile pass")
	writeJSON(w, http.StatusOK, resp)
}

// ReconcileUser handles POST /ops/reconcile/user/{userID}: a low-latency
// pass scoped to one user. No lock is taken; the scoped pass only ever
// touches that user's rows and converges against concurrent runs.
func (h *Handler) ReconcileUser(w http.ResponseWriter, r *http.Request) {
	userID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	result, err := h.Rec.Reconcile(ctx, reconcile.Scope{UserID: userID})
	if err != nil {
		h.Log.Error("user reconcile failed",
			zap.String("user_id", userID.Hex()),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Audit.OperatorAction(ctx, audit.EventManualReconcile, actor(r), "manual reconcile for user "+userID.Hex())
	writeJSON(w, http.StatusOK, result)
}

// DrainOutbox handles POST /ops/outbox/drain: one synchronous drain round.
func (h *Handler) DrainOutbox(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Batch())
	defer cancel()

	var result outboxproc.BatchResult
	err := h.runExclusive(ctx, joblock.JobOutboxDrain, func(ctx context.Context) error {
		var runErr error
		result, runErr = h.Proc.ProcessBatch(ctx, h.BatchSize)
		return runErr
	})
	if err == errAlreadyRunning {
		writeError(w, http.StatusConflict, "an outbox drain is already running")
		return
	}
	if err != nil {
		h.Log.Error("manual outbox drain failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.Audit.OperatorAction(ctx, audit.EventManualDrain, actor(r), "manual outbox drain")
	writeJSON(w, http.StatusOK, result)
}

// outboxResponse is the JSON shape for GET /ops/outbox.
type outboxResponse struct {
	Counts map[string]int64     `json:"counts"`
	Events []models.OutboxEvent `json:"events,omitempty"`
}

// ListOutbox handles GET /ops/outbox?status=exhausted&limit=50. With no
// status filter only the per-status counts are returned.
func (h *Handler) ListOutbox(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	counts, err := h.Outbox.CountsByStatus(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := outboxResponse{Counts: counts}

	if status := r.URL.Query().Get("status"); status != "" {
		limit := int64(50)
		events, err := h.Outbox.ListByStatus(ctx, status, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Events = events
	}

	writeJSON(w, http.StatusOK, resp)
}

// groupSummary pairs a managed group with its current member count.
type groupSummary struct {
	models.ManagedGroup
	MemberCount int64 `json:"member_count"`
}

// ListGroups handles GET /ops/groups: the managed-group catalog with current
// membership counts.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	groups, err := h.Groups.List(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]groupSummary, 0, len(groups))
	for _, g := range groups {
		n, err := h.Members.CountCurrentByGroup(ctx, g.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, groupSummary{ManagedGroup: g, MemberCount: n})
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": out})
}

// userStatusResponse is the JSON shape for GET /ops/users/{userID}: live
// eligibility next to the recorded membership state, so an operator can see
// at a glance whether the two agree.
type userStatusResponse struct {
	eligibility.MembershipStatus
	CurrentGroupIDs []primitive.ObjectID     `json:"current_group_ids"`
	History         []models.GroupMembership `json:"history"`
}

// UserStatus handles GET /ops/users/{userID}.
func (h *Handler) UserStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Medium())
	defer cancel()

	status, err := h.Calc.ComputeStatus(ctx, userID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		writeError(w, http.StatusNotFound, "unknown user")
		return
	}
	if err != nil {
		h.Log.Error("user status lookup failed",
			zap.String("user_id", userID.Hex()),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	current, err := h.Members.CurrentGroupsByUser(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	history, err := h.Members.HistoryByUser(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, userStatusResponse{
		MembershipStatus: status,
		CurrentGroupIDs:  current,
		History:          history,
	})
}

// PreviewDrift handles GET /ops/drift: a read-only expected-vs-actual
// comparison across every active external resource.
func (h *Handler) PreviewDrift(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Batch())
	defer cancel()

	report, err := h.Drift.PreviewAll(ctx)
	if err != nil {
		h.Log.Error("drift preview failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ApplyDrift handles POST /ops/drift/apply: corrects external grants to
// match internal membership.
func (h *Handler) ApplyDrift(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Batch())
	defer cancel()

	results, err := h.Drift.Apply(ctx, actor(r))
	if err != nil {
		h.Log.Error("drift apply failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": results})
}
