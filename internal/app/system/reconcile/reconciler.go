// internal/app/system/reconcile/reconciler.go
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	membershipstore "github.com/memberhub-app/memberhub/internal/app/store/memberships"
	"github.com/memberhub-app/memberhub/internal/app/system/eligibility"
	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Scope selects what one reconcile pass evaluates. A zero GroupID means
// every managed group; a zero UserID means the whole population. Full-batch
// ticks and single-user triggers share this one code path, so their
// behavior cannot drift apart.
type Scope struct {
	GroupID primitive.ObjectID
	UserID  primitive.ObjectID
}

// SingleUser reports whether the scope is restricted to one user.
func (s Scope) SingleUser() bool {
	return !s.UserID.IsZero()
}

// MembershipSource reads current internal membership.
type MembershipSource interface {
	CurrentMemberIDs(ctx context.Context, groupID primitive.ObjectID) ([]primitive.ObjectID, error)
	IsCurrentMember(ctx context.Context, groupID, userID primitive.ObjectID) (bool, error)
}

// ChangeApplier commits one membership change (row + outbox event + audit
// entry) as a single atomic unit.
type ChangeApplier interface {
	AddMember(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupMembership, error)
	RemoveMember(ctx context.Context, groupID, userID primitive.ObjectID) (models.GroupMembership, error)
}

// GroupCatalog lists the managed groups.
type GroupCatalog interface {
	List(ctx context.Context) ([]models.ManagedGroup, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (models.ManagedGroup, error)
}

// Notifier delivers the one-way "you were added" signal after a successful
// commit. Delivery failures are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, userID primitive.ObjectID, eventKind string, details map[string]string) error
}

// NotifyMemberAdded is the event kind sent for newly added members.
const NotifyMemberAdded = "membership_granted"

// GroupResult is the outcome of reconciling one group.
type GroupResult struct {
	GroupID primitive.ObjectID `json:"group_id"`
	Rule    models.GroupRule   `json:"rule"`
	Added   int                `json:"added"`
	Removed int                `json:"removed"`
	Failed  int                `json:"failed"`
}

// Result is the outcome of one reconcile pass.
type Result struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Groups    []GroupResult `json:"groups"`
}

// Reconciler diffs desired membership (from the eligibility snapshot)
// against current membership and commits the add/remove changes.
type Reconciler struct {
	calc     *eligibility.Calculator
	groups   GroupCatalog
	members  MembershipSource
	applier  ChangeApplier
	notifier Notifier
	log      *zap.Logger
}

func New(calc *eligibility.Calculator, groups GroupCatalog, members MembershipSource, applier ChangeApplier, notifier Notifier, log *zap.Logger) *Reconciler {
	return &Reconciler{
		calc:     calc,
		groups:   groups,
		members:  members,
		applier:  applier,
		notifier: notifier,
		log:      log,
	}
}

// Diff computes the minimal membership change over the evaluated scope.
func Diff(eligible, current []primitive.ObjectID) (toAdd, toRemove []primitive.ObjectID) {
	eligibleSet := make(map[primitive.ObjectID]bool, len(eligible))
	for _, id := range eligible {
		eligibleSet[id] = true
	}
	currentSet := make(map[primitive.ObjectID]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
	}

	for _, id := range eligible {
		if !currentSet[id] {
			toAdd = append(toAdd, id)
		}
	}
	for _, id := range current {
		if !eligibleSet[id] {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}

// Reconcile runs one pass over the scope. A snapshot load failure aborts
// the whole pass with no changes committed; individual change failures are
// isolated, logged, and counted.
func (r *Reconciler) Reconcile(ctx context.Context, scope Scope) (Result, error) {
	result := Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := r.log.With(zap.String("run_id", result.RunID))

	snap, err := r.loadSnapshot(ctx, scope)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile aborted: %w", err)
	}

	groups, err := r.scopedGroups(ctx, scope)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile aborted: %w", err)
	}

	// Groups reconcile strictly sequentially: one shared session, each
	// (group, user) pair converges to its own fixed point independently.
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		gr, err := r.reconcileGroup(ctx, log, snap, scope, group)
		if err != nil {
			return result, err
		}
		result.Groups = append(result.Groups, gr)
	}

	result.Duration = time.Since(result.StartedAt)
	log.Info("reconcile pass finished",
		zap.Bool("single_user", scope.SingleUser()),
		zap.Int("groups", len(result.Groups)),
		zap.Duration("took", result.Duration))
	return result, nil
}

func (r *Reconciler) loadSnapshot(ctx context.Context, scope Scope) (*eligibility.Snapshot, error) {
	if scope.SingleUser() {
		return r.calc.LoadUserSnapshot(ctx, scope.UserID)
	}
	return r.calc.LoadSnapshot(ctx)
}

func (r *Reconciler) scopedGroups(ctx context.Context, scope Scope) ([]models.ManagedGroup, error) {
	if !scope.GroupID.IsZero() {
		g, err := r.groups.GetByID(ctx, scope.GroupID)
		if err != nil {
			return nil, fmt.Errorf("load group %s: %w", scope.GroupID.Hex(), err)
		}
		return []models.ManagedGroup{g}, nil
	}
	groups, err := r.groups.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load managed groups: %w", err)
	}
	return groups, nil
}

func (r *Reconciler) reconcileGroup(ctx context.Context, log *zap.Logger, snap *eligibility.Snapshot, scope Scope, group models.ManagedGroup) (GroupResult, error) {
	gr := GroupResult{GroupID: group.ID, Rule: group.Rule}

	eligible := eligibility.EligibleUserIDs(snap, group.Rule)

	// The current set is restricted to the evaluated scope: a single-user
	// trigger compares only that user, so a partial eligible set can never
	// evict unrelated members.
	var current []primitive.ObjectID
	if scope.SingleUser() {
		isMember, err := r.members.IsCurrentMember(ctx, group.ID, scope.UserID)
		if err != nil {
			return gr, fmt.Errorf("load membership for %s: %w", group.Rule, err)
		}
		if isMember {
			current = []primitive.ObjectID{scope.UserID}
		}
	} else {
		var err error
		current, err = r.members.CurrentMemberIDs(ctx, group.ID)
		if err != nil {
			return gr, fmt.Errorf("load members of %s: %w", group.Rule, err)
		}
	}

	toAdd, toRemove := Diff(eligible, current)

	for _, userID := range toAdd {
		membership, err := r.applier.AddMember(ctx, group.ID, userID)
		switch {
		case err == membershipstore.ErrAlreadyMember:
			// A concurrent trigger got there first; converged either way.
		case err != nil:
			gr.Failed++
			log.Error("add member failed",
				zap.String("group", string(group.Rule)),
				zap.String("user_id", userID.Hex()),
				zap.Error(err))
		default:
			gr.Added++
			r.notifyAdded(ctx, log, group, userID, membership)
		}
	}

	for _, userID := range toRemove {
		_, err := r.applier.RemoveMember(ctx, group.ID, userID)
		switch {
		case err == membershipstore.ErrNotMember:
			// Already closed by a concurrent trigger.
		case err != nil:
			gr.Failed++
			log.Error("remove member failed",
				zap.String("group", string(group.Rule)),
				zap.String("user_id", userID.Hex()),
				zap.Error(err))
		default:
			gr.Removed++
		}
	}

	if gr.Added > 0 || gr.Removed > 0 || gr.Failed > 0 {
		log.Info("group reconciled",
			zap.String("group", string(group.Rule)),
			zap.Int("added", gr.Added),
			zap.Int("removed", gr.Removed),
			zap.Int("failed", gr.Failed))
	}
	return gr, nil
}

// notifyAdded fires the post-commit notification for one new member.
func (r *Reconciler) notifyAdded(ctx context.Context, log *zap.Logger, group models.ManagedGroup, userID primitive.ObjectID, membership models.GroupMembership) {
	if r.notifier == nil {
		return
	}
	details := map[string]string{
		"group_id":   group.ID.Hex(),
		"group_name": group.Name,
		"rule":       string(group.Rule),
		"joined_at":  membership.JoinedAt.Format(time.RFC3339),
	}
	if err := r.notifier.Notify(ctx, userID, NotifyMemberAdded, details); err != nil {
		log.Warn("member-added notification failed",
			zap.String("user_id", userID.Hex()),
			zap.String("group", string(group.Rule)),
			zap.Error(err))
	}
}
