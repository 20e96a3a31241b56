// internal/app/system/outboxproc/processor.go
package outboxproc

import (
	"context"
	"fmt"

	"github.com/memberhub-app/memberhub/internal/app/system/auditlog"
	"github.com/memberhub-app/memberhub/internal/app/system/directory"
	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultRetryCap is how many delivery attempts an event gets before it is
// flagged exhausted.
const DefaultRetryCap = 8

// DefaultBatchSize bounds one drain pass.
const DefaultBatchSize = 50

// Queue is the outbox store surface the processor drives.
type Queue interface {
	PendingBatch(ctx context.Context, limit int64, retryCap int) ([]models.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id primitive.ObjectID) error
	MarkFailed(ctx context.Context, id primitive.ObjectID, attemptErr string, retryCap int) (exhausted bool, err error)
}

// ResourceSource resolves a group's active external resources.
type ResourceSource interface {
	ActiveByGroup(ctx context.Context, groupID primitive.ObjectID) ([]models.ExternalResource, error)
}

// PrincipalSource resolves directory principals for user ids.
type PrincipalSource interface {
	EmailsByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error)
}

// BatchResult summarizes one drain pass. Skipped counts events held back
// because an older event for the same (group, user) pair failed earlier in
// the pass.
type BatchResult struct {
	Selected  int `json:"selected"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
	Skipped   int `json:"skipped"`
}

// Processor drains the outbox: for each pending event it invokes the
// directory adapter against every active resource of the affected group,
// then records the outcome. Event outcomes are isolated; one failure never
// aborts the batch.
type Processor struct {
	queue     Queue
	resources ResourceSource
	users     PrincipalSource
	dir       directory.API
	audit     *auditlog.Logger
	log       *zap.Logger
	retryCap  int
}

func New(queue Queue, resources ResourceSource, users PrincipalSource, dir directory.API, audit *auditlog.Logger, log *zap.Logger, retryCap int) *Processor {
	if retryCap <= 0 {
		retryCap = DefaultRetryCap
	}
	return &Processor{
		queue:     queue,
		resources: resources,
		users:     users,
		dir:       dir,
		audit:     audit,
		log:       log,
		retryCap:  retryCap,
	}
}

// syncPair identifies the per-(group, user) event stream whose order must
// be preserved.
type syncPair struct {
	group primitive.ObjectID
	user  primitive.ObjectID
}

// ProcessBatch drains up to limit pending events, oldest first. The batch
// selection error is the only error returned; per-event failures are
// persisted on the event and logged. Cancellation stops between events, so
// each event is either fully recorded or untouched.
//
// Events for one (group, user) pair drain strictly oldest-first: once an
// event fails, every newer event for the same pair is skipped (left
// untouched) for the rest of the pass. Processing them would reorder an
// add-then-remove into remove-then-add, which leaves an external grant
// behind that no later tick revokes.
func (p *Processor) ProcessBatch(ctx context.Context, limit int64) (BatchResult, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	events, err := p.queue.PendingBatch(ctx, limit, p.retryCap)
	if err != nil {
		return BatchResult{}, fmt.Errorf("select outbox batch: %w", err)
	}
	result := BatchResult{Selected: len(events)}
	blocked := make(map[syncPair]bool)

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pair := syncPair{group: ev.GroupID, user: ev.UserID}
		if blocked[pair] {
			result.Skipped++
			p.log.Debug("outbox event held behind a failed predecessor",
				zap.String("event_id", ev.ID.Hex()),
				zap.String("event_type", ev.EventType),
				zap.String("group_id", ev.GroupID.Hex()),
				zap.String("user_id", ev.UserID.Hex()))
			continue
		}

		if deliverErr := p.deliver(ctx, ev); deliverErr != nil {
			result.Failed++
			blocked[pair] = true
			exhausted, markErr := p.queue.MarkFailed(ctx, ev.ID, deliverErr.Error(), p.retryCap)
			if markErr != nil {
				p.log.Error("failed to record outbox failure",
					zap.String("event_id", ev.ID.Hex()),
					zap.Error(markErr))
				continue
			}
			if exhausted {
				result.Exhausted++
				ev.LastError = deliverErr.Error()
				ev.RetryCount++
				p.log.Error("outbox event exhausted",
					zap.String("event_id", ev.ID.Hex()),
					zap.String("event_type", ev.EventType),
					zap.String("group_id", ev.GroupID.Hex()),
					zap.String("user_id", ev.UserID.Hex()),
					zap.Int("retry_count", ev.RetryCount),
					zap.Error(deliverErr))
				p.audit.SyncExhausted(ctx, ev)
			} else {
				p.log.Warn("outbox event delivery failed",
					zap.String("event_id", ev.ID.Hex()),
					zap.String("event_type", ev.EventType),
					zap.Int("retry_count", ev.RetryCount+1),
					zap.Error(deliverErr))
			}
			continue
		}

		if err := p.queue.MarkProcessed(ctx, ev.ID); err != nil {
			p.log.Error("failed to mark outbox event processed",
				zap.String("event_id", ev.ID.Hex()),
				zap.Error(err))
			result.Failed++
			// The event is still pending and will be re-delivered; newer
			// events for the pair must wait behind it.
			blocked[pair] = true
			continue
		}
		result.Processed++
	}

	if result.Selected > 0 {
		p.log.Info("outbox batch drained",
			zap.Int("selected", result.Selected),
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed),
			zap.Int("exhausted", result.Exhausted),
			zap.Int("skipped", result.Skipped))
	}
	return result, nil
}

// deliver pushes one membership change to every active resource of the
// group. Grant/Revoke are idempotent at the adapter level, so re-delivery
// after a partial failure re-applies the already-synced resources as
// no-ops.
func (p *Processor) deliver(ctx context.Context, ev models.OutboxEvent) error {
	principals, err := p.users.EmailsByIDs(ctx, []primitive.ObjectID{ev.UserID})
	if err != nil {
		return fmt.Errorf("resolve principal: %w", err)
	}
	principal, ok := principals[ev.UserID]
	if !ok || principal == "" {
		return fmt.Errorf("no principal for user %s", ev.UserID.Hex())
	}

	resources, err := p.resources.ActiveByGroup(ctx, ev.GroupID)
	if err != nil {
		return fmt.Errorf("resolve resources: %w", err)
	}

	for _, res := range resources {
		switch ev.EventType {
		case models.EventAddMember:
			err = p.dir.Grant(ctx, res.ExternalID, principal)
		case models.EventRemoveMember:
			err = p.dir.Revoke(ctx, res.ExternalID, principal)
		default:
			return fmt.Errorf("unknown event type %q", ev.EventType)
		}
		if err != nil {
			return fmt.Errorf("%s on %s: %w", ev.EventType, res.ExternalID, err)
		}
	}
	return nil
}
