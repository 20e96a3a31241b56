// internal/app/system/outboxproc/processor_test.go
package outboxproc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/memberhub-app/memberhub/internal/app/system/directory"
	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fakeQueue keeps events in memory and mimics the store's retry semantics.
type fakeQueue struct {
	events     []models.OutboxEvent
	markedOK   []primitive.ObjectID
	markedFail []primitive.ObjectID
	batchErr   error
}

func (q *fakeQueue) PendingBatch(_ context.Context, limit int64, retryCap int) ([]models.OutboxEvent, error) {
	if q.batchErr != nil {
		return nil, q.batchErr
	}
	var out []models.OutboxEvent
	for _, ev := range q.events {
		if ev.Status == models.OutboxPending && ev.RetryCount < retryCap {
			out = append(out, ev)
		}
		if int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (q *fakeQueue) MarkProcessed(_ context.Context, id primitive.ObjectID) error {
	q.markedOK = append(q.markedOK, id)
	for i := range q.events {
		if q.events[i].ID == id {
			q.events[i].Status = models.OutboxProcessed
		}
	}
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id primitive.ObjectID, attemptErr string, retryCap int) (bool, error) {
	q.markedFail = append(q.markedFail, id)
	for i := range q.events {
		if q.events[i].ID != id {
			continue
		}
		q.events[i].RetryCount++
		q.events[i].LastError = attemptErr
		if q.events[i].RetryCount >= retryCap {
			q.events[i].Status = models.OutboxExhausted
			return true, nil
		}
		return false, nil
	}
	return false, errors.New("event not found")
}

type fakeResources struct {
	byGroup map[primitive.ObjectID][]models.ExternalResource
	err     error
}

func (f *fakeResources) ActiveByGroup(_ context.Context, groupID primitive.ObjectID) ([]models.ExternalResource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byGroup[groupID], nil
}

type fakePrincipals struct {
	emails map[primitive.ObjectID]string
}

func (f *fakePrincipals) EmailsByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error) {
	out := make(map[primitive.ObjectID]string)
	for _, id := range ids {
		if email, ok := f.emails[id]; ok {
			out[id] = email
		}
	}
	return out, nil
}

type dirCall struct {
	op, resourceID, principal string
}

// fakeDirectory records calls and fails the configured resource ids.
// Entries in failing fail every call; entries in failOnce fail the first
// call and then recover, like a transient upstream outage.
type fakeDirectory struct {
	calls    []dirCall
	failing  map[string]error
	failOnce map[string]error
}

func (f *fakeDirectory) do(op, resourceID, principal string) error {
	if err := f.failOnce[resourceID]; err != nil {
		delete(f.failOnce, resourceID)
		return err
	}
	if err := f.failing[resourceID]; err != nil {
		return err
	}
	f.calls = append(f.calls, dirCall{op, resourceID, principal})
	return nil
}

func (f *fakeDirectory) Grant(_ context.Context, resourceID, principal string) error {
	return f.do("grant", resourceID, principal)
}

func (f *fakeDirectory) Revoke(_ context.Context, resourceID, principal string) error {
	return f.do("revoke", resourceID, principal)
}

func (f *fakeDirectory) ListGrants(context.Context, string) ([]directory.Grant, error) {
	return nil, errors.New("not used")
}

func pendingEvent(eventType string, groupID, userID primitive.ObjectID) models.OutboxEvent {
	m := primitive.NewObjectID()
	return models.OutboxEvent{
		ID:           primitive.NewObjectID(),
		EventType:    eventType,
		GroupID:      groupID,
		UserID:       userID,
		MembershipID: m,
		OccurredAt:   time.Now().UTC(),
		Status:       models.OutboxPending,
		DedupKey:     models.OutboxDedupKey(eventType, groupID, userID, m),
	}
}

func resource(groupID primitive.ObjectID, externalID string) models.ExternalResource {
	return models.ExternalResource{
		ID:           primitive.NewObjectID(),
		ResourceType: models.ResourceDirectoryFolder,
		GroupID:      groupID,
		ExternalID:   externalID,
		IsActive:     true,
	}
}

func TestProcessBatchDeliversToEveryResource(t *testing.T) {
	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	queue := &fakeQueue{events: []models.OutboxEvent{pendingEvent(models.EventAddMember, groupID, userID)}}
	resources := &fakeResources{byGroup: map[primitive.ObjectID][]models.ExternalResource{
		groupID: {resource(groupID, "folder-1"), resource(groupID, "list-1")},
	}}
	principals := &fakePrincipals{emails: map[primitive.ObjectID]string{userID: "member@example.org"}}
	dir := &fakeDirectory{}

	p := New(queue, resources, principals, dir, nil, zap.NewNop(), DefaultRetryCap)
	result, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	if result.Selected != 1 || result.Processed != 1 || result.Failed != 0 {
		t.Errorf("got selected=%d processed=%d failed=%d, want 1/1/0",
			result.Selected, result.Processed, result.Failed)
	}
	if len(dir.calls) != 2 {
		t.Fatalf("expected 2 directory calls, got %d", len(dir.calls))
	}
	for _, c := range dir.calls {
		if c.op != "grant" || c.principal != "member@example.org" {
			t.Errorf("unexpected call %+v", c)
		}
	}
	if len(queue.markedOK) != 1 {
		t.Errorf("expected the event marked processed, got %d", len(queue.markedOK))
	}
}

func TestProcessBatchRevokesOnRemove(t *testing.T) {
	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	queue := &fakeQueue{events: []models.OutboxEvent{pendingEvent(models.EventRemoveMember, groupID, userID)}}
	resources := &fakeResources{byGroup: map[primitive.ObjectID][]models.ExternalResource{
		groupID: {resource(groupID, "folder-1")},
	}}
	principals := &fakePrincipals{emails: map[primitive.ObjectID]string{userID: "member@example.org"}}
	dir := &fakeDirectory{}

	p := New(queue, resources, principals, dir, nil, zap.NewNop(), DefaultRetryCap)
	if _, err := p.ProcessBatch(context.Background(), 10); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if len(dir.calls) != 1 || dir.calls[0].op != "revoke" {
		t.Errorf("expected one revoke call, got %v", dir.calls)
	}
}

func TestProcessBatchZeroResourcesStillSucceeds(t *testing.T) {
	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	queue := &fakeQueue{events: []models.OutboxEvent{pendingEvent(models.EventAddMember, groupID, userID)}}
	resources := &fakeResources{byGroup: map[primitive.ObjectID][]models.ExternalResource{}}
	principals := &fakePrincipals{emails: map[primitive.ObjectID]string{userID: "member@example.org"}}

	p := New(queue, resources, principals, &fakeDirectory{}, nil, zap.NewNop(), DefaultRetryCap)
	result, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	// A group with no linked resources has nothing to sync; the event is
	// complete, not stuck.
	if result.Processed != 1 {
		t.Errorf("expected processed=1, got %d", result.Processed)
	}
}

func TestProcessBatchIsolatesEventFailures(t *testing.T) {
	groupA := primitive.NewObjectID()
	groupB := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	failing := pendingEvent(models.EventAddMember, groupA, userID)
	healthy := pendingEvent(models.EventAddMember, groupB, userID)

	queue := &fakeQueue{events: []models.OutboxEvent{failing, healthy}}
	resources := &fakeResources{byGroup: map[primitive.ObjectID][]models.ExternalResource{
		groupA: {resource(groupA, "broken")},
		groupB: {resource(groupB, "fine")},
	}}
	principals := &fakePrincipals{emails: map[primitive.ObjectID]string{userID: "member@example.org"}}
	dir := &fakeDirectory{failing: map[string]error{"broken": errors.New("503 upstream")}}

	p := New(queue, resources, principals, dir, nil, zap.NewNop(), DefaultRetryCap)
	result, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	if result.Processed != 1 || result.Failed != 1 {
		t.Errorf("got processed=%d failed=%d, want 1/1", result.Processed, result.Failed)
	}
	if len(queue.markedFail) != 1 || queue.markedFail[0] != failing.ID {
		t.Errorf("expected only the failing event marked failed, got %v", queue.markedFail)
	}
	if len(queue.markedOK) != 1 || queue.markedOK[0] != healthy.ID {
		t.Errorf("expected the healthy event marked processed, got %v", queue.markedOK)
	}
}

func TestProcessBatchKeepsPairOrderAcrossFailures(t *testing.T) {
	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	// An add followed by a remove for the same (group, user) pair: the user
	// joined and left between two drain ticks.
	added := pendingEvent(models.EventAddMember, groupID, userID)
	added.OccurredAt = time.Now().UTC().Add(-2 * time.Minute)
	removed := pendingEvent(models.EventRemoveMember, groupID, userID)
	removed.OccurredAt = time.Now().UTC().Add(-time.Minute)

	queue := &fakeQueue{events: []models.OutboxEvent{added, removed}}
	resources := &fakeResources{byGroup: map[primitive.ObjectID][]models.ExternalResource{
		groupID: {resource(groupID, "folder-1")},
	}}
	principals := &fakePrincipals{emails: map[primitive.ObjectID]string{userID: "member@example.org"}}
	dir := &fakeDirectory{failOnce: map[string]error{"folder-1": errors.New("503 upstream")}}

	p := New(queue, resources, principals, dir, nil, zap.NewNop(), DefaultRetryCap)

	// First tick: the add fails transiently. The remove must be held back,
	// not delivered out of order, and not marked in any way.
	first, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("first ProcessBatch failed: %v", err)
	}
	if first.Failed != 1 || first.Skipped != 1 || first.Processed != 0 {
		t.Errorf("first tick: got failed=%d skipped=%d processed=%d, want 1/1/0",
			first.Failed, first.Skipped, first.Processed)
	}
	if len(dir.calls) != 0 {
		t.Fatalf("first tick: expected no directory calls, got %v", dir.calls)
	}
	if len(queue.markedFail) != 1 || queue.markedFail[0] != added.ID {
		t.Errorf("first tick: expected only the add marked failed, got %v", queue.markedFail)
	}
	if len(queue.markedOK) != 0 {
		t.Errorf("first tick: held event must stay pending, got markedOK=%v", queue.markedOK)
	}

	// Second tick: the upstream has recovered. Both events go out in
	// enqueue order, so the grant never outlives the remove.
	second, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("second ProcessBatch failed: %v", err)
	}
	if second.Processed != 2 {
		t.Errorf("second tick: expected processed=2, got %d", second.Processed)
	}
	want := []dirCall{
		{"grant", "folder-1", "member@example.org"},
		{"revoke", "folder-1", "member@example.org"},
	}
	if len(dir.calls) != 2 || dir.calls[0] != want[0] || dir.calls[1] != want[1] {
		t.Errorf("expected grant then revoke, got %v", dir.calls)
	}
}

func TestProcessBatchSkipsOnlyTheFailedPair(t *testing.T) {
	groupID := primitive.NewObjectID()
	blockedUser := primitive.NewObjectID()
	otherUser := primitive.NewObjectID()

	failingAdd := pendingEvent(models.EventAddMember, groupID, blockedUser)
	heldRemove := pendingEvent(models.EventRemoveMember, groupID, blockedUser)
	unrelated := pendingEvent(models.EventAddMember, groupID, otherUser)

	queue := &fakeQueue{events: []models.OutboxEvent{failingAdd, heldRemove, unrelated}}
	resources := &fakeResources{byGroup: map[primitive.ObjectID][]models.ExternalResource{
		groupID: {resource(groupID, "folder-1")},
	}}
	principals := &fakePrincipals{emails: map[primitive.ObjectID]string{
		blockedUser: "blocked@example.org",
		otherUser:   "other@example.org",
	}}
	dir := &fakeDirectory{failOnce: map[string]error{"folder-1": errors.New("timeout")}}

	p := New(queue, resources, principals, dir, nil, zap.NewNop(), DefaultRetryCap)
	result, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	// The other user's event is a different pair and must still go out.
	if result.Failed != 1 || result.Skipped != 1 || result.Processed != 1 {
		t.Errorf("got failed=%d skipped=%d processed=%d, want 1/1/1",
			result.Failed, result.Skipped, result.Processed)
	}
	if len(dir.calls) != 1 || dir.calls[0].principal != "other@example.org" {
		t.Errorf("expected only the unrelated event delivered, got %v", dir.calls)
	}
	if len(queue.markedOK) != 1 || queue.markedOK[0] != unrelated.ID {
		t.Errorf("expected only the unrelated event marked processed, got %v", queue.markedOK)
	}
}

func TestProcessBatchExhaustsAtRetryCap(t *testing.T) {
	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	ev := pendingEvent(models.EventAddMember, groupID, userID)
	ev.RetryCount = 2 // one more failure hits the cap

	queue := &fakeQueue{events: []models.OutboxEvent{ev}}
	resources := &fakeResources{byGroup: map[primitive.ObjectID][]models.ExternalResource{
		groupID: {resource(groupID, "broken")},
	}}
	principals := &fakePrincipals{emails: map[primitive.ObjectID]string{userID: "member@example.org"}}
	dir := &fakeDirectory{failing: map[string]error{"broken": errors.New("timeout")}}

	p := New(queue, resources, principals, dir, nil, zap.NewNop(), 3)
	result, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	if result.Exhausted != 1 {
		t.Errorf("expected exhausted=1, got %d", result.Exhausted)
	}
	if queue.events[0].Status != models.OutboxExhausted {
		t.Errorf("expected terminal exhausted status, got %q", queue.events[0].Status)
	}
}

func TestProcessBatchMissingPrincipalFails(t *testing.T) {
	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	queue := &fakeQueue{events: []models.OutboxEvent{pendingEvent(models.EventAddMember, groupID, userID)}}
	resources := &fakeResources{byGroup: map[primitive.ObjectID][]models.ExternalResource{}}
	principals := &fakePrincipals{emails: map[primitive.ObjectID]string{}}

	p := New(queue, resources, principals, &fakeDirectory{}, nil, zap.NewNop(), DefaultRetryCap)
	result, err := p.ProcessBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("expected failed=1 for unresolvable principal, got %d", result.Failed)
	}
	if !strings.Contains(queue.events[0].LastError, "no principal") {
		t.Errorf("expected recorded error to mention the missing principal, got %q", queue.events[0].LastError)
	}
}

func TestProcessBatchSelectionErrorPropagates(t *testing.T) {
	queue := &fakeQueue{batchErr: errors.New("find failed")}
	p := New(queue, &fakeResources{}, &fakePrincipals{}, &fakeDirectory{}, nil, zap.NewNop(), DefaultRetryCap)

	if _, err := p.ProcessBatch(context.Background(), 10); err == nil {
		t.Fatal("expected batch selection error to propagate")
	}
}

func TestProcessBatchStopsOnCancellation(t *testing.T) {
	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	var events []models.OutboxEvent
	for i := 0; i < 5; i++ {
		events = append(events, pendingEvent(models.EventAddMember, groupID, userID))
	}
	queue := &fakeQueue{events: events}
	principals := &fakePrincipals{emails: map[primitive.ObjectID]string{userID: "member@example.org"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(queue, &fakeResources{}, principals, &fakeDirectory{}, nil, zap.NewNop(), DefaultRetryCap)
	result, err := p.ProcessBatch(ctx, 10)
	if err == nil {
		t.Fatal("expected context error")
	}
	if result.Processed != 0 {
		t.Errorf("expected no events processed after cancellation, got %d", result.Processed)
	}
}

func TestProcessBatchRespectsLimit(t *testing.T) {
	groupID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	var events []models.OutboxEvent
	for i := 0; i < 5; i++ {
		ev := pendingEvent(models.EventAddMember, groupID, userID)
		ev.DedupKey = fmt.Sprintf("%s-%d", ev.DedupKey, i)
		events = append(events, ev)
	}
	queue := &fakeQueue{events: events}
	principals := &fakePrincipals{emails: map[primitive.ObjectID]string{userID: "member@example.org"}}

	p := New(queue, &fakeResources{}, principals, &fakeDirectory{}, nil, zap.NewNop(), DefaultRetryCap)
	result, err := p.ProcessBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	if result.Selected != 2 {
		t.Errorf("expected the batch capped at 2, got %d", result.Selected)
	}
}
