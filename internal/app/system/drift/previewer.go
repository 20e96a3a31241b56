// internal/app/system/drift/previewer.go

// Package drift compares the access the external directory actually grants
// against what internal membership says it should grant. Preview is
// read-only; Apply fixes the divergence directly, bypassing the outbox,
// because drift by definition has no membership change to anchor an event
// to.
package drift

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/memberhub-app/memberhub/internal/app/store/audit"
	"github.com/memberhub-app/memberhub/internal/app/system/auditlog"
	"github.com/memberhub-app/memberhub/internal/app/system/directory"
	"github.com/memberhub-app/memberhub/internal/app/system/normalize"
	"github.com/memberhub-app/memberhub/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ResourceSource lists the active external resources to sweep.
type ResourceSource interface {
	ListActive(ctx context.Context) ([]models.ExternalResource, error)
}

// MembershipSource reads current internal membership.
type MembershipSource interface {
	CurrentMemberIDs(ctx context.Context, groupID primitive.ObjectID) ([]primitive.ObjectID, error)
}

// PrincipalSource resolves directory principals for user ids.
type PrincipalSource interface {
	EmailsByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]string, error)
}

// ResourceDiff is the drift report for one external resource.
type ResourceDiff struct {
	GroupID      primitive.ObjectID `json:"group_id"`
	ResourceID   string             `json:"resource_id"`
	ResourceType string             `json:"resource_type"`
	// Missing principals should have access but don't; Extra principals
	// have access but shouldn't.
	Missing []string `json:"missing,omitempty"`
	Extra   []string `json:"extra,omitempty"`
	// Err is set when this resource could not be compared; the sweep
	// continues past it.
	Err string `json:"error,omitempty"`
}

// InSync reports whether the resource was compared cleanly and matches.
func (d ResourceDiff) InSync() bool {
	return d.Err == "" && len(d.Missing) == 0 && len(d.Extra) == 0
}

// Report is the outcome of one preview sweep.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Resources   []ResourceDiff `json:"resources"`
	Drifted     int            `json:"drifted"`
	Errored     int            `json:"errored"`
}

// ApplyResult is the outcome of one apply pass over a resource.
type ApplyResult struct {
	ResourceID string `json:"resource_id"`
	Granted    int    `json:"granted"`
	Revoked    int    `json:"revoked"`
	Failed     int    `json:"failed"`
	Err        string `json:"error,omitempty"`
}

// Previewer computes and optionally corrects external drift.
type Previewer struct {
	resources ResourceSource
	members   MembershipSource
	users     PrincipalSource
	dir       directory.API
	audit     *auditlog.Logger
	log       *zap.Logger
	// servicePrincipal is the engine's own directory identity. It appears
	// on every resource and must never read as drift or be revoked.
	servicePrincipal string
}

func New(resources ResourceSource, members MembershipSource, users PrincipalSource, dir directory.API, audit *auditlog.Logger, log *zap.Logger, servicePrincipal string) *Previewer {
	return &Previewer{
		resources:        resources,
		members:          members,
		users:            users,
		dir:              dir,
		audit:            audit,
		log:              log,
		servicePrincipal: normalize.Email(servicePrincipal),
	}
}

// PreviewAll sweeps every active resource and reports divergence without
// changing anything. A failure on one resource is recorded in its diff and
// the sweep continues; only the resource listing itself is fatal.
func (p *Previewer) PreviewAll(ctx context.Context) (Report, error) {
	report := Report{GeneratedAt: time.Now().UTC()}

	resources, err := p.resources.ListActive(ctx)
	if err != nil {
		p.audit.Log(ctx, audit.Event{
			Category:      audit.CategoryDrift,
			EventType:     audit.EventDriftListFailed,
			Success:       false,
			FailureReason: err.Error(),
			Description:   "drift sweep could not list active resources",
		})
		return Report{}, fmt.Errorf("list active resources: %w", err)
	}

	for _, res := range resources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		diff := p.compare(ctx, res)
		if diff.Err != "" {
			report.Errored++
		} else if !diff.InSync() {
			report.Drifted++
			p.audit.DriftDetected(ctx, res.GroupID, res.ExternalID, len(diff.Missing), len(diff.Extra))
		}
		report.Resources = append(report.Resources, diff)
	}

	p.log.Info("drift preview finished",
		zap.Int("resources", len(report.Resources)),
		zap.Int("drifted", report.Drifted),
		zap.Int("errored", report.Errored))
	return report, nil
}

// Apply corrects drift on every active resource, re-comparing from live
// state rather than trusting a previously generated report.
func (p *Previewer) Apply(ctx context.Context, actor string) ([]ApplyResult, error) {
	resources, err := p.resources.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active resources: %w", err)
	}

	var results []ApplyResult
	for _, res := range resources {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, p.applyOne(ctx, res, actor))
	}
	return results, nil
}

func (p *Previewer) applyOne(ctx context.Context, res models.ExternalResource, actor string) ApplyResult {
	result := ApplyResult{ResourceID: res.ExternalID}

	diff := p.compare(ctx, res)
	if diff.Err != "" {
		result.Err = diff.Err
		return result
	}

	for _, principal := range diff.Missing {
		if err := p.dir.Grant(ctx, res.ExternalID, principal); err != nil {
			result.Failed++
			p.log.Error("drift grant failed",
				zap.String("resource_id", res.ExternalID),
				zap.Error(err))
			continue
		}
		result.Granted++
	}
	for _, principal := range diff.Extra {
		if err := p.dir.Revoke(ctx, res.ExternalID, principal); err != nil {
			result.Failed++
			p.log.Error("drift revoke failed",
				zap.String("resource_id", res.ExternalID),
				zap.Error(err))
			continue
		}
		result.Revoked++
	}

	if result.Granted > 0 || result.Revoked > 0 {
		p.audit.DriftApplied(ctx, res.GroupID, res.ExternalID, result.Granted, result.Revoked)
		p.log.Info("drift applied",
			zap.String("resource_id", res.ExternalID),
			zap.String("actor", actor),
			zap.Int("granted", result.Granted),
			zap.Int("revoked", result.Revoked),
			zap.Int("failed", result.Failed))
	}
	return result
}

// compare diffs one resource's expected principals (current internal
// members) against its actual direct grants. Inherited grants and the
// service principal are excluded on both sides.
func (p *Previewer) compare(ctx context.Context, res models.ExternalResource) ResourceDiff {
	diff := ResourceDiff{
		GroupID:      res.GroupID,
		ResourceID:   res.ExternalID,
		ResourceType: res.ResourceType,
	}

	memberIDs, err := p.members.CurrentMemberIDs(ctx, res.GroupID)
	if err != nil {
		diff.Err = fmt.Sprintf("load members: %v", err)
		return diff
	}
	principals, err := p.users.EmailsByIDs(ctx, memberIDs)
	if err != nil {
		diff.Err = fmt.Sprintf("resolve principals: %v", err)
		return diff
	}

	expected := make(map[string]bool, len(principals))
	for _, email := range principals {
		e := normalize.Email(email)
		if e == "" || e == p.servicePrincipal {
			continue
		}
		expected[e] = true
	}

	grants, err := p.dir.ListGrants(ctx, res.ExternalID)
	if err != nil {
		diff.Err = fmt.Sprintf("list grants: %v", err)
		return diff
	}

	actual := make(map[string]bool, len(grants))
	for _, g := range grants {
		if g.Inherited {
			continue
		}
		e := normalize.Email(g.Principal)
		if e == "" || e == p.servicePrincipal {
			continue
		}
		actual[e] = true
	}

	for e := range expected {
		if !actual[e] {
			diff.Missing = append(diff.Missing, e)
		}
	}
	for e := range actual {
		if !expected[e] {
			diff.Extra = append(diff.Extra, e)
		}
	}
	sort.Strings(diff.Missing)
	sort.Strings(diff.Extra)
	return diff
}
