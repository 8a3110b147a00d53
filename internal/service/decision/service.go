// Package decision picks the call-to-action a public profile presents to a
// visitor.
//
// Decide is pure. Service wraps it with the lookups a decision query needs
// (identity, subject capabilities, CTA copy variant) and degrades to the
// anonymous default when any of them fails.
package decision

import (
	"context"
	"strings"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/metrics"
	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// IdentityResolver is the part of the identity service decisions need.
type IdentityResolver interface {
	Resolve(ctx context.Context, anonymousID string) (domain.Identity, error)
}

// VariantAssigner is the part of the variant service decisions need.
type VariantAssigner interface {
	Assign(ctx context.Context, anonymousID, experimentKey string, candidates []string) (string, error)
}

// Experiment names the CTA copy experiment a decision is rendered with.
type Experiment struct {
	Key      string
	Variants []string
}

// Result is what the decision query returns for rendering.
type Result struct {
	SubjectID     string          `json:"subject_id"`
	Decision      domain.Decision `json:"decision"`
	ExperimentKey string          `json:"experiment_key,omitempty"`
	VariantID     string          `json:"variant_id,omitempty"`
	Degraded      bool            `json:"degraded,omitempty"`
}

// Service answers decision queries.
type Service struct {
	identities IdentityResolver
	catalog    Catalog
	variants   VariantAssigner
	experiment Experiment
}

// NewService wires a decision service. variants may be nil to disable the
// CTA copy experiment.
func NewService(identities IdentityResolver, catalog Catalog, variants VariantAssigner, exp Experiment) *Service {
	return &Service{identities: identities, catalog: catalog, variants: variants, experiment: exp}
}

// Query decides the CTA for visitorToken on subjectID. Apart from creating
// the anonymous identity on first sight it has no side effects.
func (s *Service) Query(ctx context.Context, visitorToken, subjectID string) (Result, error) {
	visitorToken = strings.TrimSpace(visitorToken)
	subjectID = strings.TrimSpace(subjectID)
	if visitorToken == "" {
		return Result{}, &domain.ValidationError{Field: "visitor", Reason: "is required"}
	}
	if subjectID == "" {
		return Result{}, &domain.ValidationError{Field: "subject_id", Reason: "is required"}
	}

	res := Result{SubjectID: subjectID}

	id, err := s.identities.Resolve(ctx, visitorToken)
	if err != nil {
		logger.Warn("decision: identity lookup failed, using anonymous default", "subject_id", subjectID, "error", err.Error())
		id = domain.Identity{AnonymousID: visitorToken}
		res.Degraded = true
	}

	caps, err := s.catalog.Capabilities(ctx, subjectID)
	if err != nil {
		logger.Warn("decision: capability lookup failed, using defaults", "subject_id", subjectID, "error", err.Error())
		caps = DefaultCapabilities()
		caps.SubjectID = subjectID
		res.Degraded = true
	}

	res.Decision = Decide(id, caps)

	if s.variants != nil && s.experiment.Key != "" && res.Decision.Available {
		v, err := s.variants.Assign(ctx, visitorToken, s.experiment.Key, s.experiment.Variants)
		if err != nil {
			logger.Warn("decision: variant assignment failed", "experiment_key", s.experiment.Key, "error", err.Error())
			res.Degraded = true
		} else {
			res.ExperimentKey = s.experiment.Key
			res.VariantID = v
		}
	}

	primary := "none"
	if res.Decision.Primary != nil {
		primary = string(res.Decision.Primary.Kind)
	}
	metrics.RecordDecision(primary, Fallback(id, res.Decision))
	return res, nil
}
