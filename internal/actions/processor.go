// Package actions applies creator decisions (confirm, dispute, dismiss) to
// detected releases, either directly from an authenticated caller or from a
// signed link embedded in an alert.
package actions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-monitor/internal/metrics"
	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/store"
	"github.com/sells-group/catalog-monitor/internal/tokens"
)

var (
	// ErrUnknownAction is returned for an action outside confirm, dispute, dismiss.
	ErrUnknownAction = eris.New("actions: unknown action")
	// ErrActionMismatch is returned when a token is presented for an action it
	// was not issued for.
	ErrActionMismatch = eris.New("actions: token not valid for this action")

	ErrNotFound          = store.ErrNotFound
	ErrInvalidTransition = store.ErrInvalidTransition
	ErrTokenConsumed     = store.ErrTokenConsumed
)

// Result reports the effect of an action.
type Result struct {
	ReleaseID       string              `json:"detected_release_id"`
	Action          model.Action        `json:"action"`
	Previous        model.ReleaseStatus `json:"previous_status"`
	Status          model.ReleaseStatus `json:"status"`
	Changed         bool                `json:"changed"`
	CancelledAlerts int                 `json:"cancelled_alerts"`
}

// Store is the persistence the processor needs.
type Store interface {
	store.ReleaseStore
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
}

// Preview describes what a signed link would do, without doing it.
type Preview struct {
	ReleaseID string              `json:"detected_release_id"`
	Title     string              `json:"title"`
	Action    model.Action        `json:"action"`
	Status    model.ReleaseStatus `json:"status"`
}

// Processor is the action processor.
type Processor struct {
	store  Store
	signer *tokens.Signer
	now    func() time.Time
	log    *zap.Logger
}

// New creates a Processor.
func New(s Store, signer *tokens.Signer) *Processor {
	return &Processor{
		store:  s,
		signer: signer,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "actions")),
	}
}

// Apply resolves a release on behalf of an authenticated creator. Repeating
// an action that already produced the release's status succeeds without
// change.
func (p *Processor) Apply(ctx context.Context, releaseID, creatorID string, action model.Action, notes string) (*Result, error) {
	if _, ok := model.ParseAction(string(action)); !ok {
		p.count(action, ErrUnknownAction, nil)
		return nil, eris.Wrapf(ErrUnknownAction, "%q", action)
	}
	return p.apply(ctx, store.Resolution{
		ReleaseID: releaseID,
		CreatorID: creatorID,
		Target:    action.TargetStatus(),
		Notes:     disputeNotes(action, notes),
		At:        p.now().UTC(),
	}, action)
}

// ApplyByToken resolves a release from a signed alert link. The token must be
// unexpired, issued for action and not yet used; any link of the same alert
// is spent once one succeeds. An empty action uses the token's own.
func (p *Processor) ApplyByToken(ctx context.Context, token string, action model.Action, notes string) (*Result, error) {
	claims, err := p.signer.Verify(token)
	if err != nil {
		p.count(action, err, nil)
		return nil, err
	}
	if action == "" {
		action = claims.Action
	}
	if action != claims.Action {
		p.count(action, ErrActionMismatch, nil)
		return nil, ErrActionMismatch
	}
	return p.apply(ctx, store.Resolution{
		ReleaseID: claims.DetectedReleaseID,
		CreatorID: claims.CreatorID,
		Target:    action.TargetStatus(),
		Notes:     disputeNotes(action, notes),
		At:        p.now().UTC(),
		Token:     &store.TokenUse{AlertID: claims.AlertID, TokenID: claims.TokenID()},
	}, action)
}

// PreviewToken checks a signed link the way ApplyByToken would and reports
// the release it targets. Nothing is consumed, so link prefetchers cannot
// spend the token.
func (p *Processor) PreviewToken(ctx context.Context, token string, action model.Action) (*Preview, error) {
	claims, err := p.signer.Verify(token)
	if err != nil {
		return nil, err
	}
	if action == "" {
		action = claims.Action
	}
	if action != claims.Action {
		return nil, ErrActionMismatch
	}

	alert, err := p.store.GetAlert(ctx, claims.AlertID)
	if err != nil {
		return nil, err
	}
	if alert.ActionToken != claims.TokenID() || alert.ActionTakenAt != nil {
		return nil, ErrTokenConsumed
	}
	rel, err := p.store.GetRelease(ctx, claims.DetectedReleaseID)
	if err != nil {
		return nil, err
	}
	if rel.CreatorID != claims.CreatorID {
		return nil, ErrNotFound
	}
	return &Preview{
		ReleaseID: rel.ID,
		Title:     rel.Title,
		Action:    action,
		Status:    rel.Status,
	}, nil
}

func (p *Processor) apply(ctx context.Context, r store.Resolution, action model.Action) (*Result, error) {
	log := p.log.With(
		zap.String("detected_release_id", r.ReleaseID),
		zap.String("creator_id", r.CreatorID),
		zap.String("action", string(action)),
	)

	res, err := p.store.ApplyResolution(ctx, r)
	p.count(action, err, res)
	if err != nil {
		if isRejection(err) {
			log.Info("action rejected", zap.Error(err))
			return nil, err
		}
		log.Error("apply action failed", zap.Error(err))
		return nil, eris.Wrap(err, "actions: apply")
	}

	log.Info("action applied",
		zap.String("previous", string(res.Previous)),
		zap.Bool("changed", res.Changed),
		zap.Int("cancelled_alerts", res.CancelledAlerts),
	)
	return &Result{
		ReleaseID:       r.ReleaseID,
		Action:          action,
		Previous:        res.Previous,
		Status:          res.Status,
		Changed:         res.Changed,
		CancelledAlerts: res.CancelledAlerts,
	}, nil
}

func disputeNotes(action model.Action, notes string) *string {
	if action != model.ActionDispute || strings.TrimSpace(notes) == "" {
		return nil
	}
	return &notes
}

func isRejection(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrInvalidTransition) ||
		errors.Is(err, store.ErrTokenConsumed)
}

func (p *Processor) count(action model.Action, err error, res *store.ResolutionResult) {
	metrics.ActionsTotal.WithLabelValues(string(action), resultLabel(err, res)).Inc()
}

func resultLabel(err error, res *store.ResolutionResult) string {
	switch {
	case err == nil && res != nil && res.Changed:
		return "applied"
	case err == nil:
		return "noop"
	case errors.Is(err, tokens.ErrExpired):
		return "expired"
	case errors.Is(err, tokens.ErrInvalid), errors.Is(err, ErrActionMismatch), errors.Is(err, ErrUnknownAction):
		return "invalid"
	case errors.Is(err, store.ErrTokenConsumed):
		return "token_used"
	case errors.Is(err, store.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
