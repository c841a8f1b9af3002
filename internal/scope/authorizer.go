package scope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"inkwell/internal/broker"
)

var (
	// ErrNoPrincipal 对应 401：订阅请求没有带上可识别的用户身份。
	ErrNoPrincipal = errors.New("no principal")

	// ErrScopeForbidden 对应 403：请求的 scope 引用了不属于该用户的资源。
	ErrScopeForbidden = errors.New("scope forbidden")
)

type Principal struct {
	UserID      string
	WorkspaceID string
}

// OwnershipStore resolves resource ids up to their owning project. Backed by
// the platform's document storage, which is outside this subsystem.
type OwnershipStore interface {
	ProjectOwnedBy(ctx context.Context, projectID, userID string) (bool, error)
	DocumentProject(ctx context.Context, documentID string) (string, error)
	SectionDocument(ctx context.Context, sectionID string) (string, error)
}

// Authorizer validates that a subscriber may receive events for each requested
// scope. Every concrete resource id must resolve to a project the principal
// owns; topic-only scopes are implicitly workspace-wide and pass.
type Authorizer struct {
	store  OwnershipStore
	logger *slog.Logger
}

func NewAuthorizer(store OwnershipStore, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		store:  store,
		logger: logger.With("component", "scope"),
	}
}

func (a *Authorizer) Authorize(ctx context.Context, principal Principal, scopes []broker.Scope) error {
	if principal.UserID == "" {
		return ErrNoPrincipal
	}

	for _, s := range scopes {
		if s.ResourceID == "" {
			continue
		}

		projectID, err := a.resolveProject(ctx, s)
		if err != nil {
			a.logger.Warn("Scope resolution failed",
				"topic", string(s.Topic),
				"resource_id", s.ResourceID,
				"error", err)
			return fmt.Errorf("%w: %s/%s", ErrScopeForbidden, s.Topic, s.ResourceID)
		}

		owned, err := a.store.ProjectOwnedBy(ctx, projectID, principal.UserID)
		if err != nil || !owned {
			return fmt.Errorf("%w: %s/%s", ErrScopeForbidden, s.Topic, s.ResourceID)
		}
	}

	return nil
}

// resolveProject walks the resource id up to its project according to what
// kind of resource the topic scopes over.
func (a *Authorizer) resolveProject(ctx context.Context, s broker.Scope) (string, error) {
	switch s.Topic {
	case broker.TopicProjectLifecycle:
		return s.ResourceID, nil

	case broker.TopicDocumentLifecycle, broker.TopicQualityProgress, broker.TopicQualitySummary:
		return a.store.DocumentProject(ctx, s.ResourceID)

	case broker.TopicSectionConflict, broker.TopicSectionDiff,
		broker.TopicCoAuthorQueue, broker.TopicCoAuthorProgress:
		documentID, err := a.store.SectionDocument(ctx, s.ResourceID)
		if err != nil {
			return "", err
		}
		return a.store.DocumentProject(ctx, documentID)

	default:
		return "", fmt.Errorf("unknown topic %q", s.Topic)
	}
}
