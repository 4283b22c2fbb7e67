package users

import (
	"context"

	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, reach rbac.Reach) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	resolver *rbac.Resolver
	guard    *rbac.Guard
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, resolver *rbac.Resolver, guard *rbac.Guard) *Service {
	return &Service{repo: repo, resolver: resolver, guard: guard}
}

// ListVisible returns the users the actor can see.
func (s *Service) ListVisible(ctx context.Context, actor rbac.Principal) ([]User, error) {
	subject, err := s.resolver.Subject(ctx, actor)
	if err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx, rbac.ReachOf(subject))
	if err != nil {
		return nil, err
	}
	visible := users[:0]
	for _, u := range users {
		if s.guard.CanAccess(subject, target(u), rbac.ModeView) {
			visible = append(visible, u)
		}
	}
	return visible, nil
}

// Get returns one user when it is within the actor's reach.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, id int64) (User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	subject, err := s.resolver.Subject(ctx, actor)
	if err != nil {
		return User{}, err
	}
	if err := s.guard.Evaluate(subject, target(u), rbac.ModeView).Err(rbac.ModeView); err != nil {
		return User{}, err
	}
	return u, nil
}

func target(u User) rbac.Target {
	id := u.ID
	return rbac.Target{ChainID: u.ChainID, StoreID: u.StoreID, OwnerUserID: &id}
}
