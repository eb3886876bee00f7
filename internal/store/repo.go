package store

import (
	"context"

	"github.com/ykvlv/tardy-bot/internal/domain"
)

// Repo defines storage operations for users and tardy requests.
type Repo interface {
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
	SetSupervisor(ctx context.Context, id string, supervisorID *string) error

	CreateTardy(ctx context.Context, r *domain.TardyRequest) (int64, error)
	GetTardy(ctx context.Context, id int64) (*domain.TardyRequest, error)
	ListPendingForApprover(ctx context.Context, approverID string) ([]domain.TardyRequest, error)
	SetTardyStatus(ctx context.Context, id int64, status domain.Status) error

	Close() error
}
