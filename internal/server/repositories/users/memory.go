package users

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/google/uuid"
)

// InMemoryRepository keeps users in process memory. It is meant for local
// development and tests; nothing survives a restart.
type InMemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byEmail map[string]string
	byName  map[string]string
	now     func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]string),
		byName:  make(map[string]string),
		now:     time.Now,
	}
}

func (r *InMemoryRepository) FindByEmailOrHandle(ctx context.Context, value string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[value]
	if !ok {
		id, ok = r.byName[value]
	}
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *InMemoryRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u.Clone(), nil
}

func (r *InMemoryRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !user.Role.Valid() {
		return nil, fmt.Errorf("create user: invalid role %q", user.Role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[user.Email]; taken {
		return nil, common.ErrorAlreadyExists
	}
	if user.UserName != "" {
		if _, taken := r.byName[user.UserName]; taken {
			return nil, common.ErrorAlreadyExists
		}
	}

	created := user.Clone()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if _, taken := r.byID[created.ID]; taken {
		return nil, common.ErrorAlreadyExists
	}
	created.CreatedAt = r.now().UTC()
	if created.RefreshTokens == nil {
		created.RefreshTokens = []string{}
	}

	r.byID[created.ID] = created
	r.byEmail[created.Email] = created.ID
	if created.UserName != "" {
		r.byName[created.UserName] = created.ID
	}
	return created.Clone(), nil
}

func (r *InMemoryRepository) Update(ctx context.Context, id string, patch models.UserPatch) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	u.Apply(patch)
	return u.Clone(), nil
}

// Delete removes a user. The store contract has no delete; administrative
// tooling and tests use it directly.
func (r *InMemoryRepository) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byEmail, u.Email)
	if u.UserName != "" {
		delete(r.byName, u.UserName)
	}
	delete(r.byID, id)
}

