package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"go-exam-portal/internal/model"
)

// MemoryPrincipalRepository keeps principals in process memory. It backs
// STORE_DRIVER=memory and the service tests.
type MemoryPrincipalRepository struct {
	mu         sync.RWMutex
	principals map[string]model.Principal
}

func NewMemoryPrincipalRepository() *MemoryPrincipalRepository {
	return &MemoryPrincipalRepository{principals: make(map[string]model.Principal)}
}

func (r *MemoryPrincipalRepository) FindByID(_ context.Context, role model.Role, id string) (model.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.principals[id]
	if !ok || p.Role != role {
		return model.Principal{}, notFound(role, id)
	}
	return clonePrincipal(p), nil
}

func (r *MemoryPrincipalRepository) FindByLogin(_ context.Context, role model.Role, login string) (model.Principal, error) {
	login = strings.TrimSpace(login)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var byIdentifier *model.Principal
	for _, p := range r.principals {
		if p.Role != role {
			continue
		}
		if strings.EqualFold(p.Email, login) {
			return clonePrincipal(p), nil
		}
		if p.Identifier != "" && p.Identifier == login {
			match := p
			byIdentifier = &match
		}
	}
	if byIdentifier != nil {
		return clonePrincipal(*byIdentifier), nil
	}
	return model.Principal{}, notFound(role, "")
}

func (r *MemoryPrincipalRepository) FindConflict(_ context.Context, role model.Role, email string, identifier string, excludeID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.conflictLocked(role, email, identifier, excludeID), nil
}

func (r *MemoryPrincipalRepository) Create(_ context.Context, p model.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.principals[p.ID]; exists || r.conflictLocked(p.Role, p.Email, p.Identifier, p.ID) {
		return alreadyExists(p.Role)
	}
	r.principals[p.ID] = clonePrincipal(p)
	return nil
}

func (r *MemoryPrincipalRepository) Update(_ context.Context, p model.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.principals[p.ID]
	if !ok || stored.Role != p.Role {
		return notFound(p.Role, p.ID)
	}
	if r.conflictLocked(p.Role, p.Email, stored.Identifier, p.ID) {
		return alreadyExists(p.Role)
	}

	stored.Name = p.Name
	stored.Email = p.Email
	stored.Phone = p.Phone
	stored.Course = p.Course
	stored.Department = p.Department
	stored.Designation = p.Designation
	stored.UpdatedAt = time.Now().UTC()
	r.principals[p.ID] = stored
	return nil
}

func (r *MemoryPrincipalRepository) UpdatePassword(_ context.Context, role model.Role, id string, passwordHash string) error {
	return r.mutate(role, id, func(p *model.Principal) { p.PasswordHash = passwordHash })
}

func (r *MemoryPrincipalRepository) SetRefreshToken(_ context.Context, role model.Role, id string, token string) error {
	return r.mutate(role, id, func(p *model.Principal) { p.RefreshToken = nullable(token) })
}

func (r *MemoryPrincipalRepository) UpdateAvatar(_ context.Context, role model.Role, id string, avatarURL string) error {
	return r.mutate(role, id, func(p *model.Principal) { p.Avatar = avatarURL })
}

func (r *MemoryPrincipalRepository) Delete(_ context.Context, role model.Role, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[id]
	if !ok || p.Role != role {
		return notFound(role, id)
	}
	delete(r.principals, id)
	return nil
}

func (r *MemoryPrincipalRepository) Count(_ context.Context, role model.Role) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, p := range r.principals {
		if p.Role == role {
			count++
		}
	}
	return count, nil
}

func (r *MemoryPrincipalRepository) mutate(role model.Role, id string, apply func(*model.Principal)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[id]
	if !ok || p.Role != role {
		return notFound(role, id)
	}
	apply(&p)
	p.UpdatedAt = time.Now().UTC()
	r.principals[id] = p
	return nil
}

func (r *MemoryPrincipalRepository) conflictLocked(role model.Role, email string, identifier string, excludeID string) bool {
	email = strings.TrimSpace(email)
	identifier = strings.TrimSpace(identifier)
	for id, p := range r.principals {
		if id == excludeID || p.Role != role {
			continue
		}
		if strings.EqualFold(p.Email, email) {
			return true
		}
		if identifier != "" && p.Identifier == identifier {
			return true
		}
	}
	return false
}

func clonePrincipal(p model.Principal) model.Principal {
	if p.RefreshToken != nil {
		token := *p.RefreshToken
		p.RefreshToken = &token
	}
	return p
}
