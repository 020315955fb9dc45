package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinsync/patient-registry/pkg/types"
)

// MemoryUserStore is an in-memory implementation of the user repository
type MemoryUserStore struct {
	mu      sync.RWMutex
	users   map[string]*types.User
	byEmail map[string]string
}

// NewMemoryUserStore creates an empty in-memory user store
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:   make(map[string]*types.User),
		byEmail: make(map[string]string),
	}
}

// Create inserts a new user
func (s *MemoryUserStore) Create(ctx context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[user.Email]; exists {
		return types.NewConflictError(types.ErrCodeDuplicateEmail,
			fmt.Sprintf("email already registered: %s", user.Email))
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now().UTC()

	stored := *user
	s.users[user.ID] = &stored
	s.byEmail[user.Email] = user.ID

	return nil
}

// GetByID retrieves a user by ID
func (s *MemoryUserStore) GetByID(ctx context.Context, id string) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeUserNotFound,
			fmt.Sprintf("user not found: %s", id))
	}

	copied := *user
	return &copied, nil
}

// GetByEmail retrieves a user by email
func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeUserNotFound,
			fmt.Sprintf("user not found: %s", email))
	}
	return s.GetByID(ctx, id)
}

// List returns all users ordered by creation time
func (s *MemoryUserStore) List(ctx context.Context) ([]*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*types.User, 0, len(s.users))
	for _, user := range s.users {
		copied := *user
		users = append(users, &copied)
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Email < users[j].Email
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})

	return users, nil
}

// SetActive enables or disables a user account
func (s *MemoryUserStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return types.NewNotFoundError(types.ErrCodeUserNotFound,
			fmt.Sprintf("user not found: %s", id))
	}

	user.IsActive = active
	return nil
}

// RecordLogin stamps the user's last login time
func (s *MemoryUserStore) RecordLogin(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return types.NewNotFoundError(types.ErrCodeUserNotFound,
			fmt.Sprintf("user not found: %s", id))
	}

	now := time.Now().UTC()
	user.LastLogin = &now
	return nil
}
