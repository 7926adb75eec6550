package identity

import (
    "context"
    "sync"
    "time"
)

type memoryRepository struct {
    mu         sync.RWMutex
    users      map[string]User
    byEmail    map[string]string
    byPhone    map[string]string
    byUsername map[string]string
}

// NewMemoryRepository builds an in-memory user store for development and tests.
func NewMemoryRepository() Repository {
    return &memoryRepository{
        users:      make(map[string]User),
        byEmail:    make(map[string]string),
        byPhone:    make(map[string]string),
        byUsername: make(map[string]string),
    }
}

func (r *memoryRepository) Create(ctx context.Context, user User) error {
    if err := ctx.Err(); err != nil {
        return err
    }
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, exists := r.byEmail[user.Email]; exists {
        return ErrEmailTaken
    }
    if user.HasPhone() {
        if _, exists := r.byPhone[user.Phone]; exists {
            return ErrPhoneTaken
        }
    }
    if _, exists := r.byUsername[user.Username]; exists {
        return ErrUsernameTaken
    }
    r.users[user.ID] = user
    r.byEmail[user.Email] = user.ID
    r.byUsername[user.Username] = user.ID
    if user.HasPhone() {
        r.byPhone[user.Phone] = user.ID
    }
    return nil
}

func (r *memoryRepository) FindByID(ctx context.Context, id string) (User, error) {
    if err := ctx.Err(); err != nil {
        return User{}, err
    }
    r.mu.RLock()
    defer r.mu.RUnlock()
    user, ok := r.users[id]
    if !ok {
        return User{}, ErrNotFound
    }
    return user, nil
}

func (r *memoryRepository) FindByEmail(ctx context.Context, email string) (User, error) {
    return r.findByIndex(ctx, r.byEmail, email)
}

func (r *memoryRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
    return r.findByIndex(ctx, r.byPhone, phone)
}

func (r *memoryRepository) SetOTP(ctx context.Context, userID, code string, expiresAt time.Time) error {
    if err := ctx.Err(); err != nil {
        return err
    }
    r.mu.Lock()
    defer r.mu.Unlock()
    user, ok := r.users[userID]
    if !ok {
        return ErrNotFound
    }
    user.OTPCode = code
    user.OTPExpiresAt = expiresAt
    r.users[userID] = user
    return nil
}

func (r *memoryRepository) ClearOTPIfMatch(ctx context.Context, userID, code string) error {
    if err := ctx.Err(); err != nil {
        return err
    }
    r.mu.Lock()
    defer r.mu.Unlock()
    user, ok := r.users[userID]
    if !ok {
        return ErrNotFound
    }
    if user.OTPCode != code {
        return nil
    }
    user.OTPCode = ""
    user.OTPExpiresAt = time.Time{}
    r.users[userID] = user
    return nil
}

func (r *memoryRepository) ConsumeOTP(ctx context.Context, phone, code string, now time.Time) (User, error) {
    if err := ctx.Err(); err != nil {
        return User{}, err
    }
    r.mu.Lock()
    defer r.mu.Unlock()
    id, ok := r.byPhone[phone]
    if !ok {
        return User{}, ErrNoActiveOTP
    }
    user := r.users[id]
    if user.OTPCode == "" || user.OTPCode != code || !now.Before(user.OTPExpiresAt) {
        return User{}, ErrNoActiveOTP
    }
    user.OTPCode = ""
    user.OTPExpiresAt = time.Time{}
    r.users[id] = user
    return user, nil
}

func (r *memoryRepository) findByIndex(ctx context.Context, index map[string]string, key string) (User, error) {
    if err := ctx.Err(); err != nil {
        return User{}, err
    }
    r.mu.RLock()
    defer r.mu.RUnlock()
    id, ok := index[key]
    if !ok {
        return User{}, ErrNotFound
    }
    return r.users[id], nil
}
