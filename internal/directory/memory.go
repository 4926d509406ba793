package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"session-authority/backend/internal/security"
)

type memoryUser struct {
	profile      Profile
	passwordHash string
}

// MemoryDirectory is an in-process Directory for development and tests. Passwords are bcrypt hashed.
type MemoryDirectory struct {
	mu         sync.RWMutex
	byID       map[string]*memoryUser
	byNickname map[string]*memoryUser
	hasher     *security.PasswordHasher
	dummyHash  string
	now        func() time.Time
}

// NewMemoryDirectory returns an empty directory hashing with hasher.
func NewMemoryDirectory(hasher *security.PasswordHasher) *MemoryDirectory {
	if hasher == nil {
		hasher = security.NewPasswordHasher(0)
	}
	// Compared against on unknown nicknames so lookups of missing users cost the same as real ones.
	dummy, _ := hasher.Hash("directory-dummy-password")
	return &MemoryDirectory{
		byID:       make(map[string]*memoryUser),
		byNickname: make(map[string]*memoryUser),
		hasher:     hasher,
		dummyHash:  dummy,
		now:        time.Now,
	}
}

func nicknameKey(n string) string { return strings.ToLower(strings.TrimSpace(n)) }

func (d *MemoryDirectory) Create(_ context.Context, nickname, password string) (*Profile, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || password == "" {
		return nil, ErrInvalidInput
	}
	hash, err := d.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	key := nicknameKey(nickname)
	if _, ok := d.byNickname[key]; ok {
		return nil, ErrNicknameTaken
	}
	u := &memoryUser{
		profile:      Profile{ID: id.String(), Nickname: nickname, CreatedAt: d.now().UTC()},
		passwordHash: hash,
	}
	d.byID[u.profile.ID] = u
	d.byNickname[key] = u
	p := u.profile
	return &p, nil
}

func (d *MemoryDirectory) VerifyCredentials(_ context.Context, nickname, password string) (bool, error) {
	d.mu.RLock()
	u, ok := d.byNickname[nicknameKey(nickname)]
	d.mu.RUnlock()
	if !ok {
		d.hasher.Verify(password, d.dummyHash)
		return false, nil
	}
	return d.hasher.Verify(password, u.passwordHash), nil
}

func (d *MemoryDirectory) FindByID(_ context.Context, id string) (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, nil
	}
	p := u.profile
	return &p, nil
}

func (d *MemoryDirectory) FindByNickname(_ context.Context, nickname string) (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byNickname[nicknameKey(nickname)]
	if !ok {
		return nil, nil
	}
	p := u.profile
	return &p, nil
}

// Delete removes the user. Used to simulate profiles disappearing from the directory.
func (d *MemoryDirectory) Delete(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.byID[id]; ok {
		delete(d.byNickname, nicknameKey(u.profile.Nickname))
		delete(d.byID, id)
	}
}
