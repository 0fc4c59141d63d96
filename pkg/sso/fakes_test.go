package sso

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/ssobridge/pkg/ssoerr"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.BaseURL = "https://idp.example.com"
	cfg.Realm = "acme"
	cfg.ClientID = "crm"
	cfg.ClientSecret = "s3cr3t"
	cfg.RedirectURI = "https://crm.example.com/sso/callback"
	cfg.EncryptionKey = testKey
	cfg.DefaultRole = "Sales Agent"
	cfg.ErrorHandling.RetryDelay = time.Millisecond
	cfg.Retry.Sleep = time.Millisecond
	return cfg
}

// memStore is an in-memory Store and Transactor with rollback on error.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	users     map[int64]User
	roles     map[string]Role
	userRoles map[int64][]int64

	findRolesErr error
	replaceErr   error
	saveErr      error
	saves        int
}

func newMemStore(roles ...string) *memStore {
	s := &memStore{
		users:     map[int64]User{},
		roles:     map[string]Role{},
		userRoles: map[int64][]int64{},
	}
	for i, name := range roles {
		s.roles[name] = Role{ID: int64(i + 1), Name: name}
	}
	return s
}

func (s *memStore) InTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	users := make(map[int64]User, len(s.users))
	for k, v := range s.users {
		users[k] = v
	}
	userRoles := make(map[int64][]int64, len(s.userRoles))
	for k, v := range s.userRoles {
		userRoles[k] = append([]int64(nil), v...)
	}
	nextID := s.nextID
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.users, s.userRoles, s.nextID = users, userRoles, nextID
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) FindByExternalID(_ context.Context, externalID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ExternalID == externalID {
			u := u
			u.RoleIDs = append([]int64(nil), s.userRoles[u.ID]...)
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			u := u
			u.RoleIDs = append([]int64(nil), s.userRoles[u.ID]...)
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	user.ID = s.nextID
	s.users[user.ID] = *user
	return nil
}

func (s *memStore) Save(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.users[user.ID] = *user
	return nil
}

func (s *memStore) FindRolesByNames(_ context.Context, names []string) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findRolesErr != nil {
		return nil, s.findRolesErr
	}
	var out []Role
	for _, n := range names {
		if r, ok := s.roles[n]; ok {
			out = append(out, r)
		}
	}
	// stores make no ordering promise
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) FindRoleByName(_ context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (s *memStore) AssignPrimaryRole(_ context.Context, userID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.RoleID = &roleID
	s.users[userID] = u
	return nil
}

func (s *memStore) ReplaceAllRoles(_ context.Context, userID int64, roleIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.userRoles[userID] = append([]int64(nil), roleIDs...)
	return nil
}

func (s *memStore) user(id int64) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memStore) rolesOf(id int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.userRoles[id]...)
}

// fakeTransport is a scripted Transport.
type fakeTransport struct {
	mu sync.Mutex

	exchangeErrs  []error
	exchange      *TokenSet
	refreshErr    error
	refresh       *TokenSet
	userInfoErr   error
	claims        Claims
	introspect    *Introspection
	introspectErr error
	revokeOK      bool
	revokeErr     error

	exchangeCalls int
	refreshCalls  int
	userInfoCalls int
	revokeCalls   int
	lastScopes    []string
	lastCode      string
}

func (f *fakeTransport) AuthorizationURL(state string, scopes []string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastScopes = scopes
	return "https://idp.example.com/auth?state=" + state
}

func (f *fakeTransport) ExchangeCode(_ context.Context, code string) (*TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeCalls++
	f.lastCode = code
	if len(f.exchangeErrs) > 0 {
		err := f.exchangeErrs[0]
		f.exchangeErrs = f.exchangeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.exchange, nil
}

func (f *fakeTransport) Refresh(_ context.Context, _ string) (*TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refresh, nil
}

func (f *fakeTransport) UserInfo(_ context.Context, _ string) (Claims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userInfoCalls++
	if f.userInfoErr != nil {
		return Claims{}, f.userInfoErr
	}
	return f.claims, nil
}

func (f *fakeTransport) Introspect(_ context.Context, _ string) (*Introspection, error) {
	if f.introspectErr != nil {
		return nil, f.introspectErr
	}
	return f.introspect, nil
}

func (f *fakeTransport) Revoke(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	return f.revokeOK, f.revokeErr
}

func (f *fakeTransport) LogoutURL(postLogoutRedirectURI string) string {
	return "https://idp.example.com/logout?post_logout_redirect_uri=" + postLogoutRedirectURI
}

type fakeVerifier struct {
	claims Claims
	err    error
}

func (v fakeVerifier) VerifyIDToken(context.Context, string) (Claims, error) {
	return v.claims, v.err
}

type fakeExpiredStore struct {
	cleared int64
	err     error
	before  time.Time
}

func (f *fakeExpiredStore) ClearExpiredTokens(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return f.cleared, f.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var errConnRefused = ssoerr.ConnectionUnreachable(nil)

var (
	_ Store      = (*memStore)(nil)
	_ Transactor = (*memStore)(nil)
	_ Transport  = (*fakeTransport)(nil)
)
