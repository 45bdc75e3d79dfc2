package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/janua-io/janua/domain"
	janerr "github.com/janua-io/janua/errors"
)

// In-memory fakes for the repository interfaces. They are deliberately
// simple: maps guarded by a mutex, with an optional forced error per repo.

type fakeUserRepo struct {
	mu          sync.Mutex
	users       map[string]*domain.User
	byEmail     map[string]string
	memberships map[string]*domain.OrgMembership
	forcedErr   error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:       make(map[string]*domain.User),
		byEmail:     make(map[string]string),
		memberships: make(map[string]*domain.OrgMembership),
	}
}

func (r *fakeUserRepo) add(u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	r.byEmail[u.Email] = u.ID
}

func (r *fakeUserRepo) Create(_ context.Context, u *domain.User) error {
	if r.forcedErr != nil {
		return r.forcedErr
	}
	r.add(u)
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	if r.forcedErr != nil {
		return nil, r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, janerr.ErrUserNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	if r.forcedErr != nil {
		return nil, r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, janerr.ErrUserNotFound
	}
	return r.users[id], nil
}

func (r *fakeUserRepo) Update(_ context.Context, u *domain.User) error {
	if r.forcedErr != nil {
		return r.forcedErr
	}
	r.add(u)
	return nil
}

func (r *fakeUserRepo) GetMembership(_ context.Context, userID, orgID string) (*domain.OrgMembership, error) {
	if r.forcedErr != nil {
		return nil, r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.memberships[userID+"/"+orgID]
	if !ok {
		return nil, janerr.ErrNoMembership
	}
	return m, nil
}

func (r *fakeUserRepo) SetMembership(_ context.Context, m *domain.OrgMembership) error {
	if r.forcedErr != nil {
		return r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memberships[m.UserID+"/"+m.OrgID] = m
	return nil
}

type fakeClientRepo struct {
	mu      sync.Mutex
	clients map[string]*domain.Client
}

func newFakeClientRepo(clients ...*domain.Client) *fakeClientRepo {
	r := &fakeClientRepo{clients: make(map[string]*domain.Client)}
	for _, c := range clients {
		r.clients[c.ClientID] = c
	}
	return r
}

func (r *fakeClientRepo) Create(_ context.Context, c *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ClientID] = c
	return nil
}

func (r *fakeClientRepo) GetByClientID(_ context.Context, clientID string) (*domain.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, janerr.ErrClientNotFound
	}
	return c, nil
}

func (r *fakeClientRepo) Update(_ context.Context, c *domain.Client) error {
	return r.Create(context.Background(), c)
}

func (r *fakeClientRepo) Delete(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
	return nil
}

type fakePolicyRepo struct {
	mu        sync.Mutex
	policies  []*domain.Policy
	forcedErr error
}

func (r *fakePolicyRepo) Create(_ context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies = append(r.policies, p)
	return nil
}

func (r *fakePolicyRepo) GetByID(_ context.Context, id string) (*domain.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.policies {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, errors.New("policy not found")
}

func (r *fakePolicyRepo) ListByTenant(_ context.Context, tenantID string) ([]*domain.Policy, error) {
	if r.forcedErr != nil {
		return nil, r.forcedErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Policy
	for _, p := range r.policies {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePolicyRepo) Update(_ context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.policies {
		if r.policies[i].ID == p.ID {
			r.policies[i] = p
			return nil
		}
	}
	return errors.New("policy not found")
}

func (r *fakePolicyRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.policies {
		if r.policies[i].ID == id {
			r.policies = append(r.policies[:i], r.policies[i+1:]...)
			return nil
		}
	}
	return errors.New("policy not found")
}

type fakeRBACPolicyRepo struct {
	policies  []*domain.RBACPolicy
	forcedErr error
}

func (r *fakeRBACPolicyRepo) Create(_ context.Context, p *domain.RBACPolicy) error {
	r.policies = append(r.policies, p)
	return nil
}

func (r *fakeRBACPolicyRepo) ListByOrgRole(_ context.Context, orgID, role string) ([]*domain.RBACPolicy, error) {
	if r.forcedErr != nil {
		return nil, r.forcedErr
	}
	var out []*domain.RBACPolicy
	for _, p := range r.policies {
		if p.OrgID == orgID && p.Role == role {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRBACPolicyRepo) Update(_ context.Context, _ *domain.RBACPolicy) error { return nil }
func (r *fakeRBACPolicyRepo) Delete(_ context.Context, _ string) error             { return nil }

type fakeDeviceRepo struct {
	mu       sync.Mutex
	profiles map[string]*domain.DeviceProfile
	intel    map[string]*domain.IPIntel
	last     map[string]*domain.LoginRecord
	logins   []*domain.LoginRecord
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{
		profiles: make(map[string]*domain.DeviceProfile),
		intel:    make(map[string]*domain.IPIntel),
		last:     make(map[string]*domain.LoginRecord),
	}
}

func (r *fakeDeviceRepo) GetProfile(_ context.Context, userID, deviceID string) (*domain.DeviceProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profiles[userID+"/"+deviceID], nil
}

func (r *fakeDeviceRepo) SaveProfile(_ context.Context, p *domain.DeviceProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.UserID+"/"+p.DeviceID] = p
	return nil
}

func (r *fakeDeviceRepo) GetIPIntel(_ context.Context, ip string) (*domain.IPIntel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.intel[ip], nil
}

func (r *fakeDeviceRepo) LastLogin(_ context.Context, userID string) (*domain.LoginRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[userID], nil
}

func (r *fakeDeviceRepo) RecordLogin(_ context.Context, rec *domain.LoginRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, rec)
	return nil
}

type fakeAdaptivePolicyRepo struct {
	policies []*domain.AdaptivePolicy
}

func (r *fakeAdaptivePolicyRepo) ListByOrg(_ context.Context, orgID string) ([]*domain.AdaptivePolicy, error) {
	var out []*domain.AdaptivePolicy
	for _, p := range r.policies {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.SSOSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*domain.SSOSession)}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *domain.SSOSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id string) (*domain.SSOSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, janerr.ErrSessionNotFound
	}
	return s, nil
}

func (r *fakeSessionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *fakeSessionRepo) DeleteByUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

type fakeIdPRepo struct {
	mu   sync.Mutex
	idps map[string]*domain.IdentityProvider
}

func newFakeIdPRepo() *fakeIdPRepo {
	return &fakeIdPRepo{idps: make(map[string]*domain.IdentityProvider)}
}

func (r *fakeIdPRepo) Create(_ context.Context, idp *domain.IdentityProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idps[idp.ID] = idp
	return nil
}

func (r *fakeIdPRepo) GetByID(_ context.Context, id string) (*domain.IdentityProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idp, ok := r.idps[id]
	if !ok {
		return nil, janerr.ErrProviderNotFound
	}
	return idp, nil
}

func (r *fakeIdPRepo) ListByOrg(_ context.Context, orgID string) ([]*domain.IdentityProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.IdentityProvider
	for _, idp := range r.idps {
		if idp.OrgID == orgID {
			out = append(out, idp)
		}
	}
	return out, nil
}

func (r *fakeIdPRepo) Update(_ context.Context, idp *domain.IdentityProvider) error {
	return r.Create(context.Background(), idp)
}

func (r *fakeIdPRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.idps, id)
	return nil
}

// failingStore errors on every operation; it stands in for an unreachable
// cache backend in fail-closed tests.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (string, error)           { return "", errStoreDown }
func (failingStore) Set(context.Context, string, string, time.Duration) error { return errStoreDown }
func (failingStore) Delete(context.Context, string) error                  { return errStoreDown }
func (failingStore) GetDel(context.Context, string) (string, error)        { return "", errStoreDown }
func (failingStore) DeletePrefix(context.Context, string) error            { return errStoreDown }

// plainHasher avoids bcrypt cost in tests that do not exercise hashing.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (plainHasher) Verify(hash, password string) error {
	if hash != "plain:"+password {
		return errors.New("hash mismatch")
	}
	return nil
}
