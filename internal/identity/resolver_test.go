package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeSessions struct {
	issued  int
	signOut []string
	live    map[string]bool
	failAt  int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{live: make(map[string]bool)}
}

func (s *fakeSessions) IssueAnonymous(_ context.Context) (Session, error) {
	s.issued++
	if s.failAt > 0 && s.issued == s.failAt {
		return Session{}, errors.New("auth backend down")
	}
	token := fmt.Sprintf("token-%d", s.issued)
	s.live[token] = true
	return Session{ID: fmt.Sprintf("sess-%d", s.issued), UserID: fmt.Sprintf("user-%d", s.issued), Token: token}, nil
}

func (s *fakeSessions) SignOut(_ context.Context, token string) error {
	s.signOut = append(s.signOut, token)
	delete(s.live, token)
	return nil
}

type fakeCache struct {
	session LocalSession
	puts    int
	clears  int
}

func (c *fakeCache) Get(context.Context) (LocalSession, error) { return c.session, nil }

func (c *fakeCache) Put(_ context.Context, s LocalSession) error {
	c.puts++
	c.session = s
	return nil
}

func (c *fakeCache) Clear(_ context.Context, preserveUsername bool) error {
	c.clears++
	if preserveUsername {
		c.session = LocalSession{Username: c.session.Username}
		return nil
	}
	c.session = LocalSession{}
	return nil
}

// countingRepo records remote calls and lets tests inject failures.
type countingRepo struct {
	ProfileRepository
	calls        int
	createErr    error
	findByIDErr  error
	beforeCreate func()
}

func (r *countingRepo) Create(ctx context.Context, p Profile) error {
	r.calls++
	if r.beforeCreate != nil {
		r.beforeCreate()
	}
	if r.createErr != nil {
		return r.createErr
	}
	return r.ProfileRepository.Create(ctx, p)
}

func (r *countingRepo) FindByUsername(ctx context.Context, username string) (Profile, error) {
	r.calls++
	return r.ProfileRepository.FindByUsername(ctx, username)
}

func (r *countingRepo) FindByID(ctx context.Context, id string) (Profile, error) {
	r.calls++
	if r.findByIDErr != nil {
		return Profile{}, r.findByIDErr
	}
	return r.ProfileRepository.FindByID(ctx, id)
}

func TestResolveNewUser(t *testing.T) {
	repo := &countingRepo{ProfileRepository: NewMemoryRepository()}
	sessions := newFakeSessions()
	cache := &fakeCache{}
	r := NewResolver(repo, sessions, nil)

	res, err := r.Resolve(context.Background(), cache, "  bobby1 ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Created || res.Username != "bobby1" || res.UserID != "user-1" {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	p, err := repo.ProfileRepository.FindByID(context.Background(), res.UserID)
	if err != nil {
		t.Fatalf("expected profile to exist: %v", err)
	}
	if p.PinEnabled || p.HasPin() || p.DisplayName != "bobby1" {
		t.Fatalf("unexpected new profile: %+v", p)
	}
	want := LocalSession{Username: "bobby1", UserID: "user-1", SessionToken: "token-1"}
	if cache.session != want {
		t.Fatalf("expected cache %+v, got %+v", want, cache.session)
	}
}

func TestResolveExistingUserReusesUserID(t *testing.T) {
	mem := NewMemoryRepository()
	ctx := context.Background()
	if err := mem.Create(ctx, Profile{UserID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	repo := &countingRepo{ProfileRepository: mem}
	sessions := newFakeSessions()
	cache := &fakeCache{}
	r := NewResolver(repo, sessions, nil)

	res, err := r.Resolve(ctx, cache, "alice")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.UserID != "u1" || res.Created {
		t.Fatalf("expected existing u1, got %+v", res)
	}
	if cache.session.Username != "alice" || cache.session.UserID != "u1" {
		t.Fatalf("unexpected cache: %+v", cache.session)
	}
	if sessions.issued != 2 {
		t.Fatalf("expected provisional + bound sessions, got %d", sessions.issued)
	}
	if len(sessions.signOut) != 1 || sessions.signOut[0] != "token-1" {
		t.Fatalf("expected provisional session to be discarded, got %v", sessions.signOut)
	}
	if cache.session.SessionToken != "token-2" {
		t.Fatalf("expected bound session token, got %q", cache.session.SessionToken)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	sessions := newFakeSessions()
	r := NewResolver(repo, sessions, nil)
	ctx := context.Background()

	for _, name := range []string{"carol", "dave_2", "EVE"} {
		first, err := r.Resolve(ctx, &fakeCache{}, name)
		if err != nil {
			t.Fatalf("first resolve %s: %v", name, err)
		}
		cache := &fakeCache{session: LocalSession{Username: name, UserID: first.UserID, SessionToken: first.Session.Token}}
		second, err := r.Resolve(ctx, cache, name)
		if err != nil {
			t.Fatalf("second resolve %s: %v", name, err)
		}
		if first.UserID != second.UserID {
			t.Fatalf("expected same user id for %s, got %s and %s", name, first.UserID, second.UserID)
		}
		if second.Created {
			t.Fatalf("second resolution of %s must not create a profile", name)
		}
		if sessions.live[first.Session.Token] {
			t.Fatalf("expected previous session of %s to be signed out", name)
		}
	}
}

func TestResolveRejectsInvalidBeforeRemoteCalls(t *testing.T) {
	repo := &countingRepo{ProfileRepository: NewMemoryRepository()}
	sessions := newFakeSessions()
	cache := &fakeCache{session: LocalSession{Username: "kept"}}
	r := NewResolver(repo, sessions, nil)

	for _, name := range []string{"", "ab", "has space", "bad!", "ünï"} {
		_, err := r.Resolve(context.Background(), cache, name)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("Resolve(%q): expected ErrValidation, got %v", name, err)
		}
	}
	if repo.calls != 0 || sessions.issued != 0 || len(sessions.signOut) != 0 {
		t.Fatalf("expected no remote calls, got repo=%d issued=%d signout=%d", repo.calls, sessions.issued, len(sessions.signOut))
	}
	if cache.puts != 0 || cache.clears != 0 {
		t.Fatalf("expected cache untouched")
	}
}

func TestResolveVerificationFailureRollsBack(t *testing.T) {
	repo := &countingRepo{ProfileRepository: NewMemoryRepository(), findByIDErr: ErrProfileNotFound}
	sessions := newFakeSessions()
	cache := &fakeCache{session: LocalSession{Username: "frank"}}
	r := NewResolver(repo, sessions, nil)

	_, err := r.Resolve(context.Background(), cache, "frank")
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("expected ErrVerification, got %v", err)
	}
	if len(sessions.live) != 0 {
		t.Fatalf("expected provisional session torn down, live=%v", sessions.live)
	}
	if cache.session.Complete() || cache.session.SessionToken != "" {
		t.Fatalf("expected no identity left in cache, got %+v", cache.session)
	}
	if cache.clears != 1 {
		t.Fatalf("expected cache cleared once, got %d", cache.clears)
	}
}

func TestResolveCreateFailureIsRemote(t *testing.T) {
	repo := &countingRepo{ProfileRepository: NewMemoryRepository(), createErr: errors.New("insert rejected")}
	sessions := newFakeSessions()
	cache := &fakeCache{}
	r := NewResolver(repo, sessions, nil)

	_, err := r.Resolve(context.Background(), cache, "grace")
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if len(sessions.live) != 0 {
		t.Fatalf("expected provisional session torn down")
	}
	if cache.session.Complete() {
		t.Fatalf("expected no identity in cache")
	}
}

func TestResolveSessionFailureLeavesCacheUntouched(t *testing.T) {
	repo := &countingRepo{ProfileRepository: NewMemoryRepository()}
	sessions := newFakeSessions()
	sessions.failAt = 1
	cache := &fakeCache{session: LocalSession{Username: "henry"}}
	r := NewResolver(repo, sessions, nil)

	_, err := r.Resolve(context.Background(), cache, "henry")
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if cache.puts != 0 || cache.clears != 0 || cache.session.Username != "henry" {
		t.Fatalf("expected cache untouched, got %+v", cache)
	}
	if repo.calls != 0 {
		t.Fatalf("expected no profile calls after session failure")
	}
}

func TestResolveAdoptsConcurrentWinner(t *testing.T) {
	mem := NewMemoryRepository()
	repo := &countingRepo{ProfileRepository: mem}
	repo.beforeCreate = func() {
		// Another device claims the name between lookup and create.
		_ = mem.Create(context.Background(), Profile{UserID: "winner", Username: "ivy"})
	}
	sessions := newFakeSessions()
	cache := &fakeCache{}
	r := NewResolver(repo, sessions, nil)

	res, err := r.Resolve(context.Background(), cache, "ivy")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.UserID != "winner" || !res.Adopted || res.Created {
		t.Fatalf("expected adoption of winner, got %+v", res)
	}
	if cache.session.UserID != "winner" {
		t.Fatalf("expected cache to hold winner id, got %+v", cache.session)
	}
	if sessions.live["token-1"] {
		t.Fatalf("expected provisional session discarded")
	}
}
