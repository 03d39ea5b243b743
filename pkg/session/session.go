// Package session holds the client-side login state: the bearer token and
// the profile it was issued for, persisted so it survives restarts.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Storage keys.
const (
	KeyToken      = "auth.token"
	KeyUser       = "auth.user"
	KeyResetEmail = "auth.reset_email"
)

var ErrInvalidSession = errors.New("session: token and user are both required")

// User is the profile snapshot stored next to the token.
type User struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// State is an immutable snapshot of the session.
type State struct {
	Hydrated bool
	Token    string
	User     *User
}

// IsAuthenticated reports whether both token and user are present.
func (s State) IsAuthenticated() bool {
	return s.Token != "" && s.User != nil
}

// Store is the only writer of session state. Hydrate, Login and Logout are
// its mutators; every change is pushed to subscribers in the order the
// changes were made.
type Store struct {
	storage Storage

	mu    sync.Mutex
	state State
	subs  map[int]func(State)
	next  int

	// pending holds snapshots not yet delivered, in mutation order. Only the
	// goroutine that set delivering drains it.
	pending    []delivery
	delivering bool
}

type delivery struct {
	state State
	subs  []func(State)
}

func NewStore(storage Storage) *Store {
	return &Store{storage: storage, subs: make(map[int]func(State))}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Token returns the current bearer token, or "".
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

func (s *Store) IsAuthenticated() bool {
	return s.State().IsAuthenticated()
}

// Hydrate loads the persisted session. Only the first call does anything.
// Partial or unparsable data is removed and the session starts logged out;
// only storage failures are returned.
func (s *Store) Hydrate() error {
	s.mu.Lock()
	if s.state.Hydrated {
		s.mu.Unlock()
		return nil
	}

	next := State{Hydrated: true}
	token, user, valid, err := s.load()
	switch {
	case err != nil:
		err = errors.Join(err, s.clear())
	case !valid:
		err = s.clear()
	case token != "" && user != nil:
		next.Token, next.User = token, user
	}
	s.state = next
	s.publishLocked()
	return err
}

// load reads both keys. valid is false when the pair is partial or the user
// record cannot be decoded.
func (s *Store) load() (token string, user *User, valid bool, err error) {
	rawToken, hasToken, err := s.storage.Get(KeyToken)
	if err != nil {
		return "", nil, false, err
	}
	rawUser, hasUser, err := s.storage.Get(KeyUser)
	if err != nil {
		return "", nil, false, err
	}
	if !hasToken && !hasUser {
		return "", nil, true, nil
	}
	if !hasToken || !hasUser {
		return "", nil, false, nil
	}

	token = strings.TrimSpace(string(rawToken))
	var u User
	if json.Unmarshal(rawUser, &u) != nil || token == "" || u.ID <= 0 || u.Email == "" {
		return "", nil, false, nil
	}
	return token, &u, true, nil
}

// Login persists token and user together. If the second write fails the
// first is rolled back and the session is unchanged.
func (s *Store) Login(token string, user User) error {
	if token == "" || user.ID <= 0 {
		return ErrInvalidSession
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("session: encode user: %w", err)
	}

	s.mu.Lock()
	if err := s.storage.Set(KeyUser, raw); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.storage.Set(KeyToken, []byte(token)); err != nil {
		err = errors.Join(err, s.restoreUserLocked())
		s.mu.Unlock()
		return err
	}
	s.state = State{Hydrated: true, Token: token, User: &user}
	s.publishLocked()
	return nil
}

// restoreUserLocked puts the previous user back after a failed Login.
func (s *Store) restoreUserLocked() error {
	if s.state.User == nil {
		return s.storage.Delete(KeyUser)
	}
	raw, err := json.Marshal(s.state.User)
	if err != nil {
		return err
	}
	return s.storage.Set(KeyUser, raw)
}

// Logout clears the session. Calling it again leaves the same cleared
// state and does not notify subscribers a second time.
func (s *Store) Logout() error {
	s.mu.Lock()
	changed, err := s.logoutLocked()
	if changed {
		s.publishLocked()
	} else {
		s.mu.Unlock()
	}
	return err
}

// Revoke logs out only if token is still the active one, so a rejection
// of an old token cannot end a newer session.
func (s *Store) Revoke(token string) (bool, error) {
	s.mu.Lock()
	if token == "" || s.state.Token != token {
		s.mu.Unlock()
		return false, nil
	}
	changed, err := s.logoutLocked()
	if changed {
		s.publishLocked()
	} else {
		s.mu.Unlock()
	}
	return true, err
}

func (s *Store) logoutLocked() (bool, error) {
	err := s.clear()
	changed := s.state.IsAuthenticated() || !s.state.Hydrated
	s.state = State{Hydrated: true}
	return changed, err
}

func (s *Store) clear() error {
	return errors.Join(s.storage.Delete(KeyToken), s.storage.Delete(KeyUser))
}

// Subscribe registers fn for every state change and returns its cancel func.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// publishLocked queues the current state for subscribers and, unless another
// goroutine is already delivering, drains the queue in order. It must be
// called with mu held and returns with mu released. A subscriber that mutates
// the store from its callback sees that change delivered after the current one.
func (s *Store) publishLocked() {
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.pending = append(s.pending, delivery{state: s.state.clone(), subs: subs})
	if s.delivering {
		s.mu.Unlock()
		return
	}

	s.delivering = true
	for len(s.pending) > 0 {
		d := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		for _, fn := range d.subs {
			fn(d.state)
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

func (st State) clone() State {
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

// SetResetEmail remembers the address a reset cycle was started for.
func (s *Store) SetResetEmail(email string) error {
	return s.storage.Set(KeyResetEmail, []byte(strings.TrimSpace(email)))
}

// ResetEmail returns the remembered reset address, or "".
func (s *Store) ResetEmail() string {
	b, ok, err := s.storage.Get(KeyResetEmail)
	if err != nil || !ok {
		return ""
	}
	return string(b)
}

func (s *Store) ClearResetEmail() error {
	return s.storage.Delete(KeyResetEmail)
}
