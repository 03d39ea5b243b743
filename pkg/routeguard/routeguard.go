// Package routeguard decides whether a protected view may render for the
// current session, and redirects when it may not.
package routeguard

import (
	"slices"
	"sync"

	"github.com/gigmarket/identity/pkg/session"
)

// State is the outcome of evaluating a session against a view's roles.
type State int

const (
	Loading State = iota
	Unauthenticated
	WrongRole
	Authorized
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case WrongRole:
		return "wrong_role"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Evaluate derives the guard state. With no required roles any signed-in
// user is authorized.
func Evaluate(st session.State, required ...string) State {
	switch {
	case !st.Hydrated:
		return Loading
	case !st.IsAuthenticated():
		return Unauthenticated
	case len(required) > 0 && !slices.Contains(required, st.User.Role):
		return WrongRole
	default:
		return Authorized
	}
}

// Navigator performs redirects on behalf of a Guard.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// Paths are the redirect targets.
type Paths struct {
	Login        string
	Unauthorized string
}

var DefaultPaths = Paths{Login: "/login", Unauthorized: "/unauthorized"}

// Guard keeps a view's State in sync with a session.Store. Redirects happen
// in the subscription callback, never inside Render.
type Guard struct {
	store    *session.Store
	nav      Navigator
	paths    Paths
	required []string

	mu     sync.Mutex
	state  State
	cancel func()
}

func New(store *session.Store, nav Navigator, paths Paths, required ...string) *Guard {
	return &Guard{store: store, nav: nav, paths: paths, required: required, state: Loading}
}

// Mount starts following the store and evaluates the current session.
func (g *Guard) Mount() {
	cancel := g.store.Subscribe(g.update)

	g.mu.Lock()
	g.cancel = cancel
	g.state = Loading
	g.mu.Unlock()

	g.update(g.store.State())
}

// Unmount stops following the store.
func (g *Guard) Unmount() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Render runs fn only while Authorized and reports whether it ran.
func (g *Guard) Render(fn func()) bool {
	if g.State() != Authorized {
		return false
	}
	fn()
	return true
}

func (g *Guard) update(st session.State) {
	next := Evaluate(st, g.required...)

	g.mu.Lock()
	prev := g.state
	g.state = next
	g.mu.Unlock()

	if next == prev {
		return
	}
	switch next {
	case Unauthenticated:
		g.nav.Navigate(g.paths.Login)
	case WrongRole:
		g.nav.Navigate(g.paths.Unauthorized)
	}
}
