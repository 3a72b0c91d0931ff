// Package strategy defines the pluggable message-kind contract (birthday,
// anniversary, and any future recurring event) and the registry that looks
// strategies up by kind at runtime, grounded on the registry shape in
// jordigilh-kubernaut's pkg/executor/ActionRegistry: register/unregister by
// name, case-insensitive, mutex-guarded, replace semantics on re-register.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tartampluch/greeter-service/internal/apperr"
	"github.com/tartampluch/greeter-service/internal/users"
)

// Schedule declares a strategy's cadence and local send time.
type Schedule struct {
	Cadence      string // "YEARLY" for both built-ins
	TriggerField string // which User field drives this strategy
	SendHour     int
	SendMinute   int
}

// Result is the outcome of a pre-flight Validate call.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Context carries the values ComposeMessage needs beyond the user record.
type Context struct {
	Now            time.Time
	OccurrenceDate time.Time
	Zone           string
}

// Strategy is the contract every message kind implements.
type Strategy interface {
	Kind() string
	ShouldSend(u users.User, nowUTC time.Time) (bool, error)
	CalculateSendTime(u users.User, occurrenceDate time.Time) (time.Time, error)
	ComposeMessage(u users.User, ctx Context) (string, error)
	GetSchedule() Schedule
	Validate(u users.User) Result

	// AnchorDate returns the user's anchor date for this strategy's trigger
	// field (e.g. BirthdayDate, AnniversaryDate) and whether it is set. It
	// lets callers like precalc project an occurrence's calendar year
	// without switching on Kind(), so a strategy registered at runtime
	// behaves identically to a built-in one.
	AnchorDate(u users.User) (time.Time, bool)
}

// Registry looks strategies up by kind, case-insensitively. Registration
// uses replace semantics: registering an already-known kind swaps the
// implementation rather than erroring, since kinds are process-lifetime
// singletons wired once at startup, not a contended resource.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds or replaces the strategy for s.Kind() (upper-cased).
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[strings.ToUpper(s.Kind())] = s
}

// Unregister removes the strategy for kind, if present. Removing an unknown
// kind is a no-op, not an error.
func (r *Registry) Unregister(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.strategies, strings.ToUpper(kind))
}

// Lookup returns the strategy registered for kind, or a NotFound error
// tagged STRATEGY_NOT_REGISTERED.
func (r *Registry) Lookup(kind string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[strings.ToUpper(kind)]
	if !ok {
		known := make([]string, 0, len(r.strategies))
		for k := range r.strategies {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, apperr.New(apperr.TypeNotFound, "STRATEGY_NOT_REGISTERED").
			WithDetails(fmt.Sprintf("no strategy registered for kind %q, known kinds: %v", kind, known))
	}
	return s, nil
}

// All returns every registered strategy, in no particular order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}

// Count returns the number of registered strategies.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}

// IsRegistered reports whether kind has a registered strategy.
func (r *Registry) IsRegistered(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[strings.ToUpper(kind)]
	return ok
}
