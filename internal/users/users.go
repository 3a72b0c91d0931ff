// Package users defines the read-only contract the core consumes from the
// external user CRUD collaborator (§6), plus a Fake in-memory implementation
// used by tests and local development.
package users

import (
	"context"
	"sync"
	"time"

	"github.com/tartampluch/greeter-service/internal/timezone"
)

// User is the read-only projection of the external user record the core
// needs. Only timezone, birthdayDate, anniversaryDate, and deletedAt drive
// scheduling decisions; the rest is display/routing data passed through to
// message content.
type User struct {
	ID              string
	FirstName       string
	LastName        string
	Email           string
	Timezone        string
	BirthdayDate    *time.Time
	AnniversaryDate *time.Time
	DeletedAt       *time.Time
}

// IsDeleted reports whether the user is soft-deleted. The core treats deleted
// users as absent from scheduling, per §3.
func (u User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Filter narrows a FindAll query. All fields are optional.
type Filter struct {
	Zone               *string
	RequireBirthday    bool
	RequireAnniversary bool
}

// Source is the read interface exposed by the external CRUD collaborator,
// per §6.
type Source interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindAll(ctx context.Context, filter Filter) ([]User, error)
	FindBirthdaysToday(ctx context.Context, zone *string) ([]User, error)
	FindAnniversariesToday(ctx context.Context, zone *string) ([]User, error)
}

// Fake is an in-memory Source used by tests and local development. It
// implements "today" filtering the same way the real collaborator is
// expected to: month/day comparison after projecting now into each user's
// zone, delegating to the same logic the precalculator itself would apply,
// so Fake stays a faithful stand-in rather than a shortcut.
type Fake struct {
	mu    sync.RWMutex
	users map[string]User
	Now   func() time.Time
}

// NewFake constructs an empty Fake backed by time.Now for "today" checks
// unless overridden via Now.
func NewFake() *Fake {
	return &Fake{
		users: make(map[string]User),
		Now:   time.Now,
	}
}

// Put inserts or replaces a user record.
func (f *Fake) Put(u User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *Fake) FindByID(_ context.Context, id string) (*User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[id]
	if !ok || u.IsDeleted() {
		return nil, nil
	}
	return &u, nil
}

func (f *Fake) FindAll(_ context.Context, filter Filter) ([]User, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []User
	for _, u := range f.users {
		if u.IsDeleted() {
			continue
		}
		if filter.Zone != nil && u.Timezone != *filter.Zone {
			continue
		}
		if filter.RequireBirthday && u.BirthdayDate == nil {
			continue
		}
		if filter.RequireAnniversary && u.AnniversaryDate == nil {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *Fake) FindBirthdaysToday(ctx context.Context, zone *string) ([]User, error) {
	return f.findTriggerToday(ctx, zone, func(u User) *time.Time { return u.BirthdayDate })
}

func (f *Fake) FindAnniversariesToday(ctx context.Context, zone *string) ([]User, error) {
	return f.findTriggerToday(ctx, zone, func(u User) *time.Time { return u.AnniversaryDate })
}

func (f *Fake) findTriggerToday(ctx context.Context, zone *string, field func(User) *time.Time) ([]User, error) {
	all, err := f.FindAll(ctx, Filter{Zone: zone})
	if err != nil {
		return nil, err
	}

	now := f.Now()
	var out []User
	for _, u := range all {
		anchor := field(u)
		if anchor == nil {
			continue
		}
		loc, err := timezone.LoadZone(u.Timezone)
		if err != nil {
			continue
		}
		if timezone.OccursOn(*anchor, now, loc) {
			out = append(out, u)
		}
	}
	return out, nil
}
