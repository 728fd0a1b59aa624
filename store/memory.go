// Package store persists forge state: admins, templates and generation
// events. MemoryStore keeps everything in process; SQLStore writes through
// database/sql to SQLite or PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ruteri/safe-forge/interfaces"
)

var (
	// ErrConflict is returned when a write would overwrite an existing record.
	ErrConflict = errors.New("record already exists")
	// ErrNotFound is returned when a write targets a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrClosed is returned by any call after Close.
	ErrClosed = errors.New("store closed")
)

// MemoryStore is an in-process StateStore.
type MemoryStore struct {
	mu        sync.Mutex
	closed    bool
	admins    map[interfaces.Principal]interfaces.Admin
	templates map[interfaces.TemplateName]interfaces.Template
	events    map[uint64]interfaces.GenerationEvent
}

var _ interfaces.StateStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		admins:    make(map[interfaces.Principal]interfaces.Admin),
		templates: make(map[interfaces.TemplateName]interfaces.Template),
		events:    make(map[uint64]interfaces.GenerationEvent),
	}
}

func (s *MemoryStore) Load(ctx context.Context) (*interfaces.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	snapshot := &interfaces.Snapshot{}
	for _, a := range s.admins {
		snapshot.Admins = append(snapshot.Admins, a)
	}
	for _, t := range s.templates {
		snapshot.Templates = append(snapshot.Templates, t.Clone())
	}
	for _, e := range s.events {
		snapshot.Events = append(snapshot.Events, e.Clone())
	}

	sort.Slice(snapshot.Admins, func(i, j int) bool { return snapshot.Admins[i].Seq < snapshot.Admins[j].Seq })
	sort.Slice(snapshot.Templates, func(i, j int) bool { return snapshot.Templates[i].Seq < snapshot.Templates[j].Seq })
	sort.Slice(snapshot.Events, func(i, j int) bool { return snapshot.Events[i].EventID < snapshot.Events[j].EventID })
	return snapshot, nil
}

func (s *MemoryStore) InsertAdmin(ctx context.Context, admin interfaces.Admin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.admins[admin.Principal]; ok {
		return fmt.Errorf("%w: admin %s", ErrConflict, admin.Principal)
	}
	s.admins[admin.Principal] = admin
	return nil
}

func (s *MemoryStore) InsertTemplate(ctx context.Context, template interfaces.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.templates[template.Name]; ok {
		return fmt.Errorf("%w: template %q", ErrConflict, template.Name)
	}
	s.templates[template.Name] = template.Clone()
	return nil
}

func (s *MemoryStore) ApproveTemplate(ctx context.Context, name interfaces.TemplateName, approver interfaces.Principal, seq uint64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	t, ok := s.templates[name]
	if !ok {
		return fmt.Errorf("%w: template %q", ErrNotFound, name)
	}
	if t.Approved() {
		return fmt.Errorf("%w: template %q already approved", ErrConflict, name)
	}
	t.Status = interfaces.StatusApproved
	t.Approver = approver
	t.ApprovedAt = at
	t.ApprovedSeq = seq
	s.templates[name] = t
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event interfaces.GenerationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.events[event.EventID]; ok {
		return fmt.Errorf("%w: event %d", ErrConflict, event.EventID)
	}
	if _, ok := s.templates[event.TemplateName]; !ok {
		return fmt.Errorf("%w: template %q", ErrNotFound, event.TemplateName)
	}
	s.events[event.EventID] = event.Clone()
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
