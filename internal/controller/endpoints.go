package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

var ErrNameInUse = errors.New("controller: endpoint name in use")

type SelectResult int

const (
	SelectNotFound SelectResult = iota
	SelectChanged
	SelectUnchanged
)

type RenameResult int

const (
	RenameSuccess RenameResult = iota
	RenameNotFound
	RenameInUse
	RenameInvalid
)

// EndpointSet owns every Endpoint. Names are unique case-insensitively.
type EndpointSet struct {
	mu         sync.RWMutex
	items      []*Endpoint
	pendingNew []*Endpoint
	onConnect  func(*Endpoint)
}

func NewEndpointSet() *EndpointSet {
	return &EndpointSet{}
}

// OnConnect installs a hook called after each successful Add.
func (s *EndpointSet) OnConnect(fn func(*Endpoint)) {
	s.mu.Lock()
	s.onConnect = fn
	s.mu.Unlock()
}

func (s *EndpointSet) Add(e *Endpoint) error {
	s.mu.Lock()
	if s.findLocked(e.Name()) != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNameInUse, e.Name())
	}
	s.items = append(s.items, e)
	s.pendingNew = append(s.pendingNew, e)
	hook := s.onConnect
	s.mu.Unlock()
	if hook != nil {
		hook(e)
	}
	return nil
}

// Admit registers e under the requested name when possible. A requested
// name held by a dead endpoint is taken over; one held by a live endpoint
// falls back to a random name.
func (s *EndpointSet) Admit(e *Endpoint, requested string) {
	requested = strings.TrimSpace(requested)
	s.mu.Lock()
	if requested != "" {
		existing := s.findLocked(requested)
		switch {
		case existing == nil:
			e.setName(requested)
		case !existing.Alive():
			s.removeLocked(existing)
			existing.Kill()
			e.setName(requested)
		}
	}
	for s.findLocked(e.Name()) != nil {
		e.setName(RandomName())
	}
	s.items = append(s.items, e)
	s.pendingNew = append(s.pendingNew, e)
	hook := s.onConnect
	s.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

// ReplaceDead unregisters a dead endpoint holding name so a reconnecting
// agent can take the name over. Live holders are left alone.
func (s *EndpointSet) ReplaceDead(name string) bool {
	s.mu.Lock()
	e := s.findLocked(name)
	if e == nil || e.Alive() {
		s.mu.Unlock()
		return false
	}
	s.removeLocked(e)
	s.mu.Unlock()
	e.Kill()
	return true
}

func (s *EndpointSet) Lookup(name string) (*Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.findLocked(name)
	return e, e != nil
}

// RemoveByName kills and unregisters the endpoint.
func (s *EndpointSet) RemoveByName(name string) bool {
	s.mu.Lock()
	e := s.findLocked(name)
	if e != nil {
		s.removeLocked(e)
	}
	s.mu.Unlock()
	if e == nil {
		return false
	}
	e.Kill()
	return true
}

// Remove unregisters a specific handle, if still present.
func (s *EndpointSet) Remove(e *Endpoint) {
	s.mu.Lock()
	s.removeLocked(e)
	s.mu.Unlock()
	e.Kill()
}

func (s *EndpointSet) RemoveAll() {
	s.mu.Lock()
	items := s.items
	s.items = nil
	s.pendingNew = nil
	s.mu.Unlock()
	for _, e := range items {
		e.Kill()
	}
}

func (s *EndpointSet) Rename(oldName, newName string) RenameResult {
	newName = strings.TrimSpace(newName)
	if newName == "" || strings.ContainsAny(newName, " \t\r\n") {
		return RenameInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findLocked(oldName)
	if e == nil {
		return RenameNotFound
	}
	if other := s.findLocked(newName); other != nil && other != e {
		return RenameInUse
	}
	e.setName(newName)
	return RenameSuccess
}

func (s *EndpointSet) Select(name string) SelectResult {
	return s.mark(name, true)
}

func (s *EndpointSet) Deselect(name string) SelectResult {
	return s.mark(name, false)
}

func (s *EndpointSet) mark(name string, selected bool) SelectResult {
	e, ok := s.Lookup(name)
	if !ok {
		return SelectNotFound
	}
	if e.selected.Swap(selected) == selected {
		return SelectUnchanged
	}
	return SelectChanged
}

// SelectAll selects every endpoint and returns how many changed.
func (s *EndpointSet) SelectAll() int {
	changed := 0
	for _, e := range s.List() {
		if !e.selected.Swap(true) {
			changed++
		}
	}
	return changed
}

func (s *EndpointSet) Selected() []*Endpoint {
	var out []*Endpoint
	for _, e := range s.List() {
		if e.Selected() {
			out = append(out, e)
		}
	}
	return out
}

// List returns endpoints in connection order.
func (s *EndpointSet) List() []*Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Endpoint(nil), s.items...)
}

func (s *EndpointSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// DrainNew returns endpoints added since the previous call.
func (s *EndpointSet) DrainNew() []*Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingNew
	s.pendingNew = nil
	return out
}

// AliveEndpoints pings every tracked endpoint concurrently.
func (s *EndpointSet) AliveEndpoints(ctx context.Context) []*Endpoint {
	return PingAll(ctx, s.List())
}

// PingAll pings endpoints concurrently and returns those that answered, in
// input order. Dead endpoints are killed.
func PingAll(ctx context.Context, endpoints []*Endpoint) []*Endpoint {
	if len(endpoints) == 0 {
		return nil
	}
	alive := make([]bool, len(endpoints))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(len(endpoints))
	for i, e := range endpoints {
		i, e := i, e
		g.Go(func() error {
			alive[i] = e.Ping(true)
			return nil
		})
	}
	_ = g.Wait()
	var out []*Endpoint
	for i, e := range endpoints {
		if alive[i] {
			out = append(out, e)
		}
	}
	return out
}

func (s *EndpointSet) findLocked(name string) *Endpoint {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	for _, e := range s.items {
		if strings.EqualFold(e.Name(), name) {
			return e
		}
	}
	return nil
}

func (s *EndpointSet) removeLocked(target *Endpoint) {
	s.items = without(s.items, target)
	s.pendingNew = without(s.pendingNew, target)
}

func without(list []*Endpoint, target *Endpoint) []*Endpoint {
	out := list[:0]
	for _, e := range list {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}
