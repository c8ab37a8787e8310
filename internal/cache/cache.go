// Package cache keeps the host-reported state of every known entity and the
// tracking handle attached to it. Latency in these lookups is critical since
// every state update and tick goes through them.
package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/OCAP2/heatmap/internal/parser"
	"github.com/OCAP2/heatmap/internal/tracking"
	"github.com/OCAP2/heatmap/pkg/core"
)

// ErrUnknownEntity is returned for ids the host never registered.
var ErrUnknownEntity = errors.New("unknown entity")

// ErrWrongKind is returned when an agent operation targets an avatar or
// the other way round.
var ErrWrongKind = errors.New("entity has a different kind")

// Kind tells agents and human avatars apart.
type Kind int

const (
	KindAgent Kind = iota
	KindHuman
)

func (k Kind) String() string {
	if k == KindHuman {
		return "human"
	}
	return "agent"
}

// EntityState is the last state reported by the host. It implements
// tracking.Entity. New entities are alive and tracked at the origin until
// their first state update.
type EntityState struct {
	mu        sync.RWMutex
	position  core.Vec3
	alive     bool
	tracked   bool
	inVehicle bool
}

func newEntityState() *EntityState {
	return &EntityState{alive: true, tracked: true}
}

// Apply copies a state update into the entity.
func (s *EntityState) Apply(u parser.StateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = u.Position
	s.alive = u.Alive
	s.tracked = u.Tracked
	s.inVehicle = u.InVehicle
}

func (s *EntityState) Position() core.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

func (s *EntityState) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

func (s *EntityState) IsActivelyTracked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracked
}

func (s *EntityState) IsInSpecialMobilityState() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inVehicle
}

// Entry is one registered entity. Exactly one of Agent and Human is set.
type Entry struct {
	ID    parser.EntityID
	Kind  Kind
	State *EntityState
	Agent *tracking.AgentHandle
	Human *tracking.HumanHandle
}

// EntityCache maps host ids to entries.
type EntityCache struct {
	mu       sync.RWMutex
	entities map[parser.EntityID]*Entry
	agents   int
	humans   int
}

// NewEntityCache creates an empty cache.
func NewEntityCache() *EntityCache {
	return &EntityCache{entities: make(map[parser.EntityID]*Entry)}
}

// AddAgent registers an agent, building its handle with newHandle. An id
// that is already registered keeps its existing entry.
func (c *EntityCache) AddAgent(id parser.EntityID, newHandle func(tracking.Entity) *tracking.AgentHandle) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entities[id]; ok {
		return e
	}
	state := newEntityState()
	e := &Entry{ID: id, Kind: KindAgent, State: state, Agent: newHandle(state)}
	c.entities[id] = e
	c.agents++
	return e
}

// AddHuman registers a human avatar. An id that is already registered keeps
// its existing entry.
func (c *EntityCache) AddHuman(id parser.EntityID, newHandle func(tracking.Entity) *tracking.HumanHandle) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entities[id]; ok {
		return e
	}
	state := newEntityState()
	e := &Entry{ID: id, Kind: KindHuman, State: state, Human: newHandle(state)}
	c.entities[id] = e
	c.humans++
	return e
}

// Get looks up an entry.
func (c *EntityCache) Get(id parser.EntityID) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	return e, nil
}

// Agent looks up the handle of an agent.
func (c *EntityCache) Agent(id parser.EntityID) (*tracking.AgentHandle, error) {
	e, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if e.Kind != KindAgent {
		return nil, fmt.Errorf("%w: %d is a %s", ErrWrongKind, id, e.Kind)
	}
	return e.Agent, nil
}

// Human looks up the handle of a human avatar.
func (c *EntityCache) Human(id parser.EntityID) (*tracking.HumanHandle, error) {
	e, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if e.Kind != KindHuman {
		return nil, fmt.Errorf("%w: %d is a %s", ErrWrongKind, id, e.Kind)
	}
	return e.Human, nil
}

// Counts returns the number of registered agents and humans.
func (c *EntityCache) Counts() (agents, humans int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agents, c.humans
}
