// Package tracking connects simulated entities to the session aggregate.
//
// The host creates one handle per tracked entity and calls its hooks
// explicitly (OnSelect, OnTick, OnDeath, OnKill). Handles never reference
// each other and only talk to the aggregate through its append operations.
package tracking

import (
	"context"
	"sync"

	"github.com/OCAP2/heatmap/internal/aggregate"
	"github.com/OCAP2/heatmap/internal/clock"
	"github.com/OCAP2/heatmap/internal/otel"
	"github.com/OCAP2/heatmap/internal/sampler"
	"github.com/OCAP2/heatmap/pkg/core"
	"github.com/rs/zerolog"
)

// Entity is the live state the host exposes for a tracked entity.
type Entity interface {
	Position() core.Vec3
	IsAlive() bool
	IsActivelyTracked() bool
	IsInSpecialMobilityState() bool
}

// Dependencies holds everything a handle needs from the session.
type Dependencies struct {
	Aggregate   *aggregate.Aggregate
	Clock       clock.Clock
	Instruments *otel.Instruments
	Logger      zerolog.Logger
}

// ThrottleConfig holds sampling periods in seconds.
type ThrottleConfig struct {
	TickTime         float64
	TickTimeVehicle  float64
	PrimeFirstSample bool
}

func (c ThrottleConfig) newThrottle() *sampler.Throttle {
	var opts []sampler.ThrottleOption
	if c.PrimeFirstSample {
		opts = append(opts, sampler.PrimeFirstSample())
	}
	return sampler.NewThrottle(c.TickTime, c.TickTimeVehicle, opts...)
}

func (d Dependencies) sample(e Entity) core.Waypoint {
	return sampler.Sample(e.Position(), d.Clock.NowMs())
}

// AgentHandle tracks an autonomous agent: a throttled trajectory while it
// is selected and alive, plus a final death waypoint.
type AgentHandle struct {
	mu       sync.Mutex
	deps     Dependencies
	entity   Entity
	throttle *sampler.Throttle

	slot     aggregate.TrajectoryID
	selected bool
	dead     bool
}

// NewAgentHandle creates a handle for an agent. No trajectory exists until
// OnSelect is called.
func NewAgentHandle(deps Dependencies, entity Entity, cfg ThrottleConfig) *AgentHandle {
	return &AgentHandle{
		deps:     deps,
		entity:   entity,
		throttle: cfg.newThrottle(),
		slot:     -1,
	}
}

// OnSelect registers the agent's trajectory slot in the aggregate. Calling
// it again keeps the existing slot.
func (h *AgentHandle) OnSelect() aggregate.TrajectoryID {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.selected {
		h.slot = h.deps.Aggregate.RegisterTrajectory()
		h.selected = true
		h.deps.Logger.Debug().Int("slot", int(h.slot)).Msg("Agent selected for tracking")
	}
	return h.slot
}

// OnTick advances the agent's throttle by delta seconds and appends a
// waypoint when it fires. Returns whether a waypoint was appended.
func (h *AgentHandle) OnTick(delta float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	eligible := h.selected && !h.dead && h.entity.IsActivelyTracked() && h.entity.IsAlive()
	special := eligible && h.entity.IsInSpecialMobilityState()
	if !h.throttle.Tick(delta, eligible, special) {
		return false
	}

	if err := h.deps.Aggregate.AppendTrajectoryPoint(h.slot, h.deps.sample(h.entity)); err != nil {
		h.deps.Logger.Error().Err(err).Int("slot", int(h.slot)).Msg("Failed to append trajectory point")
		return false
	}
	h.deps.Instruments.Sample(context.Background(), special)
	return true
}

// OnDeath captures the death location as the last trajectory waypoint and in
// the agent death log. Agents that were never selected are ignored, as are
// repeated deaths.
func (h *AgentHandle) OnDeath() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.selected || h.dead {
		return false
	}
	h.dead = true

	wp := h.deps.sample(h.entity)
	if err := h.deps.Aggregate.AppendTrajectoryPoint(h.slot, wp); err != nil {
		h.deps.Logger.Error().Err(err).Int("slot", int(h.slot)).Msg("Failed to append death point to trajectory")
	}
	h.deps.Aggregate.AppendAgentDeathPoint(wp)
	h.deps.Instruments.Event(context.Background(), "agentDeath")
	return true
}

// Slot returns the agent's trajectory slot and whether one is registered.
func (h *AgentHandle) Slot() (aggregate.TrajectoryID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slot, h.selected
}

// Elapsed returns the agent's throttle accumulator.
func (h *AgentHandle) Elapsed() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.throttle.Elapsed()
}

// HumanHandle records deaths and kills of a human-controlled avatar.
type HumanHandle struct {
	deps   Dependencies
	entity Entity
}

// NewHumanHandle creates a handle for an avatar.
func NewHumanHandle(deps Dependencies, entity Entity) *HumanHandle {
	return &HumanHandle{deps: deps, entity: entity}
}

// OnDeath appends the avatar's current location.
func (h *HumanHandle) OnDeath() {
	h.deps.Aggregate.AppendHumanoidPoint(h.deps.sample(h.entity))
	h.deps.Instruments.Event(context.Background(), "humanDeath")
}

// OnKill appends the avatar's location at the moment it scored a kill.
func (h *HumanHandle) OnKill() {
	h.deps.Aggregate.AppendHumanoidPoint(h.deps.sample(h.entity))
	h.deps.Instruments.Event(context.Background(), "humanKill")
}
