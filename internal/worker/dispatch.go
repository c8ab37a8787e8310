package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/OCAP2/heatmap/internal/dispatcher"
	"github.com/OCAP2/heatmap/internal/parser"
	"github.com/OCAP2/heatmap/internal/persist"
)

// Host commands.
const (
	CmdSessionStart = ":SESSION:START:"
	CmdSessionEnd   = ":SESSION:END:"
	CmdClock        = ":CLOCK:"
	CmdAgentNew     = ":AGENT:NEW:"
	CmdHumanNew     = ":HUMAN:NEW:"
	CmdAgentSelect  = ":AGENT:SELECT:"
	CmdState        = ":STATE:"
	CmdAgentTick    = ":AGENT:TICK:"
	CmdAgentDeath   = ":AGENT:DEATH:"
	CmdHumanDeath   = ":HUMAN:DEATH:"
	CmdHumanKill    = ":HUMAN:KILL:"
	CmdUpdate       = ":UPDATE:"
)

// RegisterHandlers registers all host command handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	m.dispatcher = d

	// Lifecycle - sync
	d.Register(CmdSessionStart, m.handleSessionStart, dispatcher.Logged())
	d.Register(CmdSessionEnd, m.handleSessionEnd, dispatcher.Logged())
	d.Register(CmdClock, m.handleClock)

	// Entity creation - sync (need to exist before states arrive)
	d.Register(CmdAgentNew, m.handleNewAgent, dispatcher.Logged())
	d.Register(CmdHumanNew, m.handleNewHuman, dispatcher.Logged())
	d.Register(CmdAgentSelect, m.handleAgentSelect, dispatcher.Logged())

	// State and ticks - sync, a tick must see the state sent before it
	d.Register(CmdState, m.handleState)
	d.Register(CmdAgentTick, m.handleAgentTick)

	// Capture events - sync, they sample the current state
	d.Register(CmdAgentDeath, m.handleAgentDeath, dispatcher.Logged())
	d.Register(CmdHumanDeath, m.handleHumanDeath, dispatcher.Logged())
	d.Register(CmdHumanKill, m.handleHumanKill, dispatcher.Logged())

	// Autosave cadence - buffered, snapshots must not stall the host loop
	d.Register(CmdUpdate, m.handleUpdate, dispatcher.Buffered(100), dispatcher.Blocking(), dispatcher.Logged())
}

func (m *Manager) active() error {
	if m.ended.Load() {
		return ErrSessionEnded
	}
	return nil
}

func (m *Manager) handleSessionStart(e dispatcher.Event) (any, error) {
	if err := m.active(); err != nil {
		return nil, err
	}

	ms, err := parser.ParseClock(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	path, err := m.deps.Session.Start(ms)
	var derr *persist.DirectoryCreateError
	if errors.As(err, &derr) {
		// recording continues without a session file
		m.deps.Logger.Warn().Err(err).Msg("Session started without persistence")
		if m.deps.OnSessionStart != nil {
			m.deps.OnSessionStart("")
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	if m.deps.OnSessionStart != nil {
		m.deps.OnSessionStart(path)
	}
	return path, nil
}

func (m *Manager) handleSessionEnd(e dispatcher.Event) (any, error) {
	if !m.ending.CompareAndSwap(false, true) {
		return nil, ErrSessionEnded
	}
	defer close(m.done)

	// queued autosave ticks still count toward the session
	if m.dispatcher != nil {
		m.dispatcher.Drain()
	}
	m.ended.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), m.deps.ShutdownTimeout)
	defer cancel()
	if err := m.deps.Session.End(ctx); err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	return "ended", nil
}

func (m *Manager) handleClock(e dispatcher.Event) (any, error) {
	ms, err := parser.ParseClock(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to set clock: %w", err)
	}
	m.deps.Session.SetClock(ms)
	return nil, nil
}

func (m *Manager) handleNewAgent(e dispatcher.Event) (any, error) {
	if err := m.active(); err != nil {
		return nil, err
	}
	id, err := parser.ParseEntityID(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}
	m.deps.Session.AddAgent(id)
	return nil, nil
}

func (m *Manager) handleNewHuman(e dispatcher.Event) (any, error) {
	if err := m.active(); err != nil {
		return nil, err
	}
	id, err := parser.ParseEntityID(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to register human: %w", err)
	}
	m.deps.Session.AddHuman(id)
	return nil, nil
}

func (m *Manager) handleAgentSelect(e dispatcher.Event) (any, error) {
	if err := m.active(); err != nil {
		return nil, err
	}
	id, err := parser.ParseEntityID(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to select agent: %w", err)
	}
	slot, err := m.deps.Session.SelectAgent(id)
	if err != nil {
		return nil, fmt.Errorf("failed to select agent: %w", err)
	}
	return int(slot), nil
}

func (m *Manager) handleState(e dispatcher.Event) (any, error) {
	if err := m.active(); err != nil {
		return nil, err
	}
	u, err := parser.ParseState(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to update state: %w", err)
	}
	if err := m.deps.Session.UpdateState(u); err != nil {
		return nil, fmt.Errorf("failed to update state: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleAgentTick(e dispatcher.Event) (any, error) {
	if err := m.active(); err != nil {
		return nil, err
	}
	tick, err := parser.ParseTick(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to tick agent: %w", err)
	}
	sampled, err := m.deps.Session.TickAgent(tick)
	if err != nil {
		return nil, fmt.Errorf("failed to tick agent: %w", err)
	}
	return sampled, nil
}

func (m *Manager) handleAgentDeath(e dispatcher.Event) (any, error) {
	if err := m.active(); err != nil {
		return nil, err
	}
	id, err := parser.ParseEntityID(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to record agent death: %w", err)
	}
	recorded, err := m.deps.Session.AgentDeath(id)
	if err != nil {
		return nil, fmt.Errorf("failed to record agent death: %w", err)
	}
	return recorded, nil
}

func (m *Manager) handleHumanDeath(e dispatcher.Event) (any, error) {
	if err := m.active(); err != nil {
		return nil, err
	}
	id, err := parser.ParseEntityID(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to record human death: %w", err)
	}
	if err := m.deps.Session.HumanDeath(id); err != nil {
		return nil, fmt.Errorf("failed to record human death: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleHumanKill(e dispatcher.Event) (any, error) {
	if err := m.active(); err != nil {
		return nil, err
	}
	id, err := parser.ParseEntityID(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to record human kill: %w", err)
	}
	if err := m.deps.Session.HumanKill(id); err != nil {
		return nil, fmt.Errorf("failed to record human kill: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleUpdate(e dispatcher.Event) (any, error) {
	if err := m.active(); err != nil {
		return nil, err
	}
	ts, err := parser.ParseTimeslice(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to process update: %w", err)
	}
	m.deps.Session.Update(ts)
	return nil, nil
}
