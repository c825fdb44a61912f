package observability

import (
	"sync"
	"time"
)

type Role string

const (
	RoleIdle       Role = "IDLE"
	RolePlanning   Role = "PLANNING"
	RoleExecuting  Role = "EXECUTING"
	RoleResponding Role = "RESPONDING"
)

// Board tracks the phase of every in-flight turn. Turns run concurrently,
// so there is no single current role; the dashboard shows the most
// recently updated turn plus per-phase counts.
type Board struct {
	mu            sync.RWMutex
	turns         map[string]turnPhase
	latest        string
	lastHeartbeat time.Time
}

type turnPhase struct {
	role  Role
	task  string
	since time.Time
}

// Snapshot is a copy of the board at one instant.
type Snapshot struct {
	Role          Role
	Task          string
	Turns         int
	ByRole        map[Role]int
	LastHeartbeat time.Time
}

func NewBoard() *Board {
	return &Board{turns: make(map[string]turnPhase), lastHeartbeat: time.Now()}
}

// Set moves a turn to role. RoleIdle removes the turn.
func (b *Board) Set(turnID string, role Role, task string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if role == RoleIdle {
		delete(b.turns, turnID)
		if b.latest == turnID {
			b.latest = ""
		}
		return
	}
	b.turns[turnID] = turnPhase{role: role, task: task, since: time.Now()}
	b.latest = turnID
}

func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Snapshot{
		Role:          RoleIdle,
		Turns:         len(b.turns),
		ByRole:        make(map[Role]int, 3),
		LastHeartbeat: b.lastHeartbeat,
	}
	var newest time.Time
	for id, t := range b.turns {
		s.ByRole[t.role]++
		if id == b.latest || (b.latest == "" && t.since.After(newest)) {
			s.Role, s.Task, newest = t.role, t.task, t.since
		}
	}
	return s
}

func (b *Board) Heartbeat() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastHeartbeat = time.Now()
}

// board is the process-wide board the dashboard draws.
var board = NewBoard()

// SetStatus records the phase of a turn on the process-wide board.
func SetStatus(turnID string, role Role, task string) { board.Set(turnID, role, task) }

// GetStatus returns a snapshot of the process-wide board.
func GetStatus() Snapshot { return board.Snapshot() }

// Heartbeat updates the last heartbeat time.
func Heartbeat() { board.Heartbeat() }
