// Package state persists live per-module build state for external observers
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/forgeloop/forgeloop/pkg/interfaces"
	"github.com/forgeloop/forgeloop/pkg/logger"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// Store writes one JSON file per module under <root>/.forgeloop/state so
// external tooling can observe an in-flight build without talking to the
// engine. The engine is the only writer.
type Store struct {
	stateDir       string
	logger         logger.Logger
	mu             sync.RWMutex
	snapshots      map[types.ModuleID]*interfaces.ModuleStateSnapshot
	heartbeatStop  chan struct{}
	heartbeatTimer *time.Ticker
}

// NewStore creates a store rooted at the given project directory.
func NewStore(projectRoot string, log logger.Logger) *Store {
	stateDir := filepath.Join(projectRoot, ".forgeloop", "state")

	if err := os.MkdirAll(stateDir, 0755); err != nil && log != nil {
		log.Error("Failed to create state directory", logger.WithField("error", err))
	}

	return &Store{
		stateDir:  stateDir,
		logger:    log,
		snapshots: make(map[types.ModuleID]*interfaces.ModuleStateSnapshot),
	}
}

// InitializeState creates or resets state for a module.
func (s *Store) InitializeState(module types.ModuleDeclaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &interfaces.ModuleStateSnapshot{
		Module:    module.ID,
		State:     types.ModuleStatePending,
		ProcessID: os.Getpid(),
		Heartbeat: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.snapshots[module.ID] = snap
	return s.writeLocked(snap)
}

// UpdateModuleState records a state transition.
func (s *Store) UpdateModuleState(id types.ModuleID, state types.ModuleState, iteration int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return fmt.Errorf("no state initialized for module %s", id)
	}
	snap.State = state
	snap.Iteration = iteration
	snap.UpdatedAt = time.Now()
	return s.writeLocked(snap)
}

// UpdateModuleError records the last error of a module.
func (s *Store) UpdateModuleError(id types.ModuleID, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return fmt.Errorf("no state initialized for module %s", id)
	}
	if err != nil {
		snap.LastError = err.Error()
	} else {
		snap.LastError = ""
	}
	snap.UpdatedAt = time.Now()
	return s.writeLocked(snap)
}

// ReadState loads a module's snapshot, preferring the in-memory view and
// falling back to the state file.
func (s *Store) ReadState(id types.ModuleID) (*interfaces.ModuleStateSnapshot, error) {
	s.mu.RLock()
	if snap, ok := s.snapshots[id]; ok {
		out := *snap
		s.mu.RUnlock()
		return &out, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.stateFile(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read state for module %s: %w", id, err)
	}
	var snap interfaces.ModuleStateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse state for module %s: %w", id, err)
	}
	return &snap, nil
}

// DiscoverStates loads all persisted module snapshots from disk.
func (s *Store) DiscoverStates() (map[types.ModuleID]*interfaces.ModuleStateSnapshot, error) {
	entries, err := os.ReadDir(s.stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	out := make(map[types.ModuleID]*interfaces.ModuleStateSnapshot)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.stateDir, entry.Name()))
		if err != nil {
			continue
		}
		var snap interfaces.ModuleStateSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		out[snap.Module] = &snap
	}
	return out, nil
}

// StartHeartbeat refreshes every snapshot's heartbeat until the context is
// done or StopHeartbeat is called.
func (s *Store) StartHeartbeat(ctx context.Context) {
	s.mu.Lock()
	if s.heartbeatStop != nil {
		s.mu.Unlock()
		return
	}
	s.heartbeatStop = make(chan struct{})
	s.heartbeatTimer = time.NewTicker(10 * time.Second)
	stop := s.heartbeatStop
	ticker := s.heartbeatTimer
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.beat()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat loop.
func (s *Store) StopHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeatStop == nil {
		return
	}
	close(s.heartbeatStop)
	s.heartbeatTimer.Stop()
	s.heartbeatStop = nil
	s.heartbeatTimer = nil
}

// Cleanup removes all state files.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = make(map[types.ModuleID]*interfaces.ModuleStateSnapshot)
	return os.RemoveAll(s.stateDir)
}

func (s *Store) beat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, snap := range s.snapshots {
		snap.Heartbeat = now
		if err := s.writeLocked(snap); err != nil && s.logger != nil {
			s.logger.Warn("Failed to persist heartbeat", logger.WithField("error", err))
		}
	}
}

func (s *Store) stateFile(id types.ModuleID) string {
	return filepath.Join(s.stateDir, string(id)+".json")
}

func (s *Store) writeLocked(snap *interfaces.ModuleStateSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state for module %s: %w", snap.Module, err)
	}
	if err := os.WriteFile(s.stateFile(snap.Module), data, 0644); err != nil {
		return fmt.Errorf("failed to write state for module %s: %w", snap.Module, err)
	}
	return nil
}
