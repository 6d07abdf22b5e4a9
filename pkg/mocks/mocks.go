// Package mocks provides mock implementations of interfaces for testing.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/forgeloop/forgeloop/pkg/interfaces"
	"github.com/forgeloop/forgeloop/pkg/types"
)

// ModuleScript describes how MockBuildOperations behaves for one module.
// Validate outcomes are consumed in order; once exhausted the last entry
// repeats. A nil script means every operation succeeds immediately.
type ModuleScript struct {
	BuildErr      error
	BuildErrs     []error
	ValidateErr   error
	Outcomes      []types.ValidationOutcome
	FixErr        error
	FixedModule   *types.ModuleDeclaration
	BuildDelay    time.Duration
	ValidateDelay time.Duration
}

// MockBuildOperations is a scriptable implementation of BuildOperations.
// It records every call so tests can assert on call counts and ordering.
type MockBuildOperations struct {
	mu      sync.Mutex
	scripts map[types.ModuleID]*ModuleScript

	buildCalls    map[types.ModuleID]int
	validateCalls map[types.ModuleID]int
	fixCalls      map[types.ModuleID]int
	callOrder     []string
}

// NewMockBuildOperations creates a mock with no scripts; unscripted
// modules pass validation on the first iteration.
func NewMockBuildOperations() *MockBuildOperations {
	return &MockBuildOperations{
		scripts:       make(map[types.ModuleID]*ModuleScript),
		buildCalls:    make(map[types.ModuleID]int),
		validateCalls: make(map[types.ModuleID]int),
		fixCalls:      make(map[types.ModuleID]int),
	}
}

// Script sets the behavior for one module.
func (m *MockBuildOperations) Script(id types.ModuleID, script ModuleScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[id] = &script
}

// Build implements BuildOperations.
func (m *MockBuildOperations) Build(ctx context.Context, module types.ModuleDeclaration) (types.BuildArtifact, error) {
	m.mu.Lock()
	script := m.scripts[module.ID]
	m.buildCalls[module.ID]++
	call := m.buildCalls[module.ID]
	m.callOrder = append(m.callOrder, "build:"+string(module.ID))
	m.mu.Unlock()

	if script != nil && script.BuildDelay > 0 {
		if err := sleep(ctx, script.BuildDelay); err != nil {
			return types.BuildArtifact{}, err
		}
	}
	if script != nil {
		if len(script.BuildErrs) > 0 {
			idx := call - 1
			if idx >= len(script.BuildErrs) {
				idx = len(script.BuildErrs) - 1
			}
			if err := script.BuildErrs[idx]; err != nil {
				return types.BuildArtifact{}, err
			}
		} else if script.BuildErr != nil {
			return types.BuildArtifact{}, script.BuildErr
		}
	}
	return types.BuildArtifact{Module: module.ID}, nil
}

// Validate implements BuildOperations.
func (m *MockBuildOperations) Validate(ctx context.Context, module types.ModuleDeclaration, artifact types.BuildArtifact) (types.ValidationOutcome, error) {
	m.mu.Lock()
	script := m.scripts[module.ID]
	m.validateCalls[module.ID]++
	call := m.validateCalls[module.ID]
	m.callOrder = append(m.callOrder, "validate:"+string(module.ID))
	m.mu.Unlock()

	if script != nil && script.ValidateDelay > 0 {
		if err := sleep(ctx, script.ValidateDelay); err != nil {
			return types.ValidationOutcome{}, err
		}
	}
	if script == nil {
		return types.ValidationOutcome{Passed: true}, nil
	}
	if script.ValidateErr != nil {
		return types.ValidationOutcome{}, script.ValidateErr
	}
	if len(script.Outcomes) == 0 {
		return types.ValidationOutcome{Passed: true}, nil
	}
	idx := call - 1
	if idx >= len(script.Outcomes) {
		idx = len(script.Outcomes) - 1
	}
	return script.Outcomes[idx], nil
}

// Fix implements BuildOperations.
func (m *MockBuildOperations) Fix(ctx context.Context, module types.ModuleDeclaration, outcome types.ValidationOutcome) (types.ModuleDeclaration, error) {
	m.mu.Lock()
	script := m.scripts[module.ID]
	m.fixCalls[module.ID]++
	m.callOrder = append(m.callOrder, "fix:"+string(module.ID))
	m.mu.Unlock()

	if script != nil {
		if script.FixErr != nil {
			return types.ModuleDeclaration{}, script.FixErr
		}
		if script.FixedModule != nil {
			return *script.FixedModule, nil
		}
	}
	return module, nil
}

// BuildCalls returns how many times Build ran for a module.
func (m *MockBuildOperations) BuildCalls(id types.ModuleID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buildCalls[id]
}

// ValidateCalls returns how many times Validate ran for a module.
func (m *MockBuildOperations) ValidateCalls(id types.ModuleID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateCalls[id]
}

// FixCalls returns how many times Fix ran for a module.
func (m *MockBuildOperations) FixCalls(id types.ModuleID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fixCalls[id]
}

// CallOrder returns the recorded operation sequence.
func (m *MockBuildOperations) CallOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	order := make([]string, len(m.callOrder))
	copy(order, m.callOrder)
	return order
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MockNotifier records notifications for assertions.
type MockNotifier struct {
	mu        sync.Mutex
	Started   []string
	Passed    []types.ModuleID
	Escalated []types.ModuleID
	Verdicts  []types.BuildVerdict
}

// NewMockNotifier creates an empty notification recorder.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// NotifyBuildStart implements BuildNotifier.
func (m *MockNotifier) NotifyBuildStart(buildID string, modules int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started = append(m.Started, buildID)
}

// NotifyModulePassed implements BuildNotifier.
func (m *MockNotifier) NotifyModulePassed(module types.ModuleID, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Passed = append(m.Passed, module)
}

// NotifyModuleEscalated implements BuildNotifier.
func (m *MockNotifier) NotifyModuleEscalated(module types.ModuleID, iterations int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Escalated = append(m.Escalated, module)
}

// NotifyVerdict implements BuildNotifier.
func (m *MockNotifier) NotifyVerdict(verdict types.BuildVerdict, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Verdicts = append(m.Verdicts, verdict)
}

// PassedModules returns a copy of the passed module list.
func (m *MockNotifier) PassedModules() []types.ModuleID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ModuleID, len(m.Passed))
	copy(out, m.Passed)
	return out
}

// MockStateStore is an in-memory StateStore for testing.
type MockStateStore struct {
	mu        sync.RWMutex
	snapshots map[types.ModuleID]*interfaces.ModuleStateSnapshot

	initError   error
	updateError error
}

// NewMockStateStore creates an empty in-memory store.
func NewMockStateStore() *MockStateStore {
	return &MockStateStore{
		snapshots: make(map[types.ModuleID]*interfaces.ModuleStateSnapshot),
	}
}

// SetInitError makes InitializeState fail.
func (m *MockStateStore) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// InitializeState implements StateStore.
func (m *MockStateStore) InitializeState(module types.ModuleDeclaration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initError != nil {
		return m.initError
	}
	m.snapshots[module.ID] = &interfaces.ModuleStateSnapshot{
		Module:    module.ID,
		State:     types.ModuleStatePending,
		UpdatedAt: time.Now(),
	}
	return nil
}

// UpdateModuleState implements StateStore.
func (m *MockStateStore) UpdateModuleState(id types.ModuleID, state types.ModuleState, iteration int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateError != nil {
		return m.updateError
	}
	snap, ok := m.snapshots[id]
	if !ok {
		snap = &interfaces.ModuleStateSnapshot{Module: id}
		m.snapshots[id] = snap
	}
	snap.State = state
	snap.Iteration = iteration
	snap.UpdatedAt = time.Now()
	return nil
}

// UpdateModuleError implements StateStore.
func (m *MockStateStore) UpdateModuleError(id types.ModuleID, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap, ok := m.snapshots[id]; ok && err != nil {
		snap.LastError = err.Error()
	}
	return nil
}

// ReadState implements StateStore.
func (m *MockStateStore) ReadState(id types.ModuleID) (*interfaces.ModuleStateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[id]
	if !ok {
		return nil, nil
	}
	copied := *snap
	return &copied, nil
}

// StartHeartbeat implements StateStore.
func (m *MockStateStore) StartHeartbeat(ctx context.Context) {}

// StopHeartbeat implements StateStore.
func (m *MockStateStore) StopHeartbeat() {}

// Cleanup implements StateStore.
func (m *MockStateStore) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = make(map[types.ModuleID]*interfaces.ModuleStateSnapshot)
	return nil
}

// States returns a snapshot of all recorded module states.
func (m *MockStateStore) States() map[types.ModuleID]types.ModuleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[types.ModuleID]types.ModuleState, len(m.snapshots))
	for id, snap := range m.snapshots {
		out[id] = snap.State
	}
	return out
}

// MockConflictDetector returns a canned report.
type MockConflictDetector struct {
	mu     sync.Mutex
	Report types.ConflictReport
	Inputs [][]types.ModuleDeclaration
}

// Detect implements ConflictDetector.
func (m *MockConflictDetector) Detect(modules []types.ModuleDeclaration) types.ConflictReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	input := make([]types.ModuleDeclaration, len(modules))
	copy(input, modules)
	m.Inputs = append(m.Inputs, input)
	return m.Report
}

// DetectCalls returns how many times Detect ran.
func (m *MockConflictDetector) DetectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Inputs)
}
