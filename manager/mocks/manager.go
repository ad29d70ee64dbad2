package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/peakml/gradient/experiment"
	"github.com/peakml/gradient/runner"
)

// MockService is a mock implementation of the manager.Service interface
type MockService struct {
	mock.Mock
}

// GetRunner retrieves a runner by ID
func (m *MockService) GetRunner(ctx context.Context, runnerID string) (runner.Runner, error) {
	args := m.Called(ctx, runnerID)

	return args.Get(0).(runner.Runner), args.Error(1)
}

// ListRunners lists runners with pagination
func (m *MockService) ListRunners(ctx context.Context, offset, limit uint64) (runner.Page, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(runner.Page), args.Error(1)
}

// DeleteRunner removes a runner from the registry
func (m *MockService) DeleteRunner(ctx context.Context, runnerID string) error {
	args := m.Called(ctx, runnerID)

	return args.Error(0)
}

// CreateExperiment creates a new experiment
func (m *MockService) CreateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	args := m.Called(ctx, exp)

	return args.Get(0).(experiment.Experiment), args.Error(1)
}

// GetExperiment retrieves an experiment by ID
func (m *MockService) GetExperiment(ctx context.Context, expID string) (experiment.Experiment, error) {
	args := m.Called(ctx, expID)

	return args.Get(0).(experiment.Experiment), args.Error(1)
}

// ListExperiments lists experiments with pagination
func (m *MockService) ListExperiments(ctx context.Context, offset, limit uint64) (experiment.Page, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(experiment.Page), args.Error(1)
}

// UpdateExperiment updates an experiment
func (m *MockService) UpdateExperiment(ctx context.Context, exp experiment.Experiment) (experiment.Experiment, error) {
	args := m.Called(ctx, exp)

	return args.Get(0).(experiment.Experiment), args.Error(1)
}

// DeleteExperiment deletes an experiment
func (m *MockService) DeleteExperiment(ctx context.Context, expID string) error {
	args := m.Called(ctx, expID)

	return args.Error(0)
}

// StartExperiment schedules and dispatches an experiment
func (m *MockService) StartExperiment(ctx context.Context, expID string) error {
	args := m.Called(ctx, expID)

	return args.Error(0)
}

// StopExperiment cancels a running experiment
func (m *MockService) StopExperiment(ctx context.Context, expID string) error {
	args := m.Called(ctx, expID)

	return args.Error(0)
}

// GetResults returns the per-task results of an experiment
func (m *MockService) GetResults(ctx context.Context, expID string) (map[string]any, error) {
	args := m.Called(ctx, expID)

	return args.Get(0).(map[string]any), args.Error(1)
}

// Subscribe attaches the service to its control channel
func (m *MockService) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// RecoverInterruptedExperiments marks experiments interrupted by a restart
func (m *MockService) RecoverInterruptedExperiments(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// Shutdown interrupts running experiments before exit
func (m *MockService) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
