package testutil

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/RyanSy/PortfolioAnalysis/internal/mart"
	"github.com/RyanSy/PortfolioAnalysis/internal/operations"
)

// MockStage is a configurable mock implementation of the step interface
type MockStage struct {
	IDValue           string
	NameValue         string
	DependenciesValue []string

	// Configurable functions
	ExecuteFunc  func(ctx context.Context, state *operations.OperationState) error
	ValidateFunc func(state *operations.OperationState) error

	// Call tracking
	mu            sync.Mutex
	ExecuteCalls  int
	ExecuteTimes  []time.Time
	ValidateCalls int
}

// ID returns the step ID
func (m *MockStage) ID() string {
	return m.IDValue
}

// Name returns the step name
func (m *MockStage) Name() string {
	return m.NameValue
}

// GetDependencies returns the step dependencies
func (m *MockStage) GetDependencies() []string {
	if m.DependenciesValue == nil {
		return []string{}
	}
	return m.DependenciesValue
}

// Execute runs the mock execute function
func (m *MockStage) Execute(ctx context.Context, state *operations.OperationState) error {
	m.mu.Lock()
	m.ExecuteCalls++
	m.ExecuteTimes = append(m.ExecuteTimes, time.Now())
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, state)
	}
	return nil
}

// Validate runs the mock validate function
func (m *MockStage) Validate(state *operations.OperationState) error {
	m.mu.Lock()
	m.ValidateCalls++
	m.mu.Unlock()

	if m.ValidateFunc != nil {
		return m.ValidateFunc(state)
	}
	return nil
}

// GetExecuteCalls returns the number of Execute calls
func (m *MockStage) GetExecuteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExecuteCalls
}

// GetValidateCalls returns the number of Validate calls
func (m *MockStage) GetValidateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ValidateCalls
}

// MockStore records what the persist step wrote
type MockStore struct {
	mu       sync.Mutex
	Ensured  []string
	Appended map[string]int
	Replaced map[string]int
	// AppendErr fails the next N AppendRows calls
	AppendErr   error
	AppendFails int
	Closed      bool
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{Appended: make(map[string]int), Replaced: make(map[string]int)}
}

// EnsureTable records the table name
func (s *MockStore) EnsureTable(_ context.Context, t *mart.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ensured = append(s.Ensured, t.Name)
	return nil
}

// AppendRows records the row count or returns AppendErr while failures remain
func (s *MockStore) AppendRows(_ context.Context, t *mart.Table) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendFails > 0 {
		s.AppendFails--
		return 0, s.AppendErr
	}
	s.Appended[t.Name] = len(t.Rows)
	return len(t.Rows), nil
}

// ReplaceTable records the row count
func (s *MockStore) ReplaceTable(_ context.Context, t *mart.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Replaced[t.Name] = len(t.Rows)
	return nil
}

// Close marks the store closed
func (s *MockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// MockExporter records exported table names
type MockExporter struct {
	mu     sync.Mutex
	Tables []string
	Err    error
}

// Export records every table name and returns one fake path per table
func (e *MockExporter) Export(_ context.Context, tables []*mart.Table) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		e.Tables = append(e.Tables, t.Name)
		paths = append(paths, t.Name+".csv")
	}
	return paths, nil
}

// MockSlogHandler captures slog messages for testing
type MockSlogHandler struct {
	mu      sync.Mutex
	records []MockLogRecord
}

// MockLogRecord represents a captured slog record
type MockLogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]interface{}
	Time    time.Time
}

// NewMockSlogHandler creates a new mock slog handler
func NewMockSlogHandler() *MockSlogHandler {
	return &MockSlogHandler{
		records: make([]MockLogRecord, 0),
	}
}

// Handle implements slog.Handler interface
func (h *MockSlogHandler) Handle(ctx context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	attrs := make(map[string]interface{})
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.Any()
		return true
	})

	h.records = append(h.records, MockLogRecord{
		Level:   record.Level,
		Message: record.Message,
		Attrs:   attrs,
		Time:    record.Time,
	})
	return nil
}

// Enabled implements slog.Handler interface
func (h *MockSlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

// WithAttrs returns the same handler; base attributes are not captured
func (h *MockSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

// WithGroup returns the same handler
func (h *MockSlogHandler) WithGroup(name string) slog.Handler {
	return h
}

// GetRecordsByLevel returns records filtered by level
func (h *MockSlogHandler) GetRecordsByLevel(level slog.Level) []MockLogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var filtered []MockLogRecord
	for _, record := range h.records {
		if record.Level == level {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

// HasMessage checks if any record contains the given message
func (h *MockSlogHandler) HasMessage(message string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, record := range h.records {
		if record.Message == message {
			return true
		}
	}
	return false
}

// CreateTestSlogLogger creates a slog.Logger with MockSlogHandler for testing
func CreateTestSlogLogger() (*slog.Logger, *MockSlogHandler) {
	handler := NewMockSlogHandler()
	return slog.New(handler), handler
}
