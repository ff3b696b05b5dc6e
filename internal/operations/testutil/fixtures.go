package testutil

import (
	"context"
	"errors"
	"time"

	"github.com/RyanSy/PortfolioAnalysis/internal/operations"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// TestHorizon is a one-month horizon used by operations tests
func TestHorizon() domain.Horizon {
	return domain.Horizon{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

// CreateTestConfig creates a configuration with short delays and two attempts
func CreateTestConfig() *operations.Config {
	return operations.NewConfigBuilder().
		WithRetryConfig(operations.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   2.0,
		}).
		Build()
}

// CreateSuccessfulStage creates a step that always succeeds
func CreateSuccessfulStage(id string, deps ...string) *MockStage {
	return &MockStage{IDValue: id, NameValue: "step " + id, DependenciesValue: deps}
}

// CreateFailingStage creates a step that always fails with err
func CreateFailingStage(id string, err error, deps ...string) *MockStage {
	return &MockStage{
		IDValue:           id,
		NameValue:         "step " + id,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			return err
		},
	}
}

// CreateRetryableStage creates a step that fails failCount times with err and then succeeds
func CreateRetryableStage(id string, failCount int, err error, deps ...string) *MockStage {
	attempts := 0
	return &MockStage{
		IDValue:           id,
		NameValue:         "step " + id,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			attempts++
			if attempts <= failCount {
				return err
			}
			return nil
		},
	}
}

// CreateBlockingStage creates a step that waits for its context to end
func CreateBlockingStage(id string, deps ...string) *MockStage {
	return &MockStage{
		IDValue:           id,
		NameValue:         "step " + id,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
}

// CreateContextAwareStage creates a step that requires readKey and writes writeKey
func CreateContextAwareStage(id, readKey, writeKey string, writeValue interface{}, deps ...string) *MockStage {
	return &MockStage{
		IDValue:           id,
		NameValue:         "step " + id,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			if readKey != "" {
				if _, ok := state.GetContext(readKey); !ok {
					return errors.New("missing context value " + readKey)
				}
			}
			if writeKey != "" {
				state.SetContext(writeKey, writeValue)
			}
			return nil
		},
	}
}
