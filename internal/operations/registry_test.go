package operations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanSy/PortfolioAnalysis/internal/operations"
	"github.com/RyanSy/PortfolioAnalysis/internal/operations/testutil"
)

func stepIDs(steps []operations.Step) []string {
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID()
	}
	return ids
}

func TestRegistry_Register(t *testing.T) {
	r := operations.NewRegistry()

	require.NoError(t, r.Register(testutil.CreateSuccessfulStage("a")))
	assert.Error(t, r.Register(testutil.CreateSuccessfulStage("a")), "duplicate id")
	assert.Error(t, r.Register(testutil.CreateSuccessfulStage("")), "empty id")
	assert.Error(t, r.Register(nil))

	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("b"))
	assert.Equal(t, 1, r.Count())

	_, err := r.Get("b")
	assert.Error(t, err)
}

func TestRegistry_GetDependencyOrder(t *testing.T) {
	tests := []struct {
		name  string
		steps []*testutil.MockStage
		want  []string
	}{
		{
			name: "independent steps keep registration order",
			steps: []*testutil.MockStage{
				testutil.CreateSuccessfulStage("z"),
				testutil.CreateSuccessfulStage("a"),
			},
			want: []string{"z", "a"},
		},
		{
			name: "dependencies first",
			steps: []*testutil.MockStage{
				testutil.CreateSuccessfulStage("mart", "metrics", "value"),
				testutil.CreateSuccessfulStage("metrics", "value"),
				testutil.CreateSuccessfulStage("value"),
			},
			want: []string{"value", "metrics", "mart"},
		},
		{
			name: "siblings released together keep registration order",
			steps: []*testutil.MockStage{
				testutil.CreateSuccessfulStage("root"),
				testutil.CreateSuccessfulStage("export", "root"),
				testutil.CreateSuccessfulStage("persist", "root"),
			},
			want: []string{"root", "export", "persist"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := operations.NewRegistry()
			for _, s := range tt.steps {
				require.NoError(t, r.Register(s))
			}
			got, err := r.GetDependencyOrder()
			require.NoError(t, err)
			assert.Equal(t, tt.want, stepIDs(got))
		})
	}
}

func TestRegistry_MissingDependency(t *testing.T) {
	r := operations.NewRegistry()
	require.NoError(t, r.Register(testutil.CreateSuccessfulStage("a", "ghost")))

	_, err := r.GetDependencyOrder()
	assert.ErrorContains(t, err, "ghost")
}

func TestRegistry_DependencyClosure(t *testing.T) {
	r := operations.NewRegistry()
	for _, s := range []*testutil.MockStage{
		testutil.CreateSuccessfulStage("ingest"),
		testutil.CreateSuccessfulStage("validate", "ingest"),
		testutil.CreateSuccessfulStage("normalize", "validate"),
		testutil.CreateSuccessfulStage("export", "normalize"),
		testutil.CreateSuccessfulStage("persist", "normalize"),
	} {
		require.NoError(t, r.Register(s))
	}

	closure, err := r.DependencyClosure("normalize")
	require.NoError(t, err)
	assert.Equal(t, []string{"ingest", "validate", "normalize"}, stepIDs(closure))

	assert.Equal(t, []string{"export", "persist"}, stepIDs(r.GetDependents("normalize")))
	assert.Empty(t, r.GetDependents("persist"))
}
