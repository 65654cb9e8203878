package interflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/interflow/engine"
	"github.com/BaSui01/interflow/run"
	"github.com/BaSui01/interflow/types"
)

func TestNewDefaultsRunAWorkflow(t *testing.T) {
	t.Parallel()
	eng, err := New()
	require.NoError(t, err)

	ctx := context.Background()
	st, err := eng.Start(ctx, engine.StartRequest{
		WorkflowType:    "basic",
		OriginalRequest: "say hello",
	})
	require.NoError(t, err)

	st, err = eng.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, run.StatusPaused, st.Status)

	_, err = eng.Resume(ctx, st.RunID, &types.HumanInput{Kind: types.InputApprove})
	require.NoError(t, err)

	st, err = eng.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFinished, st.Status)
}

func TestNewWithCustomStore(t *testing.T) {
	t.Parallel()
	store := run.NewMemoryStore()
	eng, err := New(WithStore(store))
	require.NoError(t, err)

	st, err := eng.Start(context.Background(), engine.StartRequest{
		WorkflowType:    "research",
		OriginalRequest: "investigate something",
	})
	require.NoError(t, err)

	// The run landed in the caller's store, not a hidden default.
	got, err := store.Get(context.Background(), st.RunID)
	require.NoError(t, err)
	assert.Equal(t, "research", got.WorkflowType)
}
