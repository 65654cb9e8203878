package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/interflow/types"
)

func TestScriptedExecutorQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	exec := NewScriptedExecutor(zap.NewNop(),
		&Result{Success: false, Error: "boom"},
		&Result{Success: true, Output: "fixed"},
	)

	res, err := exec.Run(ctx, "print(1)", "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Error)

	res, err = exec.Run(ctx, "print(2)", "data.csv")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "fixed", res.Output)

	// Exhausted queue degrades to generic success.
	res, err = exec.Run(ctx, "print(3)", "")
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.Equal(t, 3, exec.Calls())
}

func TestScriptedExecutorCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewScriptedExecutor(nil)
	_, err := exec.Run(ctx, "print(1)", "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRemoteExecutorRoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code     string `json:"code"`
			InputRef string `json:"input_ref"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "print('hi')", req.Code)
		assert.Equal(t, "data.csv", req.InputRef)

		json.NewEncoder(w).Encode(Result{
			Success:   true,
			Output:    "hi",
			Artifacts: []string{"plot.png"},
		})
	}))
	defer srv.Close()

	exec, err := NewRemoteExecutor(RemoteConfig{Endpoint: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	res, err := exec.Run(context.Background(), "print('hi')", "data.csv")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hi", res.Output)
	assert.Equal(t, []string{"plot.png"}, res.Artifacts)
}

func TestRemoteExecutorServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "sandbox crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec, err := NewRemoteExecutor(RemoteConfig{Endpoint: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), "print('hi')", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrExecutionFailure, types.GetErrorCode(err))
}

func TestRemoteExecutorUnreachable(t *testing.T) {
	t.Parallel()

	exec, err := NewRemoteExecutor(RemoteConfig{Endpoint: "http://127.0.0.1:1"}, zap.NewNop())
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), "print('hi')", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrExecutionFailure, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestRemoteExecutorRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewRemoteExecutor(RemoteConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidationFailure, types.GetErrorCode(err))
}
