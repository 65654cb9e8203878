package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/interflow/analysis"
	"github.com/BaSui01/interflow/attach"
	"github.com/BaSui01/interflow/completion"
	"github.com/BaSui01/interflow/engine"
	"github.com/BaSui01/interflow/pipeline"
	"github.com/BaSui01/interflow/run"
	"github.com/BaSui01/interflow/types"
)

type testServer struct {
	server   *httptest.Server
	client   *Client
	engine   *engine.Engine
	store    run.Store
	provider *completion.ScriptedProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	provider := completion.NewScriptedProvider(nil)
	executor := analysis.NewScriptedExecutor(zap.NewNop())
	attachments, err := attach.NewLocalStore(attach.LocalConfig{Dir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	registry, err := pipeline.DefaultRegistry(pipeline.Deps{
		Provider: provider,
		Executor: executor,
	})
	require.NoError(t, err)

	store := run.NewMemoryStore()
	eng := engine.New(registry, store, nil, zap.NewNop())
	handler := NewHandler(eng, attachments, nil, zap.NewNop())

	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)

	return &testServer{
		server:   srv,
		client:   NewClient(srv.URL, srv.Client(), zap.NewNop()),
		engine:   eng,
		store:    store,
		provider: provider,
	}
}

func TestStartAndGetRun(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	view, err := ts.client.StartRun(ctx, StartRunRequest{
		WorkflowType: "basic",
		Request:      "write a greeting",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, view.RunID)
	assert.Equal(t, "basic", view.WorkflowType)
	assert.Equal(t, string(run.StatusNotStarted), view.Status)
	assert.False(t, view.AwaitingInput)

	got, err := ts.client.GetRun(ctx, view.RunID)
	require.NoError(t, err)
	assert.Equal(t, view.RunID, got.RunID)
	assert.Equal(t, "write a greeting", got.OriginalRequest)
}

func TestStartRunValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.client.StartRun(ctx, StartRunRequest{
		WorkflowType: "nonexistent",
		Request:      "anything",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownWorkflow, types.GetErrorCode(err))

	_, err = ts.client.StartRun(ctx, StartRunRequest{WorkflowType: "basic"})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidationFailure, types.GetErrorCode(err))
}

func TestGetUnknownRun(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	_, err := ts.client.GetRun(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownRun, types.GetErrorCode(err))
}

func TestResumeRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	view, err := ts.client.StartRun(ctx, StartRunRequest{
		WorkflowType: "basic",
		Request:      "hello",
	})
	require.NoError(t, err)

	body := strings.NewReader(`{"kind":"escalate"}`)
	resp, err := ts.server.Client().Post(
		ts.server.URL+"/v1/runs/"+view.RunID+"/input", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResumeNotPaused(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	view, err := ts.client.StartRun(ctx, StartRunRequest{
		WorkflowType: "basic",
		Request:      "hello",
	})
	require.NoError(t, err)

	_, err = ts.client.Resume(ctx, view.RunID, ResumeRequest{Kind: types.InputApprove})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidResumeState, types.GetErrorCode(err))
}

func TestInterruptValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	view, err := ts.client.StartRun(ctx, StartRunRequest{
		WorkflowType: "basic",
		Request:      "hello",
	})
	require.NoError(t, err)

	err = ts.client.Interrupt(ctx, view.RunID, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidationFailure, types.GetErrorCode(err))

	require.NoError(t, ts.client.Interrupt(ctx, view.RunID, "make it shorter"))
}

func TestWorkflowsListing(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	infos, err := ts.client.Workflows(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
		assert.NotEmpty(t, info.Stages)
	}
	assert.Equal(t, []string{"basic", "data_analysis", "editable", "research"}, names)
}

func TestSentencesDerivedFromReviewedContent(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	ctx := context.Background()

	st, err := ts.engine.Start(ctx, engine.StartRequest{
		WorkflowType:    "basic",
		OriginalRequest: "First point. Second point.",
	})
	require.NoError(t, err)
	_, err = ts.engine.Advance(ctx, st.RunID, nil)
	require.NoError(t, err)

	// The basic workflow never derives edit units itself; the endpoint
	// splits the draft under review on demand.
	resp, err := ts.client.Sentences(ctx, st.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Sentences)
	assert.Equal(t, "sentence_0", resp.Sentences[0].ID)
}

func TestUploadAndArtifact(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "sales.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("region,total\nwest,42\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := ts.server.Client().Post(ts.server.URL+"/v1/uploads", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var envelope struct {
		Data UploadResponse `json:"data"`
	}
	require.NoError(t, decodeBody(resp.Body, &envelope))
	assert.NotEmpty(t, envelope.Data.Ref)
	assert.Equal(t, "sales.csv", envelope.Data.Name)

	got, err := ts.server.Client().Get(ts.server.URL + "/v1/artifacts/" + envelope.Data.Ref)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
	content, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "region,total\nwest,42\n", string(content))
}

func TestArtifactTraversalRejected(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp, err := ts.server.Client().Get(ts.server.URL + "/v1/artifacts/..%2Fsecret")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp, err := ts.server.Client().Get(ts.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func decodeBody(r io.Reader, dst any) error {
	return json.NewDecoder(r).Decode(dst)
}
