package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/interflow/engine"
	"github.com/BaSui01/interflow/types"
)

// Client is a Go client for the run API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client against a base URL like "http://host:8000".
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.With(zap.String("component", "api_client")),
	}
}

// StartRun creates a run.
func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (*RunView, error) {
	var view RunView
	if err := c.post(ctx, "/v1/runs", req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetRun fetches the current run snapshot.
func (c *Client) GetRun(ctx context.Context, runID string) (*RunView, error) {
	var view RunView
	if err := c.get(ctx, "/v1/runs/"+runID, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Resume submits one human input to a paused run.
func (c *Client) Resume(ctx context.Context, runID string, req ResumeRequest) (*RunView, error) {
	var view RunView
	if err := c.post(ctx, "/v1/runs/"+runID+"/input", req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Interrupt records a best-effort mid-run message.
func (c *Client) Interrupt(ctx context.Context, runID, message string) error {
	return c.post(ctx, "/v1/runs/"+runID+"/interrupt", InterruptRequest{Message: message}, nil)
}

// Sentences lists the editable units of the run's current content.
func (c *Client) Sentences(ctx context.Context, runID string) (*SentencesResponse, error) {
	var resp SentencesResponse
	if err := c.get(ctx, "/v1/runs/"+runID+"/sentences", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Workflows lists registered workflow types.
func (c *Client) Workflows(ctx context.Context) ([]WorkflowInfo, error) {
	var infos []WorkflowInfo
	if err := c.get(ctx, "/v1/workflows", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *ErrorInfo      `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		code := types.ErrInternalError
		message := "request failed"
		if envelope.Error != nil {
			code = types.ErrorCode(envelope.Error.Code)
			message = envelope.Error.Message
		}
		return types.NewError(code, message).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(envelope.Error != nil && envelope.Error.Retryable)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}

// RunStream is an attached run output stream.
type RunStream struct {
	conn   *websocket.Conn
	logger *zap.Logger
	closed bool
}

// Attach opens the run's WebSocket stream. The server advances the run
// while the stream is open; Next returns frames until a terminal status
// frame arrives and the server closes.
func (c *Client) Attach(ctx context.Context, runID string) (*RunStream, error) {
	url := strings.Replace(c.baseURL, "http", "ws", 1) + "/v1/runs/" + runID + "/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &RunStream{
		conn:   conn,
		logger: c.logger.With(zap.String("run_id", runID)),
	}, nil
}

// Next reads one stream frame. io.EOF marks a clean close.
func (s *RunStream) Next(ctx context.Context) (*engine.Event, error) {
	_, data, err := s.conn.Read(ctx)
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	var ev engine.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	return &ev, nil
}

// SendInterrupt pushes a mid-run message over the open stream.
func (s *RunStream) SendInterrupt(ctx context.Context, message string) error {
	data, err := json.Marshal(inboundFrame{Type: "interrupt", Message: message})
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// Close detaches from the stream. The server aborts any in-flight stage
// without committing it.
func (s *RunStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close(websocket.StatusNormalClosure, "closing")
}
