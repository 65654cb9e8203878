package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/interflow/types"
)

// RemoteExecutor sends scripts to an external execution service over
// HTTP. The service owns sandboxing and resource limits; this client
// just ships code and collects the result.
type RemoteExecutor struct {
	cfg    RemoteConfig
	client *http.Client
	logger *zap.Logger
}

// NewRemoteExecutor creates an executor for the configured service.
func NewRemoteExecutor(cfg RemoteConfig, logger *zap.Logger) (*RemoteExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRemoteConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "remote_executor")),
	}, nil
}

type remoteRequest struct {
	Code     string `json:"code"`
	InputRef string `json:"input_ref,omitempty"`
}

func (e *RemoteExecutor) Run(ctx context.Context, code, inputRef string) (*Result, error) {
	payload, err := json.Marshal(remoteRequest{Code: code, InputRef: inputRef})
	if err != nil {
		return nil, fmt.Errorf("marshal execution request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create execution request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, types.Errorf(types.ErrExecutionFailure, "execution service unreachable: %v", err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, types.Errorf(types.ErrExecutionFailure, "execution service returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, types.Errorf(types.ErrExecutionFailure, "decode execution result: %v", err)
	}

	e.logger.Debug("execution finished",
		zap.Bool("success", result.Success),
		zap.Int("artifacts", len(result.Artifacts)))
	return &result, nil
}
