// Package submit delivers the outcome of a marking session to the backend
// processing unit.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/menta2k/image-marker/pkg/types"
)

// Backend endpoints, relative to the base URL.
const (
	ApplyPath  = "/image_marker/apply"
	CancelPath = "/image_marker/cancel"
)

// ErrRejected is returned when the backend answered but refused the call.
var ErrRejected = errors.New("rejected by backend")

// Submitter is the backend collaborator seen by a marking session.
type Submitter interface {
	// Apply delivers the composited image, encoded as a data URL.
	Apply(ctx context.Context, targetID, imageData string) error
	// Cancel notifies the backend that the operator dismissed the session.
	Cancel(ctx context.Context, targetID string) error
}

// HTTPSubmitter posts JSON to a backend over HTTP.
type HTTPSubmitter struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSubmitter creates a submitter for the backend at baseURL. A nil
// client selects http.DefaultClient, which has no timeout.
func NewHTTPSubmitter(baseURL string, client *http.Client) (*HTTPSubmitter, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSubmitter{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: client,
	}, nil
}

// Apply posts {node_id, image_data} to the apply endpoint.
func (s *HTTPSubmitter) Apply(ctx context.Context, targetID, imageData string) error {
	return s.send(ctx, ApplyPath, types.ApplyRequest{TargetID: targetID, ImageData: imageData})
}

// Cancel posts {node_id} to the cancel endpoint.
func (s *HTTPSubmitter) Cancel(ctx context.Context, targetID string) error {
	return s.send(ctx, CancelPath, types.CancelRequest{TargetID: targetID})
}

// send reports only success or failure. A 2xx answer is a success unless it
// carries a JSON reply with success=false.
func (s *HTTPSubmitter) send(ctx context.Context, endpoint string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var reply types.Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil
	}
	if !reply.Success && hasSuccessField(body) {
		if reply.Error == "" {
			return ErrRejected
		}
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}
	return nil
}

func hasSuccessField(body []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	_, ok := fields["success"]
	return ok
}
