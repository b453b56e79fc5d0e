// Package upload posts fetched snapshots as JSON to a collecting endpoint.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/worldwatch/internal/domain/world"
	"github.com/okian/worldwatch/pkg/metrics"
)

// DefaultTimeout bounds one upload.
const DefaultTimeout = 10 * time.Second

// ErrRejected is returned for a non-2xx answer.
var ErrRejected = errors.New("upload rejected")

// Uploader sends snapshots to one endpoint.
type Uploader struct {
	endpoint string
	user     string
	pass     string
	client   *http.Client
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithBasicAuth sets the credentials sent with every upload.
func WithBasicAuth(user, pass string) Option {
	return func(u *Uploader) {
		u.user, u.pass = user, pass
	}
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) {
		if c != nil {
			u.client = c
		}
	}
}

// New returns an Uploader for endpoint.
func New(endpoint string, opts ...Option) *Uploader {
	u := &Uploader{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload posts snapshots as a JSON array. Basic auth is sent only when
// both user and password are set.
func (u *Uploader) Upload(ctx context.Context, snapshots []world.Snapshot) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RecordUpload(outcome)
	}()

	if snapshots == nil {
		snapshots = []world.Snapshot{}
	}
	body, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if u.user != "" && u.pass != "" {
		req.SetBasicAuth(u.user, u.pass)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("post snapshots: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
