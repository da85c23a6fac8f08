package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

// HTTPConnector hands a post to a platform connector service over HTTP. The connector owns
// OAuth tokens and the platform wire format; this side only classifies the answer.
type HTTPConnector struct {
	platform string
	endpoint string
	client   *http.Client
}

func NewHTTPConnector(platform, endpoint string, client *http.Client) *HTTPConnector {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPConnector{
		platform: platform,
		endpoint: strings.TrimRight(endpoint, "/") + "/publish",
		client:   client,
	}
}

func (c *HTTPConnector) Publish(ctx context.Context, post *models.ScheduledPost, target models.PlatformTarget) Result {
	body, err := json.Marshal(transfer.ConnectorPublishRequest{
		PostID:        post.ID,
		WorkspaceID:   post.WorkspaceID,
		Platform:      target.Platform,
		ContentFormat: string(post.ContentFormat),
		MediaRef:      post.MediaRef,
		Caption:       post.Caption,
	})
	if err != nil {
		return Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", post.ID+":"+target.Platform)

	resp, err := c.client.Do(req)
	if err != nil {
		if isRetryableNetworkError(err) {
			return Transient(err)
		}
		return Permanent(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Transient(fmt.Errorf("reading %s connector response: %w", c.platform, err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var ok transfer.ConnectorPublishResponse
		if err := json.Unmarshal(payload, &ok); err != nil {
			logger.Warn("connector returned undecodable success body",
				zap.String("platform", c.platform), zap.String("post_id", post.ID), zap.Error(err))
		}
		return Success(ok.ExternalPostID)
	}

	return classifyErrorResponse(c.platform, resp.StatusCode, payload)
}

func classifyErrorResponse(platform string, status int, payload []byte) Result {
	var errResp transfer.ConnectorErrorResponse
	message := strings.TrimSpace(string(payload))
	if err := json.Unmarshal(payload, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	err := fmt.Errorf("%s connector responded %d: %s", platform, status, message)

	if errResp.Error.IsTransient {
		return Transient(err)
	}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return Transient(err)
	default:
		return Permanent(err)
	}
}

func isRetryableNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
