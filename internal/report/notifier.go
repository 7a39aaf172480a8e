// Package report delivers the result of a pipeline run to a webhook.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/swap-liquidity-pipeline/internal/model"
	"github.com/yourorg/swap-liquidity-pipeline/internal/security"
)

// Headers set on signed reports
const (
	SignatureHeader = "X-Report-Signature"
	SignerHeader    = "X-Report-Signer"
)

// Notifier posts run results as JSON
type Notifier struct {
	url    string
	apiKey string
	client *retryablehttp.Client
	signer security.ReportSigner
}

// Option configures a Notifier
type Option func(*Notifier)

// WithSigner signs each report body with the pipeline account
func WithSigner(signer security.ReportSigner) Option {
	return func(n *Notifier) { n.signer = signer }
}

// payload is the webhook body
type payload struct {
	Result     model.PipelineResult `json:"result"`
	Succeeded  bool                 `json:"succeeded"`
	ReportTime string               `json:"report_time"`
}

// NewNotifier creates a notifier. It returns nil when url is empty, and a nil
// Notifier ignores Notify.
func NewNotifier(url, apiKey string, opts ...Option) *Notifier {
	if url == "" {
		return nil
	}

	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil

	n := &Notifier{url: url, apiKey: apiKey, client: c}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify posts result to the webhook
func (n *Notifier) Notify(ctx context.Context, result model.PipelineResult) error {
	if n == nil {
		return nil
	}

	body, err := json.Marshal(payload{
		Result:     result,
		Succeeded:  result.Succeeded(),
		ReportTime: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, body)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}
	if n.signer != nil {
		sig, err := n.signer.SignReport(body)
		if err != nil {
			return err
		}
		req.Header.Set(SignatureHeader, hexutil.Encode(sig))
		req.Header.Set(SignerHeader, n.signer.Address().Hex())
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}

	logrus.WithField("run_id", result.RunID).Debug("Run report delivered")
	return nil
}
