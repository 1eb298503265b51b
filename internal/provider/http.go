package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPProvider talks to a REST payment gateway using basic auth with the
// secret key as the username.
type HTTPProvider struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

var (
	_ Provider = (*HTTPProvider)(nil)
	_ Voider   = (*HTTPProvider)(nil)
)

// NewHTTPProvider creates a provider client. A zero timeout defaults to 10s.
func NewHTTPProvider(baseURL, secretKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chargeResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureCode   string `json:"failure_code"`
	FailureReason string `json:"failure_reason"`
}

// Charge posts the allocation to /charges. A 2xx response whose status is
// declined or failed is reported as a declined *Error.
func (p *HTTPProvider) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	var resp chargeResponse
	if err := p.do(ctx, http.MethodPost, "/charges", req, &resp); err != nil {
		return nil, err
	}

	switch strings.ToLower(resp.Status) {
	case "succeeded", "success", "completed", "paid":
		return &Charge{Reference: resp.ID}, nil
	case "pending", "processing":
		return &Charge{Reference: resp.ID, Pending: true}, nil
	case "declined", "failed":
		code := resp.FailureCode
		if code == "" {
			code = resp.Status
		}
		return nil, &Error{Code: code, Message: resp.FailureReason, Declined: true, Reference: resp.ID}
	default:
		return nil, &Error{Code: "unexpected_status", Message: fmt.Sprintf("unknown charge status %q", resp.Status), Reference: resp.ID}
	}
}

// Void reverses an approved charge.
func (p *HTTPProvider) Void(ctx context.Context, reference string) error {
	return p.do(ctx, http.MethodPost, "/charges/"+url.PathEscape(reference)+"/void", nil, nil)
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(p.secretKey, "")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cr, ok := body.(ChargeRequest); ok && cr.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", cr.IdempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &Error{Code: "unreachable", Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Code: "read_failed", Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Code    string `json:"error_code"`
			Message string `json:"message"`
		}
		e := &Error{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: string(respBody)}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			e.Message = errResp.Message
			if errResp.Code != "" {
				e.Code = errResp.Code
			}
		}
		// 402 Payment Required is the gateway's decline.
		e.Declined = resp.StatusCode == http.StatusPaymentRequired
		return e
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &Error{Code: "bad_response", Message: err.Error()}
		}
	}
	return nil
}
