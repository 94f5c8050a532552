package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
	"github.com/oszuidwest/zwfm-noisemeter/internal/util"
)

// Graph endpoints. Tests point them at a local server.
var (
	graphBaseURL  = "https://graph.microsoft.com/v1.0"
	graphTokenURL = "https://login.microsoftonline.com/%s/oauth2/v2.0/token" //nolint:gosec // URL template, not a credential
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	graphAttempts   = 4
	graphRetryFirst = 1 * time.Second
	graphRetryMax   = 30 * time.Second
	graphTimeout    = 30 * time.Second

	// MaxAttachmentBytes is the largest file sent inline with a message.
	// Graph rejects larger fileAttachments on sendMail.
	MaxAttachmentBytes = 3 << 20
)

var addressValidator = validator.New()

// Attachment is a file sent along with a Mail.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// Mail is a plain text message.
type Mail struct {
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Wire format of POST /users/{from}/sendMail.
type (
	sendMailRequest struct {
		Message graphMessage `json:"message"`
	}
	graphMessage struct {
		Subject      string            `json:"subject"`
		Body         graphBody         `json:"body"`
		ToRecipients []graphRecipient  `json:"toRecipients"`
		Attachments  []graphAttachment `json:"attachments,omitempty"`
	}
	graphBody struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	}
	graphRecipient struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	}
	graphAttachment struct {
		ODataType    string `json:"@odata.type"`
		Name         string `json:"name"`
		ContentType  string `json:"contentType"`
		ContentBytes []byte `json:"contentBytes"`
	}
)

// toGraph converts m to the sendMail body, dropping blank recipients.
func (m *Mail) toGraph() (sendMailRequest, error) {
	msg := graphMessage{
		Subject: m.Subject,
		Body:    graphBody{ContentType: "Text", Content: m.Body},
	}
	for _, addr := range m.To {
		if addr == "" {
			continue
		}
		if err := addressValidator.Var(addr, "email"); err != nil {
			return sendMailRequest{}, fmt.Errorf("invalid recipient %q", addr)
		}
		var r graphRecipient
		r.EmailAddress.Address = addr
		msg.ToRecipients = append(msg.ToRecipients, r)
	}
	if len(msg.ToRecipients) == 0 {
		return sendMailRequest{}, errors.New("no recipients specified")
	}
	for _, a := range m.Attachments {
		if len(a.Content) > MaxAttachmentBytes {
			return sendMailRequest{}, fmt.Errorf("attachment %s is %d bytes, limit is %d", a.Name, len(a.Content), MaxAttachmentBytes)
		}
		msg.Attachments = append(msg.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         a.Name,
			ContentType:  a.ContentType,
			ContentBytes: a.Content,
		})
	}
	return sendMailRequest{Message: msg}, nil
}

// GraphClient sends mail from a shared mailbox through Microsoft Graph using
// app-only credentials.
type GraphClient struct {
	from   string
	tokens oauth2.TokenSource
	http   *http.Client
}

// NewGraphClient creates a client for cfg. Credentials are not checked until
// the first request; see ValidateAuth.
func NewGraphClient(cfg *types.GraphConfig) (*GraphClient, error) {
	if err := checkGraphConfig(cfg, false); err != nil {
		return nil, err
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(graphTokenURL, cfg.TenantID),
		Scopes:       []string{graphScope},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: graphTimeout})
	tokens := creds.TokenSource(ctx)

	return &GraphClient{
		from:   cfg.FromAddress,
		tokens: tokens,
		http:   oauth2.NewClient(ctx, tokens),
	}, nil
}

// Send delivers m, retrying throttled and transient failures until ctx ends.
func (c *GraphClient) Send(ctx context.Context, m *Mail) error {
	req, err := m.toGraph()
	if err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	endpoint := graphBaseURL + "/users/" + url.PathEscape(c.from) + "/sendMail"
	backoff := util.NewBackoff(graphRetryFirst, graphRetryMax)
	var lastErr error
	for range graphAttempts {
		retryAfter, err := c.post(ctx, endpoint, body)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if backoff.Attempts() == graphAttempts-1 {
			break
		}
		slog.Debug("retrying graph request", "attempt", backoff.Attempts()+1, "error", err)
		if err := backoff.Wait(ctx, retryAfter); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", graphAttempts, lastErr)
}

// permanentError marks a response that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

// post sends one request. On a retryable failure it returns the delay the
// server asked for, if any.
func (c *GraphClient) post(ctx context.Context, endpoint string, body []byte) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, &permanentError{fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return 0, nil
	case code == http.StatusTooManyRequests:
		var wait time.Duration
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			wait = time.Duration(s) * time.Second
		}
		return wait, fmt.Errorf("graph throttled the request: %s", detail)
	case code >= 500:
		return 0, fmt.Errorf("graph returned %d: %s", code, detail)
	default:
		return 0, &permanentError{fmt.Errorf("graph rejected the request (%d): %s", code, detail)}
	}
}

// ValidateAuth fetches a token and looks up the sending mailbox. A 403 on the
// lookup is accepted: the app may hold Mail.Send without User.Read.
func (c *GraphClient) ValidateAuth(ctx context.Context) error {
	if _, err := c.tokens.Token(); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphBaseURL+"/users/"+url.PathEscape(c.from), http.NoBody)
	if err != nil {
		return fmt.Errorf("create validation request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusForbidden:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("mailbox %s not found", c.from)
	case http.StatusUnauthorized:
		return errors.New("authentication failed: invalid credentials")
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("validation failed with status %d: %s", resp.StatusCode, detail)
	}
}

// checkGraphConfig reports the first missing sender setting. With strict set,
// tenant and client IDs must also be well-formed GUIDs.
func checkGraphConfig(cfg *types.GraphConfig, strict bool) error {
	fields := []struct {
		name, value string
		guid        bool
	}{
		{"tenant ID", cfg.TenantID, true},
		{"client ID", cfg.ClientID, true},
		{"client secret", cfg.ClientSecret, false},
		{"from address (shared mailbox)", cfg.FromAddress, false},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%s is required", f.name)
		}
		if strict && f.guid && !isGUID(f.value) {
			return fmt.Errorf("%s must be a valid GUID (e.g., 12345678-1234-1234-1234-123456789abc)", f.name)
		}
	}
	return nil
}

// isGUID accepts only the bare 36 character form.
func isGUID(s string) bool {
	return len(s) == 36 && uuid.Validate(s) == nil
}

// ValidateConfig validates that cfg can send alert mail.
func ValidateConfig(cfg *types.GraphConfig) error {
	if err := checkGraphConfig(cfg, true); err != nil {
		return err
	}
	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return errors.New("recipients are required")
	}
	for _, r := range recipients {
		if err := addressValidator.Var(r, "email"); err != nil {
			return fmt.Errorf("invalid recipient %q", r)
		}
	}
	return nil
}

// IsConfigured reports whether the Graph configuration has the minimum required fields.
func IsConfigured(cfg *types.GraphConfig) bool {
	return util.IsConfigured(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, cfg.FromAddress, cfg.Recipients)
}

// ParseRecipients splits a comma-separated recipients string into a slice.
func ParseRecipients(recipients string) []string {
	return ParseList(recipients)
}
