package hr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ykvlv/tardy-bot/internal/domain"
)

// Gateway is the outbound surface of the HR backend used by the bot.
type Gateway interface {
	Verify(ctx context.Context, passport, birthdate, identity string) (*Employee, error)
	SyncSupervisor(ctx context.Context, passport, birthdate string) (string, error)
	SendDecision(ctx context.Context, d Decision) error
}

// Employee is the normalized result of a successful verification.
type Employee struct {
	FullName     string
	IsApprover   bool
	SupervisorID string // empty when the backend did not provide one
}

// Decision mirrors a decided tardy request back to the HR backend.
type Decision struct {
	RequestID    int64  `json:"req_id"`
	EmployeeID   string `json:"employee_tg_id"`
	ApproverID   string `json:"manager_tg_id"`
	EmployeeName string `json:"employee_name"`
	ApproverName string `json:"manager_name"`
	Reason       string `json:"reason"`
	Start        string `json:"start"`
	End          string `json:"end"`
	SubmittedAt  string `json:"submitted_at"`
	DecidedAt    string `json:"decided_at"`
	Verdict      string `json:"decision"` // approved | rejected
}

// Verification outcomes mapped from the check endpoint's status codes.
var (
	ErrNotFound  = errors.New("hr: no matching employee")
	ErrDuplicate = errors.New("hr: duplicate employee match")
)

// BadRequestError carries the backend-supplied rejection reason (HTTP 400).
type BadRequestError struct{ Reason string }

func (e *BadRequestError) Error() string {
	return "hr: bad request: " + e.Reason
}

// UnexpectedStatusError is any response code outside the documented set.
type UnexpectedStatusError struct {
	Code int
	Body string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("hr: unexpected status %d: %s", e.Code, e.Body)
}

// Client talks to the HR backend over HTTP with basic auth.
type Client struct {
	checkURL    string
	syncURL     string
	decisionURL string
	username    string
	password    string
	httpc       *http.Client
	log         *zap.Logger
}

func NewClient(checkURL, syncURL, decisionURL, username, password string, log *zap.Logger) *Client {
	return &Client{
		checkURL:    checkURL,
		syncURL:     syncURL,
		decisionURL: decisionURL,
		username:    username,
		password:    password,
		httpc:       &http.Client{Timeout: 15 * time.Second},
		log:         log,
	}
}

// The backend's response keys vary between revisions; these are the
// accepted aliases, scanned in order.
var (
	nameKeys       = []string{"fullName", "name"}
	approverKeys   = []string{"isManager", "is_manager"}
	supervisorKeys = []string{"supervisor_tg_id", "manager_tg_id", "managerId", "supervisorId", "supervisor", "manager"}
)

// Verify checks (passport, birthdate) against the HR backend and registers
// the chat identity there. The 200 body is decoded tolerantly; the other
// documented statuses map to typed errors the caller can branch on.
func (c *Client) Verify(ctx context.Context, passport, birthdate, identity string) (*Employee, error) {
	payload := map[string]string{
		"passport":  passport,
		"birthdate": birthdate,
		"user_id":   identity,
	}
	resp, raw, err := c.post(ctx, c.checkURL, payload)
	if err != nil {
		return nil, errors.Wrap(err, "hr check request")
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var body map[string]any
		_ = json.Unmarshal(raw, &body) // a non-JSON 200 body decodes to nil fields
		return decodeEmployee(body), nil
	case http.StatusNotFound, http.StatusNoContent:
		return nil, ErrNotFound
	case http.StatusConflict:
		return nil, ErrDuplicate
	case http.StatusBadRequest:
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(raw, &body)
		return nil, &BadRequestError{Reason: body.Reason}
	default:
		return nil, &UnexpectedStatusError{Code: resp.StatusCode, Body: clip(raw, 500)}
	}
}

// SyncSupervisor asks the backend for the employee's supervisor identity.
// The response is scanned across the accepted key aliases and the first run
// of 5+ digits is extracted, so values like "tg://user?id=123456789" work.
// Returns "" when the backend has no usable identity.
func (c *Client) SyncSupervisor(ctx context.Context, passport, birthdate string) (string, error) {
	payload := map[string]string{
		"passport":  passport,
		"birthdate": birthdate,
	}
	_, raw, err := c.post(ctx, c.syncURL, payload)
	if err != nil {
		return "", errors.Wrap(err, "hr sync request")
	}

	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	return domain.ExtractIdentity(firstString(body, supervisorKeys)), nil
}

// SendDecision pushes a decided request to the backend. The response is
// not interpreted; callers treat failures as best-effort.
func (c *Client) SendDecision(ctx context.Context, d Decision) error {
	if c.decisionURL == "" {
		return nil
	}
	resp, _, err := c.post(ctx, c.decisionURL, d)
	if err != nil {
		return errors.Wrap(err, "hr decision request")
	}
	c.log.Debug("decision pushed", zap.Int64("requestID", d.RequestID), zap.Int("status", resp.StatusCode))
	return nil
}

// post sends a JSON body with basic auth and returns the response along
// with its fully read body.
func (c *Client) post(ctx context.Context, url string, payload any) (*http.Response, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, err
	}
	return resp, raw, nil
}

func decodeEmployee(body map[string]any) *Employee {
	e := &Employee{FullName: firstString(body, nameKeys)}
	for _, k := range approverKeys {
		if truthy(body[k]) {
			e.IsApprover = true
			break
		}
	}
	e.SupervisorID = firstString(body, supervisorKeys)
	return e
}

// firstString returns the first non-empty value among the given keys,
// stringified. JSON numbers are rendered without a fraction so numeric
// identities survive the round trip.
func firstString(body map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := body[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// truthy mirrors the backend's loose typing of the approver flag.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != "" && x != "false" && x != "0"
	default:
		return false
	}
}

func clip(raw []byte, n int) string {
	if len(raw) > n {
		raw = raw[:n]
	}
	return string(raw)
}
