package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// VerifyPath is the identity service endpoint that validates a bearer token.
const VerifyPath = "/api/auth/verify"

// RemoteVerifier delegates token verification to the identity service.
// It never retries: a failed or slow call is reported as unauthenticated.
type RemoteVerifier struct {
	client *resty.Client
}

func NewRemoteVerifier(baseURL string, timeout time.Duration) *RemoteVerifier {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &RemoteVerifier{client: client}
}

type userPayload struct {
	ID          flexibleID      `json:"id"`
	Username    string          `json:"username"`
	RoleName    string          `json:"role_name"`
	Role        string          `json:"role"`
	Permissions json.RawMessage `json:"permissions"`
}

type verifyResponse struct {
	Success *bool        `json:"success"`
	User    *userPayload `json:"user"`
	userPayload
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	resp, err := v.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get(VerifyPath)
	if err != nil {
		return Identity{}, fmt.Errorf("call identity service: %w", err)
	}
	if resp.IsError() {
		return Identity{}, fmt.Errorf("identity service returned status %d", resp.StatusCode())
	}

	var body verifyResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Identity{}, fmt.Errorf("decode identity response: %w", err)
	}
	if body.Success != nil && !*body.Success {
		return Identity{}, fmt.Errorf("identity service rejected token")
	}

	user := body.userPayload
	if body.User != nil {
		user = *body.User
	}
	if user.ID == 0 {
		return Identity{}, fmt.Errorf("identity response carries no user id")
	}

	perms, err := ParsePermissions(user.Permissions)
	if err != nil {
		return Identity{}, err
	}
	role := user.RoleName
	if role == "" {
		role = user.Role
	}
	return Identity{
		UserID:      int64(user.ID),
		Username:    user.Username,
		RoleName:    role,
		Permissions: perms,
	}, nil
}

// flexibleID accepts numeric ids encoded as JSON numbers or strings.
type flexibleID int64

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", b)
	}
	*f = flexibleID(n)
	return nil
}
