package directus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// AuthResult is the json-mode response of /auth/login.
type AuthResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// Expires is the access token lifetime in milliseconds.
	Expires int64 `json:"expires"`
}

// Role is the user's role. Directus returns either the bare role id or the
// expanded object depending on the requested fields.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r *Role) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Role{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = Role{ID: id}
		return nil
	}
	type plain Role
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode role: %w", err)
	}
	*r = Role(p)
	return nil
}

// User is the subset of directus_users the sites display and authorize on.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Status    string `json:"status"`
	Role      Role   `json:"role"`
}

// DisplayName prefers the first name and falls back to the email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.Email
}

// NewUser is the payload for POST /users.
type NewUser struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role,omitempty"`
}

var userFields = []string{"id", "email", "first_name", "last_name", "status", "role.id", "role.name"}

// Login exchanges email and password for tokens.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	var res AuthResult
	err := c.do(ctx, call{
		op:     "login",
		method: http.MethodPost,
		path:   "/auth/login",
		body: map[string]string{
			"email":    email,
			"password": password,
			"mode":     "json",
		},
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, &Error{Op: "login", StatusCode: http.StatusOK, Err: errors.New("response carried no access token")}
	}
	return &res, nil
}

// Logout invalidates refreshToken on the server.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"mode": "json"}
	if refreshToken != "" {
		body["refresh_token"] = refreshToken
	}
	return c.do(ctx, call{
		op:     "logout",
		method: http.MethodPost,
		path:   "/auth/logout",
		body:   body,
	}, nil)
}

// Me returns the user owning the context token.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	err := c.do(ctx, call{
		op:     "me",
		method: http.MethodGet,
		path:   "/users/me",
		query:  url.Values{"fields": {strings.Join(userFields, ",")}},
	}, &u)
	if err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, &Error{Op: "me", StatusCode: http.StatusOK, Err: errors.New("empty user record")}
	}
	return &u, nil
}

// CreateUser creates a directus_users record. The context token must be
// allowed to create users.
func (c *Client) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	var u User
	err := c.do(ctx, call{
		op:         "create",
		collection: "directus_users",
		method:     http.MethodPost,
		path:       "/users",
		body:       nu,
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// User fetches a single directus_users record by id.
func (c *Client) User(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, &Error{Op: "read", Collection: "directus_users", Err: errors.New("empty id")}
	}
	var u User
	err := c.do(ctx, call{
		op:         "read",
		collection: "directus_users",
		method:     http.MethodGet,
		path:       "/users/" + url.PathEscape(id),
		query:      url.Values{"fields": {strings.Join(userFields, ",")}},
	}, &u)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
