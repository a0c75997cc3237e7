// Package api is the REST client for the sync backend.
//
// The client speaks the backend's /api/v1 surface: paged entity listings
// with a since watermark, create/update/delete per entity, the auth token
// pair endpoints, and presigned upload slots for recordings. Every call
// carries a bearer token from the TokenSource; a 401 answer invalidates the
// token and retries once after a refresh.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 8 << 10
)

// Client talks to one backend deployment on behalf of one account.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  *TokenSource
	log     zerolog.Logger
}

// New creates a client for the deployment at baseURL. tokens may be nil for
// a client that only logs in or probes health.
func New(baseURL string, tokens *TokenSource, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
		log:     logger,
	}
}

// SetTokens attaches a token source after construction. The login flow
// builds the client first, logs in, then wires the source it produced.
func (c *Client) SetTokens(tokens *TokenSource) {
	c.tokens = tokens
}

// SetTimeout overrides the per-request timeout. Non-positive values keep
// the default.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpc.Timeout = d
	}
}

// BaseURL returns the deployment URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListQuery selects a page of an entity listing.
type ListQuery struct {
	// Since limits results to entities updated strictly after this time.
	// Nil pulls everything (hydration).
	Since          *time.Time
	IncludeDeleted bool
	Page           int
	PerPage        int
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Since != nil {
		v.Set("since", q.Since.UTC().Format(time.RFC3339Nano))
	}
	if q.IncludeDeleted {
		v.Set("include_deleted", "true")
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	return v
}

type page[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (TokenPair, error) {
	in := map[string]string{"email": email, "password": password}
	var pair TokenPair
	if err := c.send(ctx, http.MethodPost, apiPrefix+"/auth/login", nil, in, &pair, false); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// RefreshTokens exchanges a refresh token for a new pair. This is the
// RefreshFunc handed to NewTokenSource.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (TokenPair, error) {
	in := map[string]string{"refresh_token": refreshToken}
	var pair TokenPair
	if err := c.send(ctx, http.MethodPost, apiPrefix+"/auth/refresh", nil, in, &pair, false); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Ping probes the deployment's health endpoint. Used by the daemon's
// connectivity poller; any 2xx counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.send(ctx, http.MethodGet, "/health", nil, nil, nil, false)
}

// ListNotes returns one page of notes and whether more pages follow.
func (c *Client) ListNotes(ctx context.Context, q ListQuery) ([]NoteDTO, bool, error) {
	return listPage[NoteDTO](ctx, c, apiPrefix+"/notes", q)
}

// ListFolders returns one page of folders and whether more pages follow.
func (c *Client) ListFolders(ctx context.Context, q ListQuery) ([]FolderDTO, bool, error) {
	return listPage[FolderDTO](ctx, c, apiPrefix+"/folders", q)
}

// ListActions returns one page of actions and whether more pages follow.
func (c *Client) ListActions(ctx context.Context, q ListQuery) ([]ActionDTO, bool, error) {
	return listPage[ActionDTO](ctx, c, apiPrefix+"/actions", q)
}

// CreateNote pushes a new note; the response carries the server-assigned id.
func (c *Client) CreateNote(ctx context.Context, d NoteDTO) (NoteDTO, error) {
	var out NoteDTO
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/notes", nil, d, &out); err != nil {
		return NoteDTO{}, err
	}
	return out, nil
}

// UpdateNote pushes changed fields of an existing note.
func (c *Client) UpdateNote(ctx context.Context, serverID string, d NoteDTO) (NoteDTO, error) {
	var out NoteDTO
	if err := c.do(ctx, http.MethodPatch, apiPrefix+"/notes/"+url.PathEscape(serverID), nil, d, &out); err != nil {
		return NoteDTO{}, err
	}
	return out, nil
}

// DeleteNote deletes a note on the server; its actions go with it.
func (c *Client) DeleteNote(ctx context.Context, serverID string) error {
	return c.do(ctx, http.MethodDelete, apiPrefix+"/notes/"+url.PathEscape(serverID), nil, nil, nil)
}

// CreateFolder pushes a new folder.
func (c *Client) CreateFolder(ctx context.Context, d FolderDTO) (FolderDTO, error) {
	var out FolderDTO
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/folders", nil, d, &out); err != nil {
		return FolderDTO{}, err
	}
	return out, nil
}

// UpdateFolder pushes changed fields of an existing folder.
func (c *Client) UpdateFolder(ctx context.Context, serverID string, d FolderDTO) (FolderDTO, error) {
	var out FolderDTO
	if err := c.do(ctx, http.MethodPatch, apiPrefix+"/folders/"+url.PathEscape(serverID), nil, d, &out); err != nil {
		return FolderDTO{}, err
	}
	return out, nil
}

// DeleteFolder deletes a folder on the server.
func (c *Client) DeleteFolder(ctx context.Context, serverID string) error {
	return c.do(ctx, http.MethodDelete, apiPrefix+"/folders/"+url.PathEscape(serverID), nil, nil, nil)
}

// CreateAction pushes a new action.
func (c *Client) CreateAction(ctx context.Context, d ActionDTO) (ActionDTO, error) {
	var out ActionDTO
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/actions", nil, d, &out); err != nil {
		return ActionDTO{}, err
	}
	return out, nil
}

// UpdateAction pushes changed fields of an existing action.
func (c *Client) UpdateAction(ctx context.Context, serverID string, d ActionDTO) (ActionDTO, error) {
	var out ActionDTO
	if err := c.do(ctx, http.MethodPatch, apiPrefix+"/actions/"+url.PathEscape(serverID), nil, d, &out); err != nil {
		return ActionDTO{}, err
	}
	return out, nil
}

// DeleteAction deletes an action on the server.
func (c *Client) DeleteAction(ctx context.Context, serverID string) error {
	return c.do(ctx, http.MethodDelete, apiPrefix+"/actions/"+url.PathEscape(serverID), nil, nil, nil)
}

// RequestUploadURL asks for a presigned PUT slot for a spooled recording.
func (c *Client) RequestUploadURL(ctx context.Context, req UploadURLRequest) (UploadTarget, error) {
	var out UploadTarget
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/voice/upload-url", nil, req, &out); err != nil {
		return UploadTarget{}, err
	}
	return out, nil
}

func listPage[T any](ctx context.Context, c *Client, path string, q ListQuery) ([]T, bool, error) {
	var p page[T]
	if err := c.do(ctx, http.MethodGet, path, q.values(), nil, &p); err != nil {
		return nil, false, err
	}
	return p.Items, p.HasMore, nil
}

// do sends an authenticated request.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	return c.send(ctx, method, path, query, in, out, true)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, in, out any, authed bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode %s %s request: %w", method, path, err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	attempt := func(token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build %s %s: %w", method, path, err)
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return c.httpc.Do(req)
	}

	var token string
	if authed && c.tokens != nil {
		var err error
		if token, err = c.tokens.Token(ctx); err != nil {
			return err
		}
	}

	resp, err := attempt(token)
	if err != nil {
		return fmt.Errorf("failed to reach %s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized && authed && c.tokens != nil {
		// The token went stale between the expiry check and the server's
		// verdict. Refresh once and resend.
		drain(resp)
		c.tokens.Invalidate()
		if token, err = c.tokens.Token(ctx); err != nil {
			return err
		}
		c.log.Debug().Str("path", path).Msg("retrying after token refresh")
		if resp, err = attempt(token); err != nil {
			return fmt.Errorf("failed to reach %s %s: %w", method, path, err)
		}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.httpError(method, path, resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) httpError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		switch {
		case payload.Detail != "":
			msg = payload.Detail
		case payload.Error != "":
			msg = payload.Error
		}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Method: method, Path: path, Message: msg}
}

// drain finishes the body so the connection goes back to the pool.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
