package rtm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/mkoskin/inflow/internal/capture"
	"github.com/mkoskin/inflow/internal/resilience"
)

// ServiceName identifies the task provider in breaker state and logs.
const ServiceName = "rtm_api"

const (
	apiBaseURL  = "https://api.rememberthemilk.com/services/rest/"
	authBaseURL = "https://www.rememberthemilk.com/services/auth/"
)

// APIError is a stat="fail" response from the provider.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rtm error %s: %s", e.Code, e.Msg)
}

// IsAuthError reports whether the error is a provider-side auth failure
// (invalid token, invalid API key). These require user re-authentication.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !asAPIError(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case "98", "99", "100":
		return true
	}
	return false
}

// TaskRef addresses one task in the provider's three-level id scheme.
type TaskRef struct {
	ListID   string
	SeriesID string
	TaskID   string
}

// TaskEntry is one task as listed by the provider.
type TaskEntry struct {
	Ref       TaskRef
	Name      string
	CreatedAt time.Time
	Completed bool
	Tags      []string
}

// Client is a signed REST client for the Remember The Milk API.
// Responses are XML; every request carries an md5 signature over the
// sorted parameters.
type Client struct {
	apiKey string
	secret string
	base   string
	http   *http.Client
	caller *resilience.Caller
	log    *slog.Logger
}

// Options configures a Client.
type Options struct {
	APIKey       string
	SharedSecret string
	BaseURL      string
	Timeout      time.Duration
	Policy       resilience.Policy
}

// New creates a provider client. The breaker registry supplies the
// circuit protecting the endpoint.
func New(opts Options, reg *resilience.Registry, log *slog.Logger) *Client {
	base := opts.BaseURL
	if base == "" {
		base = apiBaseURL
	}
	return &Client{
		apiKey: opts.APIKey,
		secret: opts.SharedSecret,
		base:   base,
		http:   &http.Client{Timeout: opts.Timeout},
		caller: &resilience.Caller{
			Service: ServiceName,
			Breaker: reg.Get(ServiceName),
			Policy:  opts.Policy,
			Log:     log,
		},
		log: log,
	}
}

// Configured reports whether API credentials are present. The auth token
// lives in the database, not here.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.secret != ""
}

// sign computes the request signature: md5 over the shared secret
// followed by every key+value pair sorted by key.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := md5.New()
	io.WriteString(h, c.secret)
	for _, k := range keys {
		io.WriteString(h, k)
		io.WriteString(h, params[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) call(ctx context.Context, method string, params map[string]string) (*rsp, error) {
	full := make(map[string]string, len(params)+2)
	for k, v := range params {
		full[k] = v
	}
	full["method"] = method
	full["api_key"] = c.apiKey
	full["api_sig"] = c.sign(full)

	q := url.Values{}
	for k, v := range full {
		q.Set(k, v)
	}

	var out *rsp
	err := c.caller.Do(ctx, method, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"?"+q.Encode(), nil)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &resilience.HTTPError{Status: resp.StatusCode, Body: truncate(string(data), 200)}
		}

		var parsed rsp
		if err := xml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("decode %s response: %w", method, err)
		}
		out = &parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Stat != "ok" {
		if out.Err != nil {
			return nil, &APIError{Code: out.Err.Code, Msg: out.Err.Msg}
		}
		return nil, fmt.Errorf("%s failed with stat %q", method, out.Stat)
	}
	return out, nil
}

// GetFrob starts the desktop auth flow.
func (c *Client) GetFrob(ctx context.Context) (string, error) {
	out, err := c.call(ctx, "rtm.auth.getFrob", nil)
	if err != nil {
		return "", err
	}
	if out.Frob == "" {
		return "", fmt.Errorf("empty frob in auth response")
	}
	return out.Frob, nil
}

// AuthURL builds the user-facing authorization URL for a frob.
func (c *Client) AuthURL(frob string) string {
	params := map[string]string{
		"api_key": c.apiKey,
		"perms":   "delete",
		"frob":    frob,
	}
	params["api_sig"] = c.sign(params)

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return authBaseURL + "?" + q.Encode()
}

// GetToken exchanges an authorized frob for an auth token.
func (c *Client) GetToken(ctx context.Context, frob string) (*capture.ProviderAuth, error) {
	out, err := c.call(ctx, "rtm.auth.getToken", map[string]string{"frob": frob})
	if err != nil {
		return nil, err
	}
	if out.Auth == nil || out.Auth.Token == "" {
		return nil, fmt.Errorf("missing token in auth response")
	}
	return &capture.ProviderAuth{
		Token:    out.Auth.Token,
		Perms:    out.Auth.Perms,
		Username: out.Auth.User.Username,
		UserID:   out.Auth.User.ID,
		Valid:    true,
	}, nil
}

// CheckToken verifies a stored token and returns the refreshed auth info.
func (c *Client) CheckToken(ctx context.Context, token string) (*capture.ProviderAuth, error) {
	out, err := c.call(ctx, "rtm.auth.checkToken", map[string]string{"auth_token": token})
	if err != nil {
		return nil, err
	}
	if out.Auth == nil {
		return nil, fmt.Errorf("missing auth element in checkToken response")
	}
	return &capture.ProviderAuth{
		Token:    out.Auth.Token,
		Perms:    out.Auth.Perms,
		Username: out.Auth.User.Username,
		UserID:   out.Auth.User.ID,
		Valid:    true,
	}, nil
}

// CreateTimeline opens a mutation timeline. Every write call needs one.
func (c *Client) CreateTimeline(ctx context.Context, token string) (string, error) {
	out, err := c.call(ctx, "rtm.timelines.create", map[string]string{"auth_token": token})
	if err != nil {
		return "", err
	}
	if out.Timeline == "" {
		return "", fmt.Errorf("empty timeline in response")
	}
	return out.Timeline, nil
}

// AddTask creates a task via Smart Add parsing and returns its ids.
func (c *Client) AddTask(ctx context.Context, token, timeline, name string) (TaskRef, error) {
	out, err := c.call(ctx, "rtm.tasks.add", map[string]string{
		"auth_token": token,
		"timeline":   timeline,
		"name":       name,
		"parse":      "1",
	})
	if err != nil {
		return TaskRef{}, err
	}

	if out.List == nil || len(out.List.Series) == 0 || len(out.List.Series[0].Tasks) == 0 {
		return TaskRef{}, fmt.Errorf("task add response missing ids")
	}
	series := out.List.Series[0]
	return TaskRef{
		ListID:   out.List.ID,
		SeriesID: series.ID,
		TaskID:   series.Tasks[0].ID,
	}, nil
}

// ListTasks fetches tasks, optionally scoped to a list id or a search
// filter (provider query syntax, e.g. `tag:highlight-today`).
func (c *Client) ListTasks(ctx context.Context, token, listID, filter string) ([]TaskEntry, error) {
	params := map[string]string{"auth_token": token}
	if listID != "" {
		params["list_id"] = listID
	}
	if filter != "" {
		params["filter"] = filter
	}

	out, err := c.call(ctx, "rtm.tasks.getList", params)
	if err != nil {
		return nil, err
	}
	if out.Tasks == nil {
		return nil, nil
	}

	var entries []TaskEntry
	for _, list := range out.Tasks.Lists {
		for _, series := range list.Series {
			for _, task := range series.Tasks {
				entries = append(entries, TaskEntry{
					Ref: TaskRef{
						ListID:   list.ID,
						SeriesID: series.ID,
						TaskID:   task.ID,
					},
					Name:      series.Name,
					CreatedAt: parseRTMTime(series.Created),
					Completed: task.Completed != "",
					Tags:      series.TagList.Tags,
				})
			}
		}
	}
	return entries, nil
}

// AddTag adds a single tag to a task without touching its other tags.
func (c *Client) AddTag(ctx context.Context, token, timeline string, ref TaskRef, tag string) error {
	_, err := c.call(ctx, "rtm.tasks.addTags", map[string]string{
		"auth_token":    token,
		"timeline":      timeline,
		"list_id":       ref.ListID,
		"taskseries_id": ref.SeriesID,
		"task_id":       ref.TaskID,
		"tags":          tag,
	})
	return err
}

// RemoveTag removes a single tag from a task.
func (c *Client) RemoveTag(ctx context.Context, token, timeline string, ref TaskRef, tag string) error {
	_, err := c.call(ctx, "rtm.tasks.removeTags", map[string]string{
		"auth_token":    token,
		"timeline":      timeline,
		"list_id":       ref.ListID,
		"taskseries_id": ref.SeriesID,
		"task_id":       ref.TaskID,
		"tags":          tag,
	})
	return err
}

func parseRTMTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
