package site

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// HTTPConfig holds the settings for the HTTP adapter.
type HTTPConfig struct {
	BaseURL   string
	Username  string
	Password  string
	UserAgent string
	Timeout   time.Duration
}

// httpClient implements Client against the service's JSON API.
type httpClient struct {
	cfg  HTTPConfig
	http *http.Client
}

// NewHTTPClient returns a Client backed by the service's JSON API.
func NewHTTPClient(cfg HTTPConfig) Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	// Session cookie from Login is carried on subsequent calls.
	jar, _ := cookiejar.New(nil)
	return &httpClient{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
	}
}

func (c *httpClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (c *httpClient) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *httpClient) post(ctx context.Context, path string, body interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *httpClient) Login(ctx context.Context) error {
	return c.post(ctx, "/api/login", map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
}

func (c *httpClient) ListQueue(ctx context.Context, communities []string, queue Queue) ([]*Item, error) {
	q := url.Values{}
	q.Set("communities", strings.Join(communities, "+"))
	q.Set("queue", string(queue))
	var items []*Item
	if err := c.get(ctx, "/api/queue?"+q.Encode(), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *httpClient) User(ctx context.Context, name string) (*User, error) {
	var u User
	if err := c.get(ctx, "/api/user/"+url.PathEscape(name), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *httpClient) UserOverview(ctx context.Context, name string) error {
	return c.get(ctx, "/api/user/"+url.PathEscape(name)+"/overview?limit=1", nil)
}

func (c *httpClient) Remove(ctx context.Context, fullname string, spam bool) error {
	return c.post(ctx, "/api/items/"+url.PathEscape(fullname)+"/remove", map[string]bool{"spam": spam})
}

func (c *httpClient) Approve(ctx context.Context, fullname string) error {
	return c.post(ctx, "/api/items/"+url.PathEscape(fullname)+"/approve", nil)
}

func (c *httpClient) Report(ctx context.Context, fullname, reason string) error {
	return c.post(ctx, "/api/items/"+url.PathEscape(fullname)+"/report", map[string]string{"reason": reason})
}

func (c *httpClient) SetThreadOption(ctx context.Context, fullname, option string) error {
	return c.post(ctx, "/api/items/"+url.PathEscape(fullname)+"/set", map[string]string{"option": option})
}

func (c *httpClient) SetLinkFlair(ctx context.Context, fullname, text, cssClass string) error {
	return c.post(ctx, "/api/items/"+url.PathEscape(fullname)+"/flair",
		map[string]string{"text": text, "css_class": cssClass})
}

func (c *httpClient) SetUserFlair(ctx context.Context, community, user, text, cssClass string) error {
	return c.post(ctx, "/api/communities/"+url.PathEscape(community)+"/flair",
		map[string]string{"user": user, "text": text, "css_class": cssClass})
}

func (c *httpClient) Comment(ctx context.Context, parentFullname, text string) (string, error) {
	var resp struct {
		Fullname string `json:"fullname"`
	}
	err := c.do(ctx, http.MethodPost, "/api/items/"+url.PathEscape(parentFullname)+"/comment",
		map[string]string{"text": text}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Fullname, nil
}

func (c *httpClient) Distinguish(ctx context.Context, commentFullname string) error {
	return c.post(ctx, "/api/items/"+url.PathEscape(commentFullname)+"/distinguish", nil)
}

func (c *httpClient) SendMessage(ctx context.Context, to, subject, body string) error {
	return c.post(ctx, "/api/message", map[string]string{
		"to": to, "subject": subject, "body": body,
	})
}

func (c *httpClient) WikiPage(ctx context.Context, community, page string) (string, error) {
	var resp struct {
		Content string `json:"content_md"`
	}
	err := c.get(ctx, "/api/communities/"+url.PathEscape(community)+"/wiki/"+url.PathEscape(page), &resp)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *httpClient) Moderators(ctx context.Context, community string) ([]string, error) {
	var names []string
	err := c.get(ctx, "/api/communities/"+url.PathEscape(community)+"/moderators", &names)
	return names, err
}

func (c *httpClient) Contributors(ctx context.Context, community string) ([]string, error) {
	var names []string
	err := c.get(ctx, "/api/communities/"+url.PathEscape(community)+"/contributors", &names)
	return names, err
}

func (c *httpClient) ModeratedCommunities(ctx context.Context) ([]string, error) {
	var names []string
	err := c.get(ctx, "/api/me/communities", &names)
	return names, err
}

func (c *httpClient) Inbox(ctx context.Context) ([]*Message, error) {
	var msgs []*Message
	if err := c.get(ctx, "/api/me/inbox", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *httpClient) AcceptInvite(ctx context.Context, community string) error {
	return c.post(ctx, "/api/communities/"+url.PathEscape(community)+"/accept_invite", nil)
}
