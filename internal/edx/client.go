package edx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/edx-tools/edx-crawler/internal/fetch"
)

// Client drives an authenticated Open edX session.
type Client struct {
	fetcher *fetch.Fetcher
	baseURL string
	logger  *zap.Logger
	headers map[string]string
}

// NewClient constructs a Client for the platform rooted at baseURL.
func NewClient(fetcher *fetch.Fetcher, baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// BaseURL returns the platform root.
func (c *Client) BaseURL() string { return c.baseURL }

// LoginURL returns the AJAX login endpoint.
func (c *Client) LoginURL() string { return c.baseURL + "/login_ajax" }

// DashboardURL returns the learner dashboard.
func (c *Client) DashboardURL() string { return c.baseURL + "/dashboard" }

// Headers returns a copy of the session request headers. BuildHeaders must be
// called first.
func (c *Client) Headers() map[string]string {
	out := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		out[k] = v
	}
	return out
}

// BuildHeaders primes the session cookie jar against the login endpoint and
// assembles the headers used by all subsequent requests, including the CSRF
// token the server planted in the jar.
func (c *Client) BuildHeaders(ctx context.Context) error {
	c.logger.Info("Building session headers", zap.String("url", c.LoginURL()))
	if _, err := c.fetcher.Get(ctx, c.LoginURL(), nil); err != nil {
		return fmt.Errorf("prime session: %w", err)
	}

	token := ""
	for _, cookie := range c.fetcher.Cookies(c.LoginURL()) {
		if cookie.Name == "csrftoken" {
			token = cookie.Value
			break
		}
	}
	if token == "" {
		c.logger.Warn("Did not find a CSRF token cookie")
	}

	c.headers = map[string]string{
		"Accept":           "application/json, text/javascript, */*; q=0.01",
		"Content-Type":     "application/x-www-form-urlencoded;charset=utf-8",
		"Referer":          c.LoginURL(),
		"X-Requested-With": "XMLHttpRequest",
		"X-CSRFToken":      token,
	}
	return nil
}

type loginResponse struct {
	Success bool   `json:"success"`
	Value   string `json:"value"`
}

// Login posts the learner credentials to the AJAX login endpoint. A response
// without success=true is an error carrying the server-provided message.
func (c *Client) Login(ctx context.Context, username, password string) error {
	if c.headers == nil {
		if err := c.BuildHeaders(ctx); err != nil {
			return err
		}
	}
	c.logger.Info("Logging into Open edX site", zap.String("url", c.LoginURL()))

	form := map[string]string{
		"email":    username,
		"password": password,
		"remember": "false",
	}
	page, err := c.fetcher.PostForm(ctx, c.LoginURL(), form, c.headers)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}

	var resp loginResponse
	if err := json.Unmarshal(page.Body, &resp); err != nil {
		return fmt.Errorf("parse login response: %w", err)
	}
	if !resp.Success {
		msg := resp.Value
		if msg == "" {
			msg = "wrong email or password"
		}
		return fmt.Errorf("login rejected: %s", msg)
	}
	return nil
}

// Courses lists the enrolled courses from the dashboard.
func (c *Client) Courses(ctx context.Context) ([]Course, error) {
	c.logger.Info("Extracting course information from dashboard")
	page, err := c.fetcher.Get(ctx, c.DashboardURL(), c.headers)
	if err != nil {
		return nil, fmt.Errorf("fetch dashboard: %w", err)
	}
	courses, err := ExtractCourses(page.Body, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("extract courses: %w", err)
	}
	return courses, nil
}

// Sections fetches a courseware page and extracts the section tree.
func (c *Client) Sections(ctx context.Context, coursewareURL string) ([]Section, error) {
	c.logger.Debug("Extracting sections", zap.String("url", coursewareURL))
	page, err := c.fetcher.Get(ctx, coursewareURL, c.headers)
	if err != nil {
		return nil, fmt.Errorf("fetch courseware: %w", err)
	}
	sections, err := ExtractSections(page.Body, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("extract sections: %w", err)
	}
	return sections, nil
}

// SubSectionPage fetches one subsection page body.
func (c *Client) SubSectionPage(ctx context.Context, url string) (fetch.Page, error) {
	return c.fetcher.Get(ctx, url, c.headers)
}

// Transcript downloads one timed-text track.
func (c *Client) Transcript(ctx context.Context, url string) (Transcript, error) {
	var t Transcript
	if err := c.fetcher.GetJSON(ctx, url, c.headers, &t); err != nil {
		return Transcript{}, err
	}
	return t, nil
}
