package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wb-go/wbf/zlog"
)

// ErrLogin is returned when the API accepted the request but issued no token.
var ErrLogin = errors.New("can't login")

// APIError is an error response of the control-plane API.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("api error %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// UploadItem is one captured page of a custom snapshot.
type UploadItem struct {
	URI        string
	Breakpoint int
	Screenshot string // local file paths
	HTML       string
	JSConsole  string
}

// Client talks to the control-plane API on behalf of one project.
type Client struct {
	baseURL       string
	apiKey        string
	projectID     string
	token         string
	client        *http.Client
	uploadTimeout time.Duration
}

// NewClient creates a new Client from the CLI configuration.
func NewClient(cfg *Config) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.APIURL, "/"),
		apiKey:        cfg.APIKey,
		projectID:     cfg.ProjectID,
		client:        &http.Client{Timeout: cfg.RequestTimeout},
		uploadTimeout: cfg.UploadTimeout,
	}
}

// Login exchanges the API key for a bearer token used by later calls.
func (c *Client) Login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"key": c.apiKey})
	if err != nil {
		return "", fmt.Errorf("login: failed to marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/key", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res struct {
		Token string `json:"token"`
	}
	if err := c.do(c.client, req, &res); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if res.Token == "" {
		return "", ErrLogin
	}

	c.token = res.Token
	zlog.Logger.Debug().Msg("logged in to the control plane")

	return res.Token, nil
}

// GetProject fetches the project settings.
func (c *Client) GetProject(ctx context.Context) (Project, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/projects/"+c.projectID, nil)
	if err != nil {
		return Project{}, fmt.Errorf("get project: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	var p Project
	if err := c.do(c.client, req, &p); err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	if p.Name == "" {
		return Project{}, errors.New("get project: can't get project")
	}

	return p, nil
}

// UploadSnapshot creates a custom snapshot from the captured pages and
// returns its ID.
func (c *Client) UploadSnapshot(ctx context.Context, name string, items []UploadItem) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("snapshotName", name); err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	for i, item := range items {
		fields := map[string]string{
			"urls":        item.URI,
			"breakpoints": strconv.Itoa(item.Breakpoint),
		}
		for field, value := range fields {
			if err := w.WriteField(fmt.Sprintf("%s[%d]", field, i), value); err != nil {
				return "", fmt.Errorf("upload snapshot: %w", err)
			}
		}

		files := map[string]string{
			"files":          item.Screenshot,
			"htmlFiles":      item.HTML,
			"jsConsoleFiles": item.JSConsole,
		}
		for field, path := range files {
			if err := attach(w, fmt.Sprintf("%s[%d]", field, i), path); err != nil {
				return "", fmt.Errorf("upload snapshot: %w", err)
			}
		}
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	url := c.baseURL + "/projects/" + c.projectID + "/create-custom-snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("upload snapshot: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	zlog.Logger.Debug().Int("files", len(items)).Msg("sending snapshot")

	upload := &http.Client{Timeout: c.uploadTimeout}

	var id json.RawMessage
	if err := c.do(upload, req, &id); err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	return strings.Trim(string(id), `"`), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// do sends the request and decodes a 200 JSON response into v.
func (c *Client) do(client *http.Client, req *http.Request, v any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return apiErr
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// attach adds the file at path as a form file. A missing path is skipped.
func attach(w *multipart.Writer, field, path string) error {
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to copy %s: %w", path, err)
	}

	return nil
}
