package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fentz26/tesd/internal/controlplane"
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/scheduler"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the tesd API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListOptions narrows a task listing. Zero values are omitted.
type ListOptions struct {
	State      models.State
	Project    string
	NamePrefix string
	PageSize   int
	PageToken  string
	View       models.View
}

// ListTasks fetches one page of tasks, in BASIC view unless opts says
// otherwise.
func (c *Client) ListTasks(opts ListOptions) (*models.ListTasksResponse, error) {
	if opts.View == "" {
		opts.View = models.ViewBasic
	}
	q := url.Values{}
	q.Set("view", string(opts.View))
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Project != "" {
		q.Set("project", opts.Project)
	}
	if opts.NamePrefix != "" {
		q.Set("name_prefix", opts.NamePrefix)
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	if opts.PageToken != "" {
		q.Set("page_token", opts.PageToken)
	}

	var resp models.ListTasksResponse
	if err := c.get("/v1/tasks?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTask fetches a single task in FULL view
func (c *Client) GetTask(id string) (*models.Task, error) {
	return c.GetTaskView(id, models.ViewFull)
}

// GetTaskView fetches a single task in the given view
func (c *Client) GetTaskView(id string, view models.View) (*models.Task, error) {
	var task models.Task
	if err := c.get("/v1/tasks/"+url.PathEscape(id)+"?view="+url.QueryEscape(string(view)), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask submits a task and returns its id
func (c *Client) CreateTask(task *models.Task) (string, error) {
	body, err := c.post("/v1/tasks", task)
	if err != nil {
		return "", err
	}
	var resp models.CreateTaskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CancelTask requests cancellation of a task
func (c *Client) CancelTask(id string) error {
	_, err := c.post("/v1/tasks/"+url.PathEscape(id)+":cancel", struct{}{})
	return err
}

// ListEvents fetches the audit trail of a task
func (c *Client) ListEvents(id string) ([]models.Event, error) {
	var events []models.Event
	if err := c.get("/v1/tasks/"+url.PathEscape(id)+"/events", &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetWorkers fetches scheduler statistics
func (c *Client) GetWorkers() (*scheduler.Stats, error) {
	var stats scheduler.Stats
	if err := c.get("/workers", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var health controlplane.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}
	return resp.StatusCode == http.StatusOK && health.OK, nil
}

func (c *Client) get(path string, out any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apiError(resp)
	}
	return io.ReadAll(resp.Body)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var e controlplane.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
}
