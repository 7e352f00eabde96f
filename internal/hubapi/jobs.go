package hubapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

// ErrNotFound marks a 404 from the hub.
var ErrNotFound = errors.New("hub resource not found")

// CrawlResult summarizes one listing sweep.
type CrawlResult struct {
	Models   int    `json:"models"`
	NewestID string `json:"newest_id,omitempty"`
}

func (r CrawlResult) String() string {
	return fmt.Sprintf("%d models, newest %s", r.Models, r.NewestID)
}

// CrawlJob lists recently modified models as an orchestrator task.
type CrawlJob struct {
	client   *Client
	pageSize int
}

// NewCrawlJob creates a CrawlJob pulling up to pageSize models per run.
func NewCrawlJob(client *Client, pageSize int) *CrawlJob {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &CrawlJob{client: client, pageSize: pageSize}
}

// Execute implements agent.Job.
func (j *CrawlJob) Execute(ctx context.Context) (any, error) {
	models, err := j.client.ListModels(ctx, ListParams{Limit: j.pageSize})
	if err != nil {
		return nil, fmt.Errorf("crawl hub models: %w", err)
	}
	result := CrawlResult{Models: len(models)}
	if len(models) > 0 {
		result.NewestID = models[0].ID
	}
	return result, nil
}

// LookupJob fetches a single model and fails permanently when the
// model does not exist, since retrying a 404 cannot help.
type LookupJob struct {
	client *Client
	id     string
}

// NewLookupJob creates a LookupJob for one model repo ID.
func NewLookupJob(client *Client, id string) *LookupJob {
	return &LookupJob{client: client, id: id}
}

// Execute implements agent.Job.
func (j *LookupJob) Execute(ctx context.Context) (any, error) {
	model, err := j.client.GetModel(ctx, j.id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, agent.Fatal(err)
		}
		return nil, err
	}
	return model, nil
}
