package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadsync_backend/platform/config"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"

	"golang.org/x/time/rate"
)

const (
	pageLimit         = 250
	contactBatchLimit = 50
	maxErrorBody      = 4096
)

// ErrUnauthorized means the stored access token was rejected.
var ErrUnauthorized = errors.New("crm access token rejected")

// Client reads one account's CRM. Every request waits on a shared limiter and is
// bounded by the configured timeout.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *logger.Logger
}

// Factory builds per-connection clients with shared settings.
type Factory struct {
	cfg     config.CRMConfig
	http    *http.Client
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewFactory(cfg config.CRMConfig, m *metrics.Metrics, log *logger.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.GetCRMRequestTimeout()},
		metrics: m,
		log:     log,
	}
}

// ForConnection returns a client for the account's CRM.
func (f *Factory) ForConnection(conn Connection) *Client {
	rps := f.cfg.GetCRMRequestsPerSecond()
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		baseURL: strings.TrimRight(conn.BaseURL, "/"),
		token:   conn.AccessToken,
		http:    f.http,
		limiter: rate.NewLimiter(limit, 1),
		metrics: f.metrics,
		log:     f.log,
	}
}

// ListStages fetches the full pipeline catalog.
func (c *Client) ListStages(ctx context.Context) ([]Stage, error) {
	var resp pipelinesResponse
	found, err := c.get(ctx, "pipelines", "/api/v4/leads/pipelines", nil, &resp)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var stages []Stage
	for _, p := range resp.Embedded.Pipelines {
		for _, s := range p.Embedded.Statuses {
			stages = append(stages, Stage{
				PipelineID:   p.ID,
				PipelineName: p.Name,
				StatusID:     s.ID,
				StatusName:   s.Name,
				Color:        s.Color,
				SortOrder:    s.Sort,
			})
		}
	}
	return stages, nil
}

// ListLeads pages through leads (most recently updated first) up to maxLeads and
// attaches the phones of each lead's main contact.
func (c *Client) ListLeads(ctx context.Context, maxLeads int) ([]LeadSnapshot, error) {
	var (
		snapshots  []LeadSnapshot
		contactIDs []int64
		contactOf  = make(map[int64][]int)
	)

	for page := 1; maxLeads <= 0 || len(snapshots) < maxLeads; page++ {
		query := url.Values{}
		query.Set("with", "contacts")
		query.Set("page", strconv.Itoa(page))
		query.Set("limit", strconv.Itoa(pageLimit))
		query.Set("order[updated_at]", "desc")

		var resp leadsResponse
		found, err := c.get(ctx, "leads", "/api/v4/leads", query, &resp)
		if err != nil {
			return nil, err
		}
		if !found || len(resp.Embedded.Leads) == 0 {
			break
		}

		for _, l := range resp.Embedded.Leads {
			if maxLeads > 0 && len(snapshots) >= maxLeads {
				break
			}
			snapshots = append(snapshots, LeadSnapshot{
				ID:         l.ID,
				PipelineID: l.PipelineID,
				StatusID:   l.StatusID,
				Price:      l.Price,
				UpdatedAt:  unixTime(l.UpdatedAt),
			})
			if contactID, ok := l.mainContactID(); ok {
				if _, seen := contactOf[contactID]; !seen {
					contactIDs = append(contactIDs, contactID)
				}
				contactOf[contactID] = append(contactOf[contactID], len(snapshots)-1)
			}
		}

		if resp.Links.Next == nil {
			break
		}
	}

	phones, err := c.contactPhones(ctx, contactIDs)
	if err != nil {
		return nil, err
	}
	for contactID, idxs := range contactOf {
		for _, i := range idxs {
			snapshots[i].Phones = phones[contactID]
		}
	}
	return snapshots, nil
}

func (c *Client) contactPhones(ctx context.Context, ids []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(ids))
	for start := 0; start < len(ids); start += contactBatchLimit {
		end := min(start+contactBatchLimit, len(ids))
		query := url.Values{}
		query.Set("limit", strconv.Itoa(contactBatchLimit))
		for _, id := range ids[start:end] {
			query.Add("filter[id][]", strconv.FormatInt(id, 10))
		}

		var resp contactsResponse
		found, err := c.get(ctx, "contacts", "/api/v4/contacts", query, &resp)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		for _, contact := range resp.Embedded.Contacts {
			out[contact.ID] = contact.phones()
		}
	}
	return out, nil
}

// get performs a rate-limited GET. The CRM answers 204 for empty collections, reported as found=false.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.IncCRMRequest(endpoint, "error")
		return false, fmt.Errorf("crm %s request failed: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.metrics.IncCRMRequest(endpoint, strconv.Itoa(resp.StatusCode))
	c.log.Debug("crm request", "endpoint", endpoint, "status", resp.StatusCode, "latencyMs", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return false, ErrUnauthorized
	case resp.StatusCode >= http.StatusBadRequest:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return false, fmt.Errorf("crm %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode crm %s response: %w", endpoint, err)
	}
	return true, nil
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
