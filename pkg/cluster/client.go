// Package cluster talks to the target OpenSearch cluster: reconfiguring its
// topology through the external installer, polling health until convergence
// and clearing workload indices between runs.
package cluster

import (
	"context"
	"encoding/json"
	"io"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/pkg/errors"
)

// Health is the subset of the _cluster/health response the sweep cares about.
type Health struct {
	Status                   string `json:"status"`
	NumberOfNodes            int    `json:"number_of_nodes"`
	UnassignedShards         int    `json:"unassigned_shards"`
	DiscoveredClusterManager bool   `json:"discovered_cluster_manager"`
}

// Client wraps the official OpenSearch client with the few operations the
// sweep needs. The underlying client is safe for concurrent use, so one
// Client instance is shared by the health gate and the metrics sampler.
type Client struct {
	os *opensearch.Client
}

// NewClient returns a Client talking to the given node addresses.
func NewClient(addresses []string, username, password string) (*Client, error) {
	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses:  addresses,
		Username:   username,
		Password:   password,
		MaxRetries: 3,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating OpenSearch client failed")
	}

	return &Client{os: osClient}, nil
}

// Ping verifies that the target cluster answers at all. Used as the
// preflight check before the first configuration is attempted.
func (c *Client) Ping(ctx context.Context) error {
	req := opensearchapi.PingRequest{}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return errors.Wrap(err, "pinging cluster failed")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("cluster ping returned %s", res.Status())
	}
	return nil
}

// Health returns the current cluster health. Callers never cache the result;
// every decision re-polls.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req := opensearchapi.ClusterHealthRequest{}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return Health{}, errors.Wrap(err, "cluster health request failed")
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return Health{}, errors.Errorf("cluster health returned %s: %s", res.Status(), string(body))
	}

	var health Health
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return Health{}, errors.Wrap(err, "decoding cluster health failed")
	}
	return health, nil
}

// Indices lists index names matching the pattern.
func (c *Client) Indices(ctx context.Context, pattern string) ([]string, error) {
	req := opensearchapi.CatIndicesRequest{
		Index:  []string{pattern},
		Format: "json",
	}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, errors.Wrapf(err, "cat indices for pattern %q failed", pattern)
	}
	defer res.Body.Close()

	// A pattern with no matches yields 404 on some versions; that is simply
	// an empty result.
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, errors.Errorf("cat indices returned %s", res.Status())
	}

	var rows []struct {
		Index string `json:"index"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, errors.Wrap(err, "decoding cat indices failed")
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Index)
	}
	return names, nil
}

// DeleteIndices deletes all indices matching the pattern. A pattern matching
// nothing is a no-op, not an error.
func (c *Client) DeleteIndices(ctx context.Context, pattern string) error {
	req := opensearchapi.IndicesDeleteRequest{
		Index: []string{pattern},
	}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return errors.Wrapf(err, "deleting indices %q failed", pattern)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return nil
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return errors.Errorf("deleting indices %q returned %s: %s", pattern, res.Status(), string(body))
	}
	return nil
}

// NodesStats returns the raw _nodes/stats document for the requested metric
// groups. The sampler stores it verbatim.
func (c *Client) NodesStats(ctx context.Context, metrics []string) (json.RawMessage, error) {
	req := opensearchapi.NodesStatsRequest{Metric: metrics}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, errors.Wrap(err, "nodes stats request failed")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.Errorf("nodes stats returned %s", res.Status())
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading nodes stats failed")
	}
	return json.RawMessage(body), nil
}

// ClusterStats returns the raw _cluster/stats document.
func (c *Client) ClusterStats(ctx context.Context) (json.RawMessage, error) {
	req := opensearchapi.ClusterStatsRequest{}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, errors.Wrap(err, "cluster stats request failed")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.Errorf("cluster stats returned %s", res.Status())
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading cluster stats failed")
	}
	return json.RawMessage(body), nil
}

// IndexStats returns the raw stats document for indices matching pattern.
func (c *Client) IndexStats(ctx context.Context, pattern string) (json.RawMessage, error) {
	req := opensearchapi.IndicesStatsRequest{Index: []string{pattern}}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, errors.Wrap(err, "index stats request failed")
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return json.RawMessage("{}"), nil
	}
	if res.IsError() {
		return nil, errors.Errorf("index stats returned %s", res.Status())
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading index stats failed")
	}
	return json.RawMessage(body), nil
}
