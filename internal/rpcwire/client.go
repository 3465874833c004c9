package rpcwire

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/dreamware/euler/internal/dagexec"
	"github.com/dreamware/euler/internal/tensor"
)

// httpClient is shared by every Client so connection pooling spans all
// shards a process talks to. The timeout is a transport-level backstop;
// per-request deadlines travel in the context.
var httpClient = &http.Client{Timeout: 60 * time.Second}

// Client is one shard's RPC handle: a base URL ("http://host:port") plus
// typed wrappers over the /rpc/* methods. Client is stateless and safe for
// concurrent use.
type Client struct {
	BaseURL string
}

// NewClient constructs a Client for the shard at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL}
}

// postJSON sends body to method's path and decodes the JSON response into
// out. A non-2xx response is decoded as an ErrorResponse and surfaced as
// the eulererr.Status the server originally raised.
func (c *Client) postJSON(ctx context.Context, method string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rpc/"+method, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var er ErrorResponse
		raw, _ := io.ReadAll(resp.Body)
		if jerr := json.Unmarshal(raw, &er); jerr == nil && er.Message != "" {
			return ErrorFromHTTP(resp.StatusCode, er.Message)
		}
		return ErrorFromHTTP(resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Ping checks liveness and returns the shard's self-reported index.
func (c *Client) Ping(ctx context.Context) (PingResponse, error) {
	var out PingResponse
	err := c.postJSON(ctx, "Ping", struct{}{}, &out)
	return out, err
}

// Execute runs dag remotely with the given request inputs and returns the
// requested output tensors keyed by name.
func (c *Client) Execute(ctx context.Context, dag dagexec.DAG, inputs map[string]*tensor.Tensor, outputs []string) (map[string]*tensor.Tensor, error) {
	req := ExecuteRequest{DAG: DAGToWire(dag), Outputs: outputs}
	for _, t := range inputs {
		req.Inputs = append(req.Inputs, EncodeTensor(t))
	}
	var resp ExecuteResponse
	if err := c.postJSON(ctx, "Execute", req, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]*tensor.Tensor, len(resp.Tensors))
	for _, tw := range resp.Tensors {
		t, err := DecodeTensor(tw)
		if err != nil {
			return nil, err
		}
		out[tw.Name] = t
	}
	return out, nil
}

// SampleNode invokes the legacy fine-grained method of the same name.
func (c *Client) SampleNode(ctx context.Context, req SampleNodeRequest) (SampleNodeResponse, error) {
	var out SampleNodeResponse
	err := c.postJSON(ctx, "SampleNode", req, &out)
	return out, err
}

// SampleEdge invokes the legacy fine-grained method of the same name.
func (c *Client) SampleEdge(ctx context.Context, req SampleEdgeRequest) (SampleEdgeResponse, error) {
	var out SampleEdgeResponse
	err := c.postJSON(ctx, "SampleEdge", req, &out)
	return out, err
}

// GetNodeType invokes the legacy fine-grained method of the same name.
func (c *Client) GetNodeType(ctx context.Context, req GetNodeTypeRequest) (GetNodeTypeResponse, error) {
	var out GetNodeTypeResponse
	err := c.postJSON(ctx, "GetNodeType", req, &out)
	return out, err
}

// GetNodeUInt64Feature invokes the legacy fine-grained method of the same
// name; one result per requested feature name.
func (c *Client) GetNodeUInt64Feature(ctx context.Context, req FeatureRequest) ([]UInt64FeatureResult, error) {
	var out []UInt64FeatureResult
	err := c.postJSON(ctx, "GetNodeUInt64Feature", req, &out)
	return out, err
}

// GetEdgeUInt64Feature invokes the legacy fine-grained method of the same
// name.
func (c *Client) GetEdgeUInt64Feature(ctx context.Context, req FeatureRequest) ([]UInt64FeatureResult, error) {
	var out []UInt64FeatureResult
	err := c.postJSON(ctx, "GetEdgeUInt64Feature", req, &out)
	return out, err
}

// GetNodeFloat32Feature invokes the legacy fine-grained method of the same
// name.
func (c *Client) GetNodeFloat32Feature(ctx context.Context, req FeatureRequest) ([]FloatFeatureResult, error) {
	var out []FloatFeatureResult
	err := c.postJSON(ctx, "GetNodeFloat32Feature", req, &out)
	return out, err
}

// GetFullNeighbor invokes the legacy fine-grained method of the same name.
func (c *Client) GetFullNeighbor(ctx context.Context, req NeighborRequest) (NeighborResponse, error) {
	var out NeighborResponse
	err := c.postJSON(ctx, "GetFullNeighbor", req, &out)
	return out, err
}

// GetSortedNeighbor invokes the legacy fine-grained method of the same name.
func (c *Client) GetSortedNeighbor(ctx context.Context, req NeighborRequest) (NeighborResponse, error) {
	var out NeighborResponse
	err := c.postJSON(ctx, "GetSortedNeighbor", req, &out)
	return out, err
}

// GetTopKNeighbor invokes the legacy fine-grained method of the same name.
func (c *Client) GetTopKNeighbor(ctx context.Context, req NeighborRequest) (NeighborResponse, error) {
	var out NeighborResponse
	err := c.postJSON(ctx, "GetTopKNeighbor", req, &out)
	return out, err
}

// SampleNeighbor invokes the legacy fine-grained method of the same name.
func (c *Client) SampleNeighbor(ctx context.Context, req NeighborRequest) (NeighborResponse, error) {
	var out NeighborResponse
	err := c.postJSON(ctx, "SampleNeighbor", req, &out)
	return out, err
}
