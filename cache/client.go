package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/internal/apierr"
	"github.com/ilastik/blockpipeline/internal/httpclient"
)

// Client is the remote counterpart to Store: the gateway and
// classifier workers talk to the cache service exclusively through
// this type, never by embedding a Store directly, since the cache is
// one shared cross-process backplane (spec §5).
type Client struct {
	http *httpclient.Client
}

// NewClient builds a Client bound to a cache service's base URL.
func NewClient(http *httpclient.Client) *Client {
	return &Client{http: http}
}

// Get mirrors Store.Get over HTTP. Unlike the in-process Store, a
// round-trip error here is always a RemoteFetch-class error; callers
// that need the atomic guarantee depend on the remote cache service
// providing it server-side (it wraps the same Store type).
func (c *Client) Get(ctx context.Context, id int64, insertPlaceholder bool) (GetResult, error) {
	path := fmt.Sprintf("/cache/%d", id)
	if insertPlaceholder {
		path += "?insert_placeholder=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.http.BaseURL()+path, nil)
	if err != nil {
		return GetResult{}, fmt.Errorf("cache client: building request: %w", err)
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return GetResult{}, apierr.RemoteFetch(fmt.Errorf("cache client: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return GetResult{}, nil
	case http.StatusAccepted:
		return GetResult{Placeholder: true}, nil
	case http.StatusOK:
		descriptor := resp.Header.Get(descriptorHeader)
		shape, dtype, derr := blockmodel.DecodeDescriptor(descriptor)
		if derr != nil {
			return GetResult{}, apierr.CacheProtocolViolation("cache client: malformed descriptor for block %d: %v", id, derr)
		}
		body, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return GetResult{}, apierr.RemoteFetch(rerr)
		}
		return GetResult{Found: true, Payload: blockmodel.Payload{Shape: shape, DType: dtype, Bytes: body}}, nil
	default:
		return GetResult{}, apierr.RemoteFetch(fmt.Errorf("cache client: unexpected status %d for block %d", resp.StatusCode, id))
	}
}

// Put writes payload for id to the remote cache.
func (c *Client) Put(ctx context.Context, id int64, payload blockmodel.Payload) error {
	path := fmt.Sprintf("/cache/%d", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.http.BaseURL()+path, bytes.NewReader(payload.Bytes))
	if err != nil {
		return fmt.Errorf("cache client: building request: %w", err)
	}
	req.Header.Set(descriptorHeader, blockmodel.EncodeDescriptor(payload.Shape, payload.DType))

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return apierr.RemoteFetch(fmt.Errorf("cache client: put block %d: %w", id, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apierr.RemoteFetch(fmt.Errorf("cache client: put block %d: status %d", id, resp.StatusCode))
	}
	return nil
}

// List returns the ids of payloads currently resident in the remote
// cache.
func (c *Client) List(ctx context.Context) ([]int64, error) {
	data, err := c.http.Get(ctx, "/cache")
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, perr := strconv.ParseInt(p, 10, 64)
		if perr != nil {
			return nil, apierr.CacheProtocolViolation("cache client: malformed id %q in list response", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
