package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ilastik/blockpipeline/internal/apierr"
	"github.com/ilastik/blockpipeline/internal/httpclient"
)

// Client is the remote counterpart to Store, used by every service
// other than the registry process itself to read configuration and
// self-register.
type Client struct {
	http *httpclient.Client
}

// NewClient builds a Client bound to a registry service's base URL.
func NewClient(http *httpclient.Client) *Client {
	return &Client{http: http}
}

// Get returns the scalar value for key.
func (c *Client) Get(ctx context.Context, key Key) (string, bool, error) {
	var resp getResponse
	if err := c.getJSON(ctx, key, &resp); err != nil {
		return "", false, err
	}
	return resp.Scalar, resp.Found, nil
}

// GetList returns the sequence of values for a list-valued key.
func (c *Client) GetList(ctx context.Context, key Key) ([]string, error) {
	var resp getResponse
	if err := c.getJSON(ctx, key, &resp); err != nil {
		return nil, err
	}
	return resp.List, nil
}

// GetBytes returns the raw byte-blob value for key.
func (c *Client) GetBytes(ctx context.Context, key Key) ([]byte, bool, error) {
	var resp getResponse
	if err := c.getJSON(ctx, key, &resp); err != nil {
		return nil, false, err
	}
	return resp.Bytes, resp.Found, nil
}

func (c *Client) getJSON(ctx context.Context, key Key, out *getResponse) error {
	data, err := c.http.Get(ctx, "/registry/"+string(key))
	if err != nil {
		return err
	}
	var env apierr.Envelope
	env.Result = out
	if err := json.Unmarshal(data, &env); err != nil {
		return apierr.CacheProtocolViolation("registry client: malformed response for %q: %v", key, err)
	}
	if !env.Success {
		msg := "unknown error"
		if env.Error != nil {
			msg = env.Error.Message
		}
		return apierr.Validation("registry: %s", msg)
	}
	return nil
}

// Set writes value for key: a list-valued key appends, every other
// key replaces.
func (c *Client) Set(ctx context.Context, key Key, value string) error {
	body, err := json.Marshal(setRequest{Value: value})
	if err != nil {
		return fmt.Errorf("registry client: encoding request: %w", err)
	}
	_, err = c.http.Post(ctx, "/registry/"+string(key), body)
	return err
}

// SetBytes writes a raw byte-blob value for key.
func (c *Client) SetBytes(ctx context.Context, key Key, value []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.http.BaseURL()+"/registry/"+string(key), bytes.NewReader(value))
	if err != nil {
		return fmt.Errorf("registry client: building request: %w", err)
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return apierr.RemoteFetch(fmt.Errorf("registry client: set bytes %q: %w", key, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apierr.RemoteFetch(fmt.Errorf("registry client: set bytes %q: status %d", key, resp.StatusCode))
	}
	return nil
}

// Remove deletes the first occurrence of value from the worker-IP
// list.
func (c *Client) Remove(ctx context.Context, key Key, value string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.http.BaseURL()+"/registry/"+string(key)+"?value="+value, nil)
	if err != nil {
		return fmt.Errorf("registry client: building request: %w", err)
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return apierr.RemoteFetch(fmt.Errorf("registry client: remove %q: %w", key, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apierr.RemoteFetch(fmt.Errorf("registry client: remove %q: status %d", key, resp.StatusCode))
	}
	return nil
}

// RegisterWorker self-registers a classifier worker under its
// endpoint IP (spec §4.9: "Workers self-register under their endpoint
// IP on startup").
func (c *Client) RegisterWorker(ctx context.Context, endpoint string) error {
	return c.Set(ctx, PixelClassificationWorkerIPs, endpoint)
}

// DeregisterWorker removes a worker's endpoint on normal shutdown.
func (c *Client) DeregisterWorker(ctx context.Context, endpoint string) error {
	return c.Remove(ctx, PixelClassificationWorkerIPs, endpoint)
}
