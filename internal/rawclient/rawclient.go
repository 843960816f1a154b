// Package rawclient is the HTTP client classifier workers and the
// gateway's raw-ROI endpoint use to talk to the external raw data
// server. The raw server itself is out of scope (spec §1: "a thin
// file-backed HTTP accessor — specified only by the interface the
// core consumes"); this package is that interface's consumer side.
package rawclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/internal/apierr"
	"github.com/ilastik/blockpipeline/internal/httpclient"
)

// Client fetches raw voxel ROIs from the raw server.
type Client struct {
	http *httpclient.Client
}

// New builds a Client bound to a raw server's base URL.
func New(http *httpclient.Client) *Client {
	return &Client{http: http}
}

// Fetch retrieves the raw voxels for [begin, end) in the "raw" wire
// format (spec §6: "Densely packed little-endian elements ... in
// canonical axis order"). The caller supplies dtype, since the raw
// server's info endpoints (not this call) are the source of truth for
// it.
func (c *Client) Fetch(ctx context.Context, begin, end blockmodel.Coord, dtype blockmodel.DType) (blockmodel.Payload, error) {
	path := fmt.Sprintf("/raw/raw/roi?extents_min=%s&extents_max=%s", begin.String(), end.String())
	data, err := c.http.Get(ctx, path)
	if err != nil {
		return blockmodel.Payload{}, err
	}
	shape := end.Sub(begin)
	want := shape[0] * shape[1] * shape[2] * shape[3] * shape[4] * int64(dtype.Size())
	if int64(len(data)) != want {
		return blockmodel.Payload{}, apierr.RemoteFetch(fmt.Errorf("rawclient: expected %d bytes for shape %s dtype %s, got %d", want, shape, dtype, len(data)))
	}
	return blockmodel.Payload{Shape: shape, DType: dtype, Bytes: data}, nil
}

// DType queries the raw server's declared element type.
func (c *Client) DType(ctx context.Context) (blockmodel.DType, error) {
	data, err := c.http.Get(ctx, "/info/dtype")
	if err != nil {
		return "", err
	}
	dtype := blockmodel.DType(string(data))
	if !dtype.Valid() {
		return "", apierr.RemoteFetch(fmt.Errorf("rawclient: raw server reported unknown dtype %q", dtype))
	}
	return dtype, nil
}

// Shape queries the raw server's declared volume shape.
func (c *Client) Shape(ctx context.Context) (blockmodel.Coord, error) {
	data, err := c.http.Get(ctx, "/info/shape")
	if err != nil {
		return blockmodel.Coord{}, err
	}
	coord, err := blockmodel.ParseCoord(string(data))
	if err != nil {
		return blockmodel.Coord{}, apierr.RemoteFetch(fmt.Errorf("rawclient: %w", err))
	}
	return coord, nil
}

// Dim queries the raw server's declared spatial dimensionality.
func (c *Client) Dim(ctx context.Context) (int, error) {
	data, err := c.http.Get(ctx, "/info/dim")
	if err != nil {
		return 0, err
	}
	dim, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, apierr.RemoteFetch(fmt.Errorf("rawclient: malformed dim response %q: %w", string(data), err))
	}
	return dim, nil
}
