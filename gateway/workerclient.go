package gateway

import (
	"context"
	"strconv"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/internal/apierr"
	"github.com/ilastik/blockpipeline/internal/httpclient"
)

// workerClient queries a classifier worker's introspection endpoints
// during /setup: its block shape and class count (no dtype probe).
type workerClient struct {
	http *httpclient.Client
}

func newWorkerClient(http *httpclient.Client) *workerClient {
	return &workerClient{http: http}
}

// NewWorkerClientFactory returns the production newWorkerClient
// closure: one retrying httpclient.Client per probed endpoint, scoped
// to "http://<endpoint>".
func NewWorkerClientFactory() func(endpoint string) workerProber {
	return func(endpoint string) workerProber {
		return newWorkerClient(httpclient.New("http://" + endpoint))
	}
}

func (w *workerClient) NumClasses(ctx context.Context) (int, error) {
	data, err := w.http.Get(ctx, "/prediction/numclasses")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, apierr.RemoteFetch(err)
	}
	return n, nil
}

func (w *workerClient) BlockShape(ctx context.Context) (blockmodel.Coord, error) {
	data, err := w.http.Get(ctx, "/prediction/blockshape")
	if err != nil {
		return blockmodel.Coord{}, err
	}
	coord, err := blockmodel.ParseCoord(string(data))
	if err != nil {
		return blockmodel.Coord{}, apierr.CacheProtocolViolation("gateway: worker reported malformed block shape: %v", err)
	}
	return coord, nil
}
