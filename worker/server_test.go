package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/internal/logging"
)

func newTestServer(t *testing.T, kernel Kernel, c *fakeCache, pub *fakePublisher, raw *fakeRaw) (*mux.Router, *Worker) {
	t.Helper()
	w := newTestWorker(t, kernel, c, pub, raw)
	r := mux.NewRouter()
	NewServer(w).Register(r)
	return r, w
}

func TestHandlePredictionRawComputesMissingBlock(t *testing.T) {
	c := newFakeCache()
	pub := &fakePublisher{}
	raw := &fakeRaw{}
	router, _ := newTestServer(t, zeroHaloKernel{classes: 2}, c, pub, raw)

	req := httptest.NewRequest(http.MethodGet, "/prediction/raw/0", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.Bytes())
	assert.Len(t, raw.fetched, 1)
	assert.Empty(t, pub.published, "the synchronous route must not announce completion on the finished bus")
	_, ok := c.payload[0]
	assert.True(t, ok, "the computed block must still be cached")
}

func TestHandlePredictionRawReturnsCachedBlockWithoutRecomputing(t *testing.T) {
	c := newFakeCache()
	cached := blockmodel.Payload{Shape: blockmodel.Coord{1, 8, 8, 1, 2}, DType: blockmodel.DTypeFloat32, Bytes: []byte{1, 2, 3, 4}}
	c.payload[0] = cached
	pub := &fakePublisher{}
	raw := &fakeRaw{}
	router, _ := newTestServer(t, zeroHaloKernel{classes: 2}, c, pub, raw)

	req := httptest.NewRequest(http.MethodGet, "/prediction/raw/0", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cached.Bytes, rec.Body.Bytes())
	assert.Empty(t, raw.fetched, "idempotency guard must skip the raw fetch for an already-cached block")
}

func TestHandlePredictionRawRejectsNonNumericID(t *testing.T) {
	c := newFakeCache()
	pub := &fakePublisher{}
	raw := &fakeRaw{}
	router, _ := newTestServer(t, zeroHaloKernel{classes: 2}, c, pub, raw)

	req := httptest.NewRequest(http.MethodGet, "/prediction/raw/not-an-id", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComputeBlockErrorsBeforeSetup(t *testing.T) {
	reg := &fakeRegistry{blockSize: "8_8_1"}
	w := New("worker-1:9000", zeroHaloKernel{classes: 2}, nil, &fakePublisher{}, newFakeCache(), &fakeRaw{}, reg, logging.Nop(), nil)
	_, err := w.ComputeBlock(context.Background(), 0)
	assert.Error(t, err)
}
