package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilastik/blockpipeline/internal/logging"
)

func TestHandleRawInfoRoutesReturnPlainText(t *testing.T) {
	gw := newTestGateway(t, &fakeRaw{}, newFakeCache(), &fakeTasks{})
	router := mux.NewRouter()
	NewServer(gw).Register(router)

	cases := []struct {
		path string
		want string
	}{
		{"/raw/info/dtype", "uint8"},
		{"/raw/info/shape", "1_16_16_1_1"},
		{"/raw/info/dim", "2"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, tc.path)
		assert.Equal(t, tc.want, rec.Body.String(), tc.path)
	}
}

func TestHandleRawInfoRoutesFailBeforeSetup(t *testing.T) {
	reg := &fakeRegistry{}
	gw := New(&fakeRaw{}, newFakeCache(), &fakeTasks{}, fakeBus{}, reg, nil,
		func(endpoint string) workerProber { return fakeWorkerProber{} }, logging.Nop(), nil)
	router := mux.NewRouter()
	NewServer(gw).Register(router)

	req := httptest.NewRequest(http.MethodGet, "/raw/info/dtype", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
