package worker

import (
	"context"
	"reflect"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/stretchr/testify/require"

	"github.com/ilastik/blockpipeline/blockmodel"
	"github.com/ilastik/blockpipeline/internal/logging"
	"github.com/ilastik/blockpipeline/registry"
)

// MockRegistryStore is a hand-written mock of the registryStore
// interface, in the shape go.uber.org/mock/gomock's generator
// produces. It exists alongside fakeRegistry (a plain recording
// struct) for the two worker tests below that assert the exact
// registry calls Setup (in order) and Deregister make, rather than
// just observe their effect.
type MockRegistryStore struct {
	ctrl     *gomock.Controller
	recorder *MockRegistryStoreMockRecorder
}

// MockRegistryStoreMockRecorder is the recorder for MockRegistryStore.
type MockRegistryStoreMockRecorder struct {
	mock *MockRegistryStore
}

// NewMockRegistryStore constructs a MockRegistryStore.
func NewMockRegistryStore(ctrl *gomock.Controller) *MockRegistryStore {
	mock := &MockRegistryStore{ctrl: ctrl}
	mock.recorder = &MockRegistryStoreMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockRegistryStore) EXPECT() *MockRegistryStoreMockRecorder {
	return m.recorder
}

// Get mocks base method.
func (m *MockRegistryStore) Get(ctx context.Context, key registry.Key) (string, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Get", ctx, key)
	ret0, _ := ret[0].(string)
	ret1, _ := ret[1].(bool)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// Get indicates an expected call of Get.
func (mr *MockRegistryStoreMockRecorder) Get(ctx, key interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Get", reflect.TypeOf((*MockRegistryStore)(nil).Get), ctx, key)
}

// RegisterWorker mocks base method.
func (m *MockRegistryStore) RegisterWorker(ctx context.Context, endpoint string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "RegisterWorker", ctx, endpoint)
	ret0, _ := ret[0].(error)
	return ret0
}

// RegisterWorker indicates an expected call of RegisterWorker.
func (mr *MockRegistryStoreMockRecorder) RegisterWorker(ctx, endpoint interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "RegisterWorker", reflect.TypeOf((*MockRegistryStore)(nil).RegisterWorker), ctx, endpoint)
}

// DeregisterWorker mocks base method.
func (m *MockRegistryStore) DeregisterWorker(ctx context.Context, endpoint string) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "DeregisterWorker", ctx, endpoint)
	ret0, _ := ret[0].(error)
	return ret0
}

// DeregisterWorker indicates an expected call of DeregisterWorker.
func (mr *MockRegistryStoreMockRecorder) DeregisterWorker(ctx, endpoint interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "DeregisterWorker", reflect.TypeOf((*MockRegistryStore)(nil).DeregisterWorker), ctx, endpoint)
}

func TestSetupRegistersWorkerWithMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := NewMockRegistryStore(ctrl)

	gomock.InOrder(
		reg.EXPECT().Get(gomock.Any(), registry.BlockSize).Return("8_8_1", true, nil),
		reg.EXPECT().RegisterWorker(gomock.Any(), "worker-9:9000").Return(nil),
	)

	w := New("worker-9:9000", zeroHaloKernel{classes: 2}, nil, &fakePublisher{}, newFakeCache(), &fakeRaw{}, reg, logging.Nop(), nil)
	require.NoError(t, w.Setup(context.Background(), blockmodel.Coord{1, 16, 16, 1, 1}, blockmodel.DTypeUint8))
}

func TestDeregisterCallsRegistryWithMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := NewMockRegistryStore(ctrl)

	reg.EXPECT().Get(gomock.Any(), registry.BlockSize).Return("8_8_1", true, nil)
	reg.EXPECT().RegisterWorker(gomock.Any(), "worker-9:9000").Return(nil)
	reg.EXPECT().DeregisterWorker(gomock.Any(), "worker-9:9000").Return(nil)

	w := New("worker-9:9000", zeroHaloKernel{classes: 2}, nil, &fakePublisher{}, newFakeCache(), &fakeRaw{}, reg, logging.Nop(), nil)
	require.NoError(t, w.Setup(context.Background(), blockmodel.Coord{1, 16, 16, 1, 1}, blockmodel.DTypeUint8))
	require.NoError(t, w.Deregister(context.Background()))
}
