package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilastik/blockpipeline/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "registry")
	s, err := Open(dir, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestScalarRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(ThresholdValue, "0.5"))

	v, ok, err := s.Get(ThresholdValue)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0.5", v)
}

func TestUnknownKeyIsRejected(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Set(Key("NOT_A_KEY"), "x"))
	_, _, err := s.Get(Key("NOT_A_KEY"))
	assert.Error(t, err)
}

func TestWorkerIPListAppendsAndRemoves(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(PixelClassificationWorkerIPs, "10.0.0.1:9000"))
	require.NoError(t, s.Set(PixelClassificationWorkerIPs, "10.0.0.2:9000"))

	list, err := s.GetList(PixelClassificationWorkerIPs)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:9000", "10.0.0.2:9000"}, list)

	require.NoError(t, s.Remove(PixelClassificationWorkerIPs, "10.0.0.1:9000"))
	list, err = s.GetList(PixelClassificationWorkerIPs)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2:9000"}, list)
}

func TestRemoveOnlyAllowedOnWorkerIPs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(ThresholdValue, "0.5"))
	assert.Error(t, s.Remove(ThresholdValue, "0.5"))
}

func TestRandomForestBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	blob := []byte{1, 2, 3, 4, 5}
	require.NoError(t, s.SetBytes(PCRandomForest, blob))

	got, ok, err := s.GetBytes(PCRandomForest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, blob, got)
}

func TestLogAppendAndTail(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append("info", "gateway", "started"))
	require.NoError(t, s.Append("info", "gateway", "setup complete"))

	all, err := s.TailLog(0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	tail, err := s.TailLog(1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
}

func TestDumpListsEveryKey(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.Dump()
	require.NoError(t, err)
	assert.Len(t, entries, len(allowedKeys))
}
