package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/healthetl/pkg/connector/core"
	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
)

type stubSink struct{ path string }

func (s *stubSink) Name() string                                   { return "stub" }
func (s *stubSink) EntryName(key, ext string) string               { return key + ext }
func (s *stubSink) Prepare(string, []byte) (*core.Entry, error)    { return &core.Entry{}, nil }
func (s *stubSink) AcceptGroup(context.Context, *core.Entry) error { return nil }
func (s *stubSink) Close(context.Context) error                    { return nil }
func (s *stubSink) Abort() error                                   { return nil }

func newStub(opts SinkOptions) (core.Sink, error) {
	return &stubSink{path: opts.Path}, nil
}

func TestRegisterAndCreateSink(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterSink(&ConnectorInfo{Name: "zip", Extensions: []string{".zip"}}, newStub))

	sink, err := r.NewSink("zip", SinkOptions{Path: "out.zip"})
	require.NoError(t, err)
	assert.Equal(t, "out.zip", sink.(*stubSink).path)

	err = r.RegisterSink(&ConnectorInfo{Name: "zip"}, newStub)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeConfig))

	_, err = r.NewSink("rar", SinkOptions{})
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeConfig))
}

func TestSameNameDifferentTypes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterSink(&ConnectorInfo{Name: "csv"}, newStub))
	require.NoError(t, r.RegisterEncoder(&ConnectorInfo{Name: "csv"}, func(EncoderOptions) (core.Encoder, error) {
		return nil, nil
	}))

	assert.Equal(t, []string{"csv"}, r.Names(core.ConnectorTypeEncoder))
	assert.Equal(t, []string{"csv"}, r.Names(core.ConnectorTypeSink))
	assert.Empty(t, r.Names(core.ConnectorTypeExtractor))
	assert.Len(t, r.List(), 2)
}

func TestSinkForPath(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterSink(&ConnectorInfo{Name: "zip", Extensions: []string{".zip"}}, newStub))
	require.NoError(t, r.RegisterSink(&ConnectorInfo{Name: "tar.zst", Extensions: []string{".tar.zst", ".tzst"}}, newStub))

	tests := map[string]string{
		"out.zip":         "zip",
		"OUT.ZIP":         "zip",
		"dir/out.tar.zst": "tar.zst",
		"out.tzst":        "tar.zst",
		"out.zst":         "",
		"out.csv":         "",
		".zip":            "",
	}
	for path, want := range tests {
		got, ok := r.SinkForPath(path)
		assert.Equal(t, want, got, path)
		assert.Equal(t, want != "", ok, path)
	}
}
