package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plant-for-the-planet/firealert/internal/model"
)

// stubAdapter implements Adapter for testing.
type stubAdapter struct {
	key   string
	inits int
	err   error
}

func (s *stubAdapter) Key() string { return s.key }
func (s *stubAdapter) Initialize(_ json.RawMessage) (Source, error) {
	s.inits++
	if s.err != nil {
		return nil, s.err
	}
	return &stubSource{slice: "1"}, nil
}

type stubSource struct{ slice string }

func (s *stubSource) Slice() string { return s.slice }
func (s *stubSource) FetchLatest(_ context.Context, _ FetchRequest) ([]model.GeoEvent, error) {
	return nil, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg, err := NewRegistry(&stubAdapter{key: "FIRMS"})
	require.NoError(t, err)

	got, err := reg.Get("FIRMS")
	require.NoError(t, err)
	assert.Equal(t, "FIRMS", got.Key())
}

func TestRegistry_Get_NotFound(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	_, err = reg.Get("nonexistent")
	require.Error(t, err)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "nonexistent", nf.Key)
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg, err := NewRegistry(&stubAdapter{key: "FIRMS"})
	require.NoError(t, err)

	err = reg.Register(&stubAdapter{key: "FIRMS"})
	var dup *DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Contains(t, err.Error(), "already registered")

	_, err = NewRegistry(&stubAdapter{key: "A"}, &stubAdapter{key: "A"})
	require.Error(t, err)
}

func TestRegistry_Keys_PreservesOrder(t *testing.T) {
	reg, err := NewRegistry(&stubAdapter{key: "gamma"}, &stubAdapter{key: "alpha"}, &stubAdapter{key: "beta"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, reg.Keys())
}

// Compile-time interface checks.
var (
	_ Adapter = (*FIRMS)(nil)
	_ Adapter = (*GOES)(nil)
	_ Source  = (*firmsSource)(nil)
	_ Source  = (*goesSource)(nil)
)
