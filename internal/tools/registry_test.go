package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedTool struct{ name string }

func (t namedTool) Name() string     { return t.name }
func (t namedTool) Describe() string { return t.name }

func (t namedTool) Invoke(context.Context, map[string]string) (string, error) {
	return t.name, nil
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(namedTool{"a"}, namedTool{"b"})

	tool, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", tool.Name())

	_, ok = r.Lookup("ghost")
	assert.False(t, ok)
}

func TestRegistryDeduplicates(t *testing.T) {
	r := NewRegistry(namedTool{"a"})
	r.Register(namedTool{"a"})
	assert.Len(t, r.List(), 1)
}

func TestRegistryListPreservesOrder(t *testing.T) {
	r := NewRegistry(namedTool{"z"}, namedTool{"a"}, namedTool{"m"})
	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "z", list[0].Name())
	assert.Equal(t, "a", list[1].Name())
	assert.Equal(t, "m", list[2].Name())
}
