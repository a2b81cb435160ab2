package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopBody(ctx context.Context) error { return nil }

func TestNewRegistry_SortsAscending(t *testing.T) {
	reg, err := NewRegistry(
		Migration{Version: "0003", Description: "third", Up: nopBody},
		Migration{Version: "0001", Description: "first", Up: nopBody},
		Migration{Version: "0002", Description: "second", Up: nopBody},
	)
	require.NoError(t, err)

	var versions []string
	for _, m := range reg.List() {
		versions = append(versions, m.Version)
	}
	assert.Equal(t, []string{"0001", "0002", "0003"}, versions)
}

func TestNewRegistry_DuplicateVersion(t *testing.T) {
	_, err := NewRegistry(
		Migration{Version: "0001", Up: nopBody},
		Migration{Version: "0001", Up: nopBody},
	)
	require.Error(t, err)

	var dup *DuplicateVersionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "0001", dup.Version)
}

func TestNewRegistry_RejectsMissingVersion(t *testing.T) {
	_, err := NewRegistry(Migration{Description: "no version", Up: nopBody})
	assert.Error(t, err)
}

func TestNewRegistry_RejectsMissingUp(t *testing.T) {
	_, err := NewRegistry(Migration{Version: "0001"})
	assert.Error(t, err)
}

func TestRegistry_Lookup(t *testing.T) {
	reg, err := NewRegistry(
		Migration{Version: "0001", Description: "first", Up: nopBody},
	)
	require.NoError(t, err)

	m, ok := reg.Lookup("0001")
	require.True(t, ok)
	assert.Equal(t, "first", m.Description)

	_, ok = reg.Lookup("0002")
	assert.False(t, ok)
}

func TestRegistry_ListReturnsCopy(t *testing.T) {
	reg, err := NewRegistry(
		Migration{Version: "0001", Description: "first", Up: nopBody},
		Migration{Version: "0002", Description: "second", Up: nopBody},
	)
	require.NoError(t, err)

	list := reg.List()
	list[0] = Migration{Version: "mutated"}

	fresh := reg.List()
	assert.Equal(t, "0001", fresh[0].Version)
}
