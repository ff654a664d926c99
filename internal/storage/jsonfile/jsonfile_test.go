package jsonfile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metasched/orchestrator/internal/graph"
	"github.com/metasched/orchestrator/internal/storage"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	root := graph.NewStart()
	p, err := graph.NewProtocol("P1", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, root.Attach(p))

	ctx := context.Background()
	name, err := s.Save(ctx, []*graph.Node{root})
	require.NoError(t, err)
	require.NotEmpty(t, name)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, root.ID, loaded[0].ID)
	require.Len(t, loaded[0].Flatten(), 2)
}

func TestLoadReturnsNewestSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	first := graph.NewStart()
	_, err = s.Save(ctx, []*graph.Node{first})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	second := graph.NewStart()
	p, err := graph.NewProtocol("only-in-second", time.Second)
	require.NoError(t, err)
	require.NoError(t, second.Attach(p))
	_, err = s.Save(ctx, []*graph.Node{second})
	require.NoError(t, err)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, second.ID, loaded[0].ID)
	require.Len(t, loaded[0].Flatten(), 2)
}

func TestSaveLoadMultipleGraphs(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	x := graph.NewStart()
	px, err := graph.NewProtocol("X", 4*time.Second)
	require.NoError(t, err)
	require.NoError(t, x.Attach(px))

	y := graph.NewStart()
	py, err := graph.NewProtocol("Y", 3*time.Second)
	require.NoError(t, err)
	require.NoError(t, y.Attach(py))

	_, err = s.Save(ctx, []*graph.Node{x, y})
	require.NoError(t, err)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, x.ID, loaded[0].ID)
	require.Equal(t, y.ID, loaded[1].ID)
}

func TestLoadEmptyDirReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	_, err = s.Load(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)
}
