package layers

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workspaceFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/srv/app/package.json", []byte(`{"name":"app"}`), 0644))
	require.NoError(t, afero.WriteFile(fs, "/srv/app/Dockerfile", []byte("FROM node:22"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/srv/app/docker-compose.yml", []byte("services: {}"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/srv/app/README.md", []byte("# App\n\nAn example service.\nMore detail here.\nEven more."), 0644))
	require.NoError(t, fs.MkdirAll("/srv/app/migrations", 0755))
	require.NoError(t, fs.MkdirAll("/srv/app/tests", 0755))
	return fs
}

func TestDomainBuilderMarkers(t *testing.T) {
	b := NewDomainBuilder(workspaceFs(t), nil)

	layer, err := b.Build(context.Background(), Request{RepoPath: "/srv/app"})
	require.NoError(t, err)

	assert.Equal(t, "/srv/app", layer.RepoPath)
	assert.Contains(t, layer.Components, "node_app")
	assert.Contains(t, layer.Components, "containerized")
	assert.Contains(t, layer.Components, "multi_service")
	assert.Contains(t, layer.ProjectMetadata, "has_migrations")
	assert.Contains(t, layer.ProjectMetadata, "has_tests")
}

func TestDomainBuilderDocs(t *testing.T) {
	b := NewDomainBuilder(workspaceFs(t), nil)

	layer, err := b.Build(context.Background(), Request{RepoPath: "/srv/app"})
	require.NoError(t, err)

	doc, ok := layer.RelatedDocs["README.md"]
	require.True(t, ok)
	// Only the first few lines are captured.
	assert.Contains(t, doc, "# App")
	assert.NotContains(t, doc, "Even more")
}

func TestDomainBuilderEntityRelationships(t *testing.T) {
	b := NewDomainBuilder(workspaceFs(t), nil)

	layer, err := b.Build(context.Background(), Request{RepoPath: "/srv/app"})
	require.NoError(t, err)

	assert.Contains(t, layer.EntityRelationships["containerized"], "multi_service")
	assert.Contains(t, layer.EntityRelationships["node_app"], "containerized")
}

func TestDomainBuilderNoPath(t *testing.T) {
	b := NewDomainBuilder(afero.NewMemMapFs(), nil)

	layer, err := b.Build(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, layer.Empty())
}

func TestDomainBuilderMissingPath(t *testing.T) {
	b := NewDomainBuilder(afero.NewMemMapFs(), nil)

	// Absent workspace is sparse context, not an error.
	layer, err := b.Build(context.Background(), Request{RepoPath: "/nope"})
	require.NoError(t, err)
	assert.True(t, layer.Empty())
}

func TestDomainBuilderAnalyzer(t *testing.T) {
	t.Run("analyzer summary wins", func(t *testing.T) {
		b := NewDomainBuilder(workspaceFs(t), &mockAnalyzer{summary: "deep analysis result"})
		layer, err := b.Build(context.Background(), Request{RepoPath: "/srv/app"})
		require.NoError(t, err)
		assert.Equal(t, "deep analysis result", layer.RepoSummary)
	})

	t.Run("analyzer failure keeps marker summary", func(t *testing.T) {
		b := NewDomainBuilder(workspaceFs(t), &mockAnalyzer{err: errUnavailable})
		layer, err := b.Build(context.Background(), Request{RepoPath: "/srv/app"})
		require.NoError(t, err)
		assert.Contains(t, layer.RepoSummary, "node_app")
	})
}

func TestDomainBuilderProjectID(t *testing.T) {
	b := NewDomainBuilder(workspaceFs(t), nil)

	layer, err := b.Build(context.Background(), Request{RepoPath: "/srv/app", ProjectID: "proj-7"})
	require.NoError(t, err)
	assert.Equal(t, "proj-7", layer.ProjectMetadata["project_id"])
}
