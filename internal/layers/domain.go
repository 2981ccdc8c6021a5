package layers

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/stackconsulting/orchestra/internal/envelope"
	"github.com/stackconsulting/orchestra/internal/logging"
)

// markerFile maps a well-known filename to the component it evidences.
type markerFile struct {
	name      string
	component string
	summary   string
}

var markerFiles = []markerFile{
	{"package.json", "node_app", "Node.js application or frontend"},
	{"go.mod", "go_module", "Go module"},
	{"requirements.txt", "python_app", "Python application"},
	{"pyproject.toml", "python_app", "Python application"},
	{"Cargo.toml", "rust_crate", "Rust crate"},
	{"pom.xml", "java_app", "Java application (Maven)"},
	{"Dockerfile", "containerized", "container build definition"},
	{"docker-compose.yml", "multi_service", "multi-service local stack"},
	{"docker-compose.yaml", "multi_service", "multi-service local stack"},
	{"Makefile", "make_build", "Make-driven build"},
	{".github", "ci_cd", "GitHub Actions CI"},
	{"terraform", "infrastructure", "Terraform infrastructure"},
}

var docFiles = []string{
	"README.md", "README.rst", "CONTRIBUTING.md", "ARCHITECTURE.md",
	"docs", "CHANGELOG.md",
}

// DomainBuilder constructs the domain layer by sniffing the workspace
// filesystem and optionally calling a deeper analyzer.
type DomainBuilder struct {
	fs       afero.Fs
	analyzer RepoAnalyzer
}

// NewDomainBuilder returns a domain layer builder. The filesystem is
// injected so tests run against an in-memory tree; analyzer may be nil.
func NewDomainBuilder(fs afero.Fs, analyzer RepoAnalyzer) *DomainBuilder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &DomainBuilder{fs: fs, analyzer: analyzer}
}

// Build inspects the request's repository path. No path, or a path that does
// not exist, yields a zero layer and no error: absent domain data is sparse
// context, not failure.
func (b *DomainBuilder) Build(ctx context.Context, req Request) (envelope.DomainLayer, error) {
	if req.RepoPath == "" {
		return envelope.DomainLayer{}, nil
	}

	exists, err := afero.DirExists(b.fs, req.RepoPath)
	if err != nil || !exists {
		logging.BuilderDebug("repo path %s not accessible, building sparse domain layer", req.RepoPath)
		return envelope.DomainLayer{}, nil
	}

	layer := envelope.DomainLayer{
		RepoPath:        req.RepoPath,
		Components:      map[string]string{},
		RelatedDocs:     map[string]string{},
		ProjectMetadata: map[string]string{},
	}
	if req.ProjectID != "" {
		layer.ProjectMetadata["project_id"] = req.ProjectID
	}

	b.sniffMarkers(req.RepoPath, &layer)
	b.collectDocs(req.RepoPath, &layer)
	b.detectStructure(req.RepoPath, &layer)
	layer.EntityRelationships = relateEntities(layer.Components)

	if b.analyzer != nil {
		summary, err := b.analyzer.Summarize(ctx, req.RepoPath)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return envelope.DomainLayer{}, ctxErr
			}
			logging.BuilderWarn("repo analyzer failed for %s, keeping marker summary: %v", req.RepoPath, err)
		} else {
			layer.RepoSummary = summary
		}
	}
	if layer.RepoSummary == "" {
		layer.RepoSummary = markerSummary(layer.Components)
	}

	logging.BuilderDebug("domain layer built for %s (%d components, %d docs)",
		req.RepoPath, len(layer.Components), len(layer.RelatedDocs))
	return layer, nil
}

// Degraded returns the empty fallback domain layer.
func (b *DomainBuilder) Degraded() envelope.DomainLayer {
	return envelope.DomainLayer{}
}

func (b *DomainBuilder) sniffMarkers(root string, layer *envelope.DomainLayer) {
	for _, m := range markerFiles {
		path := filepath.Join(root, m.name)
		if ok, _ := afero.Exists(b.fs, path); ok {
			layer.Components[m.component] = m.summary
		}
	}
}

func (b *DomainBuilder) collectDocs(root string, layer *envelope.DomainLayer) {
	for _, name := range docFiles {
		path := filepath.Join(root, name)
		isDir, err := afero.IsDir(b.fs, path)
		if err != nil {
			continue
		}
		if isDir {
			layer.RelatedDocs[name] = "documentation directory"
			continue
		}
		data, err := afero.ReadFile(b.fs, path)
		if err != nil {
			continue
		}
		layer.RelatedDocs[name] = firstLines(string(data), 3)
	}
}

// detectStructure looks for conventional source layout directories.
func (b *DomainBuilder) detectStructure(root string, layer *envelope.DomainLayer) {
	structural := map[string]string{
		"migrations":  "database migrations",
		"cmd":         "command entry points",
		"internal":    "internal packages",
		"src":         "source tree",
		"tests":       "test suite",
		"test":        "test suite",
		"__tests__":   "test suite",
		"deploy":      "deployment manifests",
		"helm":        "Helm charts",
		"kubernetes":  "Kubernetes manifests",
		"k8s":         "Kubernetes manifests",
		".migrations": "database migrations",
	}
	for dir, desc := range structural {
		if ok, _ := afero.DirExists(b.fs, filepath.Join(root, dir)); ok {
			layer.ProjectMetadata["has_"+strings.TrimPrefix(dir, ".")] = desc
		}
	}
}

// relateEntities derives coarse edges between detected components, e.g. a
// containerized app relates to its compose stack.
func relateEntities(components map[string]string) map[string][]string {
	if len(components) < 2 {
		return nil
	}
	rels := map[string][]string{}
	add := func(from, to string) {
		if _, ok := components[from]; !ok {
			return
		}
		if _, ok := components[to]; !ok {
			return
		}
		rels[from] = append(rels[from], to)
	}
	add("containerized", "multi_service")
	add("node_app", "containerized")
	add("go_module", "containerized")
	add("python_app", "containerized")
	add("ci_cd", "containerized")
	add("infrastructure", "multi_service")
	for k := range rels {
		sort.Strings(rels[k])
	}
	if len(rels) == 0 {
		return nil
	}
	return rels
}

func markerSummary(components map[string]string) string {
	if len(components) == 0 {
		return ""
	}
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("workspace with %s", strings.Join(names, ", "))
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
