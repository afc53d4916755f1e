// Package project implements the project builder (§4.6): validates tools,
// runs the optional dependency-decompile pipeline, walks source files,
// consults persistence, and publishes a sealed graph as the active project.
package project

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/csgraph/provider/internal/config"
	"github.com/csgraph/provider/internal/debug"
	csgerrors "github.com/csgraph/provider/internal/errors"
	"github.com/csgraph/provider/internal/graph"
	"github.com/csgraph/provider/internal/pathsolver"
	"github.com/csgraph/provider/internal/rules"
	"github.com/csgraph/provider/internal/storage"
	"github.com/csgraph/provider/internal/syntax"
	"github.com/csgraph/provider/internal/types"
)

const dependencyStagingDirName = ".csgraph-deps"

// Project is a built, sealed graph plus the file-position index the query
// engine needs to convert byte spans into line/column incidents.
type Project struct {
	Config *config.Config
	Graph  *graph.Graph
	Index  pathsolver.Index
	Store  *storage.Store
	Files  map[string]*fileText // absolute path -> file content, for LineCol
}

type fileText struct {
	content []byte
}

// LineCol converts a byte offset in this file to a 1-based (line, col).
func (ft *fileText) LineCol(byteOffset uint32) (line, col uint32) {
	line, col = 1, 1
	limit := int(byteOffset)
	if limit > len(ft.content) {
		limit = len(ft.content)
	}
	for i := 0; i < limit; i++ {
		if ft.content[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// Manager owns the single active project, gating the Building->Sealed
// handoff behind a mutex (§5 Sealing transition) and dropping the previous
// project's reference on a replacing Init.
type Manager struct {
	initMu  sync.Mutex // serializes Init calls
	mu      sync.Mutex
	active  *Project
	dbCache map[string]*storage.Store // db path -> open store, reused across inits
}

func NewManager() *Manager {
	return &Manager{dbCache: make(map[string]*storage.Store)}
}

// Active returns the currently published project, or nil if none.
func (m *Manager) Active() *Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close releases every persistence store this manager has opened. Callers
// shut down a Manager once, at process exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, s := range m.dbCache {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Init runs the build protocol end to end and, on success, publishes the
// resulting project, replacing (and dropping the reference to) whatever was
// previously active. A second concurrent Init is serialized behind initMu.
func (m *Manager) Init(ctx context.Context, cfg *config.Config) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if err := validateTools(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	store, ok := m.dbCache[cfg.ProviderSpecificConfig.DBPath]
	m.mu.Unlock()
	if !ok {
		var err error
		store, err = storage.Open(cfg.ProviderSpecificConfig.DBPath)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.dbCache[cfg.ProviderSpecificConfig.DBPath] = store
		m.mu.Unlock()
	}

	stagingDir := ""
	if cfg.AnalysisMode == config.Full {
		var err error
		stagingDir, err = runDependencyPipeline(ctx, cfg)
		if err != nil {
			return err
		}
	}

	proj, err := build(ctx, cfg, store, stagingDir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.active = proj
	m.mu.Unlock()
	return nil
}

func validateTools(cfg *config.Config) error {
	if cfg.AnalysisMode != config.Full {
		return nil
	}
	if !config.ToolExists(cfg.ProviderSpecificConfig.IlspyCmd) {
		return csgerrors.ToolMissing(cfg.ProviderSpecificConfig.IlspyCmd)
	}
	if !config.ToolExists(cfg.ProviderSpecificConfig.PaketCmd) {
		return csgerrors.ToolMissing(cfg.ProviderSpecificConfig.PaketCmd)
	}
	return nil
}

// runDependencyPipeline invokes the package resolver in the project root,
// then the decompiler once per resolved archive, materializing dependency
// sources into a private staging directory (§4.6 step 2). Resolver failure
// is fatal; a per-archive decompile failure is logged and skipped.
func runDependencyPipeline(ctx context.Context, cfg *config.Config) (string, error) {
	resolverOut, err := runSubprocess(ctx, cfg.ProviderSpecificConfig.PaketCmd, cfg.Location, nil)
	if err != nil {
		return "", csgerrors.SubprocessFailed(cfg.ProviderSpecificConfig.PaketCmd, string(resolverOut), err)
	}

	archives := parseArchivePaths(resolverOut)
	stagingDir := filepath.Join(cfg.Location, dependencyStagingDirName)
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return "", csgerrors.PersistenceIO("create staging dir", err)
	}

	for _, archive := range archives {
		if ctx.Err() != nil {
			return "", csgerrors.FromContext(ctx.Err())
		}
		if _, err := runSubprocess(ctx, cfg.ProviderSpecificConfig.IlspyCmd, cfg.Location, []string{archive, stagingDir}); err != nil {
			debug.LogBuild("decompile failed for %s: %v", archive, err)
			continue
		}
	}

	waitForDecompileCompletion(ctx, stagingDir, 5*time.Second)
	return stagingDir, nil
}

func runSubprocess(ctx context.Context, cmdPath, dir string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// parseArchivePaths reads one artifact path per line from the resolver's
// output, the "prints artifact paths to a predictable location" contract
// (§4.8) simplified to stdout for a black-box subprocess.
func parseArchivePaths(output []byte) []string {
	var paths []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths
}

// waitForDecompileCompletion watches stagingDir for write activity and
// returns once it has been quiet for one debounce interval, or once budget
// elapses — a bounded completion signal (§5.6), not incremental indexing.
func waitForDecompileCompletion(ctx context.Context, stagingDir string, budget time.Duration) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer watcher.Close()
	if err := watcher.Add(stagingDir); err != nil {
		return
	}

	deadline := time.After(budget)
	quiet := time.NewTimer(200 * time.Millisecond)
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-quiet.C:
			return
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !quiet.Stop() {
				<-quiet.C
			}
			quiet.Reset(200 * time.Millisecond)
		case <-watcher.Errors:
			return
		}
	}
}

// build walks the source tree (and dependency staging directory, if
// present) and produces a sealed Project, using persistence as a per-file
// cache (§4.6 steps 3-5).
func build(ctx context.Context, cfg *config.Config, store *storage.Store, stagingDir string) (*Project, error) {
	files, err := discoverFiles(cfg, stagingDir)
	if err != nil {
		return nil, err
	}

	g := graph.New()
	type slot struct {
		rec      *types.FileRecord
		loaded   *storage.LoadedFile
		fileID   types.FileID
		contents []byte
	}
	slots := make([]*slot, len(files))

	nextID := types.FileID(1)
	for i, f := range files {
		content, err := os.ReadFile(f.absPath)
		if err != nil {
			debug.LogBuild("skip unreadable file %s: %v", f.absPath, err)
			continue
		}
		hash := fmt.Sprintf("%x", xxhash.Sum64(content))
		fileID := nextID
		nextID++

		loaded, err := store.Load(f.absPath, hash)
		if err != nil {
			debug.LogBuild("persistence load error for %s, treating as miss: %v", f.absPath, err)
			loaded = nil
		}

		slots[i] = &slot{
			rec: &types.FileRecord{
				ID:          fileID,
				AbsPath:     f.absPath,
				ContentHash: hash,
				SourceType:  f.sourceType,
			},
			loaded:   loaded,
			fileID:   fileID,
			contents: content,
		}
	}

	// Register every file up front so AddNode can attribute nodes to the
	// right record regardless of processing order.
	for _, s := range slots {
		if s == nil {
			continue
		}
		if s.loaded != nil {
			s.rec.TreeSpan = s.loaded.Record.TreeSpan
			s.rec.Usings = s.loaded.Record.Usings
		}
		g.RegisterFile(s.rec)
	}

	group, gctx := errgroup.WithContext(ctx)
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	group.SetLimit(workers)

	var mu sync.Mutex // guards graph mutation; build phase is otherwise parallel-parse, serial-emit
	indexParts := make([]pathsolver.Index, len(slots))

	for i, s := range slots {
		if s == nil {
			continue
		}
		i, s := i, s
		group.Go(func() error {
			if gctx.Err() != nil {
				return csgerrors.FromContext(gctx.Err())
			}
			if s.loaded != nil {
				mu.Lock()
				remap := rehydrate(g, s.fileID, s.loaded)
				mu.Unlock()
				idx := make(pathsolver.Index, len(s.loaded.PartialPaths))
				for _, p := range s.loaded.PartialPaths {
					if nh, ok := remap[p.Node]; ok {
						idx[nh] = p.FQDN
					}
				}
				indexParts[i] = idx
				return nil
			}

			frontend, err := syntax.NewFrontend()
			if err != nil {
				return err
			}
			defer frontend.Close()

			tree, err := frontend.Parse(s.rec.AbsPath, s.contents)
			if err != nil {
				debug.LogBuild("parse failed for %s: %v", s.rec.AbsPath, err)
				return nil // per-file parse failure does not abort the build
			}
			defer tree.Close()

			root := tree.Root()
			s.rec.TreeSpan = types.Span{StartByte: 0, EndByte: uint32(root.EndByte())}

			mu.Lock()
			emitter := rules.Emit(g, s.fileID, s.rec.SourceType, tree)
			mu.Unlock()
			for _, k := range emitter.MissingKinds() {
				debug.LogBuild("no rule for syntax kind %q in %s", k, s.rec.AbsPath)
			}

			mu.Lock()
			idx := pathsolver.Index{}
			for _, p := range pathsolver.Solve(g, s.fileID) {
				idx[p.Node] = p.FQDN
			}
			mu.Unlock()
			indexParts[i] = idx

			if err := store.SaveFile(g, s.fileID, idx); err != nil {
				debug.LogBuild("persist failed for %s: %v", s.rec.AbsPath, err)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	fullIndex := pathsolver.Index{}
	for _, part := range indexParts {
		for h, fqdn := range part {
			fullIndex[h] = fqdn
		}
	}

	if err := store.SaveSymbols(g); err != nil {
		debug.LogBuild("save symbols failed: %v", err)
	}

	g.Seal()

	fileTexts := make(map[string]*fileText, len(slots))
	for _, s := range slots {
		if s == nil {
			continue
		}
		fileTexts[s.rec.AbsPath] = &fileText{content: s.contents}
	}

	return &Project{Config: cfg, Graph: g, Index: fullIndex, Store: store, Files: fileTexts}, nil
}

// rehydrate replays a persisted file slice into g under fileID, remapping
// each persisted node handle to a freshly allocated one. FQDN edges never
// cross a file boundary (the rule evaluator's context stack resets per
// file), so a local old-to-new handle map is enough to carry edges over
// intact without needing the persisted handle values themselves to line up
// with anything else in the graph.
func rehydrate(g *graph.Graph, fileID types.FileID, loaded *storage.LoadedFile) map[types.NodeHandle]types.NodeHandle {
	remap := make(map[types.NodeHandle]types.NodeHandle, len(loaded.Nodes))
	for _, n := range loaded.Nodes {
		remap[n.Handle] = g.AddNode(n.Kind, fileID, n.Span, n.Attrs)
	}
	for _, e := range loaded.Edges {
		from, ok1 := remap[e.From]
		to, ok2 := remap[e.To]
		if !ok1 || !ok2 {
			continue
		}
		g.AddEdge(from, to, e.Precedence, e.Label)
	}
	return remap
}

type discoveredFile struct {
	absPath    string
	sourceType types.SourceType
}

// discoverFiles walks the source root (tagged "source") and, if present,
// the dependency staging directory (tagged "dependency"), applying the
// configured include/exclude globs (§5.6: doublestar for `.cs` discovery).
func discoverFiles(cfg *config.Config, stagingDir string) ([]discoveredFile, error) {
	var out []discoveredFile

	walkRoot := func(root string, sourceType types.SourceType) error {
		return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if d.IsDir() {
				if path != root && filepath.Base(path) == dependencyStagingDirName {
					return filepath.SkipDir
				}
				return nil
			}
			if filepath.Ext(path) != ".cs" {
				return nil
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			if matchesAny(cfg.Exclude, rel) {
				return nil
			}
			if len(cfg.Include) > 0 && !matchesAny(cfg.Include, rel) {
				return nil
			}
			out = append(out, discoveredFile{absPath: path, sourceType: sourceType})
			return nil
		})
	}

	if err := walkRoot(cfg.Location, types.SourceUser); err != nil {
		return nil, err
	}
	if stagingDir != "" {
		if _, err := os.Stat(stagingDir); err == nil {
			if err := walkRoot(stagingDir, types.SourceDependency); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].absPath < out[j].absPath })
	return out, nil
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		matched, err := doublestar.Match(p, path)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
