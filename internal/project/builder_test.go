package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/csgraph/provider/internal/config"
	csgerrors "github.com/csgraph/provider/internal/errors"
	"github.com/csgraph/provider/internal/graph"
	"github.com/csgraph/provider/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleController = `
using System.Web.Mvc;

namespace NerdDinner.Controllers
{
    public class HomeController : Controller
    {
        public ActionResult Index()
        {
            return View();
        }
    }
}
`

func writeSampleProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "HomeController.cs"), []byte(sampleController), 0644))
	return root
}

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg, err := config.Load(root, config.Config{
		AnalysisMode: config.SourceOnly,
		ProviderSpecificConfig: config.ProviderSpecificConfig{
			DBPath: filepath.Join(t.TempDir(), "test.db"),
		},
	})
	require.NoError(t, err)
	return cfg
}

func TestInitBuildsSealedGraphWithAtLeastOneNodePerFile(t *testing.T) {
	root := writeSampleProject(t)
	cfg := testConfig(t, root)

	mgr := NewManager()
	t.Cleanup(func() { mgr.Close() })

	require.NoError(t, mgr.Init(context.Background(), cfg))

	proj := mgr.Active()
	require.NotNil(t, proj)
	assert.True(t, proj.Graph.Sealed())
	assert.Greater(t, proj.Graph.NodeCount(), 0)
	assert.Len(t, proj.Graph.Files(), 1)
}

func TestInitReturnsCancelledForCancelledContext(t *testing.T) {
	root := writeSampleProject(t)
	cfg := testConfig(t, root)

	mgr := NewManager()
	t.Cleanup(func() { mgr.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mgr.Init(ctx, cfg)
	require.Error(t, err)
	var perr *csgerrors.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, csgerrors.KindCancelled, perr.Kind)
}

func TestInitReturnsDeadlineExceededForExpiredContext(t *testing.T) {
	root := writeSampleProject(t)
	cfg := testConfig(t, root)

	mgr := NewManager()
	t.Cleanup(func() { mgr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	err := mgr.Init(ctx, cfg)
	require.Error(t, err)
	var perr *csgerrors.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, csgerrors.KindDeadlineExceeded, perr.Kind)
}

func TestInitCapturesBaseListReference(t *testing.T) {
	root := writeSampleProject(t)
	cfg := testConfig(t, root)

	mgr := NewManager()
	t.Cleanup(func() { mgr.Close() })
	require.NoError(t, mgr.Init(context.Background(), cfg))

	proj := mgr.Active()
	found := false
	proj.Graph.IterNodes(func(n graph.Node) bool {
		if n.Attrs[types.AttrSyntaxType] == string(types.SyntaxName) && n.Attrs[types.AttrSymbol] == "Controller" {
			found = true
			return false
		}
		return true
	})
	assert.True(t, found, "expected a Reference node for the base-class name Controller")
}

func TestInitReplacesPreviousProjectOnSecondCall(t *testing.T) {
	root := writeSampleProject(t)
	cfg := testConfig(t, root)

	mgr := NewManager()
	t.Cleanup(func() { mgr.Close() })
	require.NoError(t, mgr.Init(context.Background(), cfg))
	first := mgr.Active()

	require.NoError(t, mgr.Init(context.Background(), cfg))
	second := mgr.Active()

	assert.NotSame(t, first, second)
	assert.True(t, second.Graph.Sealed())
}

func TestInitSecondRunKeepsNodeCount(t *testing.T) {
	root := writeSampleProject(t)
	cfg := testConfig(t, root)

	mgr := NewManager()
	t.Cleanup(func() { mgr.Close() })
	require.NoError(t, mgr.Init(context.Background(), cfg))
	first := mgr.Active()

	require.NoError(t, mgr.Init(context.Background(), cfg))
	second := mgr.Active()

	assert.Equal(t, first.Graph.NodeCount(), second.Graph.NodeCount())
}

func TestInitFullModeFailsFastWhenToolsMissing(t *testing.T) {
	root := writeSampleProject(t)
	cfg, err := config.Load(root, config.Config{
		AnalysisMode: config.Full,
		ProviderSpecificConfig: config.ProviderSpecificConfig{
			DBPath:   filepath.Join(t.TempDir(), "test.db"),
			IlspyCmd: "/nonexistent/ilspycmd",
			PaketCmd: "/nonexistent/paket",
		},
	})
	require.NoError(t, err)

	mgr := NewManager()
	t.Cleanup(func() { mgr.Close() })

	err = mgr.Init(context.Background(), cfg)
	require.Error(t, err)
}

func TestDiscoverFilesHonorsExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bin", "Generated.cs"), []byte("class X {}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Real.cs"), []byte("class Y {}"), 0644))

	cfg := &config.Config{Location: root, Exclude: config.DefaultExclude()}
	files, err := discoverFiles(cfg, "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(root, "Real.cs"), files[0].absPath)
}

func TestLineColConvertsByteOffsetAcrossNewlines(t *testing.T) {
	ft := &fileText{content: []byte("line one\nline two\nline three")}
	line, col := ft.LineCol(uint32(len("line one\nline ")))
	assert.Equal(t, uint32(2), line)
	assert.Equal(t, uint32(6), col)
}

func TestRehydrateRemapsHandlesAndPreservesEdges(t *testing.T) {
	root := writeSampleProject(t)
	cfg := testConfig(t, root)

	mgr := NewManager()
	t.Cleanup(func() { mgr.Close() })
	require.NoError(t, mgr.Init(context.Background(), cfg))
	firstNodeCount := mgr.Active().Graph.NodeCount()

	require.NoError(t, mgr.Init(context.Background(), cfg))
	secondNodeCount := mgr.Active().Graph.NodeCount()

	assert.Equal(t, firstNodeCount, secondNodeCount)

	foundFQDNEdge := false
	activeGraph := mgr.Active().Graph
	activeGraph.IterNodes(func(n graph.Node) bool {
		if len(activeGraph.OutgoingByLabel(n.Handle, types.EdgeFQDN)) > 0 {
			foundFQDNEdge = true
			return false
		}
		return true
	})
	assert.True(t, foundFQDNEdge, "expected at least one surviving FQDN edge after rehydration")
}
