// Package query implements the "referenced" capability's evaluation
// procedure (§4.7): given a Condition, select candidate reference nodes,
// resolve each to a fully-qualified name, filter, and convert survivors to
// Incidents.
package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	csgerrors "github.com/csgraph/provider/internal/errors"
	"github.com/csgraph/provider/internal/graph"
	"github.com/csgraph/provider/internal/project"
	"github.com/csgraph/provider/internal/types"
)

// Condition is the "referenced" capability's input shape.
type Condition struct {
	Pattern      string
	Location     types.Location
	SourceFilter types.SourceType // empty = unfiltered
	FilePaths    []string         // literal paths or glob patterns; empty = unfiltered
}

// Run evaluates cond against proj's sealed graph, returning incidents sorted
// by (file_uri, line, col_start) with duplicates suppressed (§4.7
// Guarantees).
func Run(ctx context.Context, proj *project.Project, cond Condition) ([]types.Incident, error) {
	if proj == nil {
		return nil, csgerrors.NoProject()
	}

	re, err := compileAnchored(cond.Pattern)
	if err != nil {
		return nil, csgerrors.BadRegex(err)
	}

	var pathMatchers []glob.Glob
	literalPaths := make(map[string]bool, len(cond.FilePaths))
	for _, p := range cond.FilePaths {
		literalPaths[p] = true
		if g, gerr := glob.Compile(p, '/'); gerr == nil {
			pathMatchers = append(pathMatchers, g)
		}
	}

	g := proj.Graph
	type key struct {
		path             string
		line, colS, colE uint32
	}
	seen := make(map[key]bool)
	var incidents []types.Incident
	var iterErr error

	g.IterNodes(func(n graph.Node) bool {
		if ctx.Err() != nil {
			iterErr = csgerrors.FromContext(ctx.Err())
			return false
		}
		if n.Attrs[types.AttrSyntaxType] != string(types.SyntaxName) {
			return true
		}
		if cond.Location != "" && cond.Location != types.LocationAll {
			if n.Attrs[types.AttrLocation] != string(cond.Location) {
				return true
			}
		}
		if cond.SourceFilter != "" && n.Attrs[types.AttrSourceType] != string(cond.SourceFilter) {
			return true
		}

		rec, ok := g.File(n.File)
		if !ok {
			return true // orphaned node (I6 traversal anomaly): log-and-omit, not a query failure
		}

		fqdn, ok := proj.Index[n.Handle]
		if !ok {
			fqdn = n.Attrs[types.AttrSymbol]
		}
		if !matchesAnyCandidate(re, fqdn, rec.Usings) {
			return true
		}

		if len(cond.FilePaths) > 0 && !pathMatches(rec.AbsPath, literalPaths, pathMatchers) {
			return true
		}

		ft, ok := proj.Files[rec.AbsPath]
		if !ok {
			return true
		}
		startLine, startCol := ft.LineCol(n.Span.StartByte)
		_, endCol := ft.LineCol(n.Span.EndByte)

		k := key{path: rec.AbsPath, line: startLine, colS: startCol, colE: endCol}
		if seen[k] {
			return true
		}
		seen[k] = true

		sourceType, _ := n.Attrs.SourceType()
		incidents = append(incidents, types.Incident{
			FileURI:     "file://" + rec.AbsPath,
			LineNumber:  startLine,
			ColumnStart: startCol,
			ColumnEnd:   endCol,
			SourceType:  sourceType,
		})
		return true
	})

	if iterErr != nil {
		return nil, iterErr
	}

	sort.Slice(incidents, func(i, j int) bool {
		a, b := incidents[i], incidents[j]
		if a.FileURI != b.FileURI {
			return a.FileURI < b.FileURI
		}
		if a.LineNumber != b.LineNumber {
			return a.LineNumber < b.LineNumber
		}
		return a.ColumnStart < b.ColumnStart
	})
	return incidents, nil
}

// matchesAnyCandidate tests fqdn against re, and, if fqdn is a bare (unqualified)
// name, also tests it qualified by each of the file's active `using` namespace
// imports. This mirrors get_starting_nodes's Import-node namespace gating: a
// reference written as `Controller` under `using System.Web.Mvc;` is reachable
// by a pattern anchored on `System.Web.Mvc.*` even though nothing in this
// system resolves the reference to the definition it names (§9 non-goal: no
// alias/type resolution). It is still only a candidate-string expansion, not
// name resolution: a `using X = Y;` alias is not unwound here, only plain
// namespace imports are tried as qualifying prefixes.
func matchesAnyCandidate(re *regexp.Regexp, fqdn string, usings []string) bool {
	if re.MatchString(fqdn) {
		return true
	}
	if strings.Contains(fqdn, ".") {
		return false
	}
	for _, ns := range usings {
		if re.MatchString(ns + "." + fqdn) {
			return true
		}
	}
	return false
}

func pathMatches(absPath string, literals map[string]bool, matchers []glob.Glob) bool {
	if literals[absPath] {
		return true
	}
	for _, m := range matchers {
		if m.Match(absPath) {
			return true
		}
	}
	return false
}

// compileAnchored wraps pattern so a match must cover the whole candidate
// string (§4.7 step 3: "anchored match: full-string"), matching what a bare
// `^...$` would do without requiring callers to write it themselves.
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(fmt.Sprintf("^(?:%s)$", pattern))
}
