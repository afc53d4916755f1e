package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL loads the project settings from a .csgraph.kdl file at the top of
// projectRoot, if one exists. It returns nil, nil when no such file is
// present, in which case the caller falls back to package defaults.
func LoadKDL(projectRoot string) (*Config, error) {
	kdlPath := filepath.Join(projectRoot, ".csgraph.kdl")

	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read .csgraph.kdl: %w", err)
	}

	return parseKDL(string(content))
}

// parseKDL walks the top-level nodes of a .csgraph.kdl document. Recognized
// nodes:
//
//	analysis-mode "full"
//	db-path "/var/lib/csgraph/project.db"
//	ilspy-cmd "/usr/local/bin/ilspycmd"
//	paket-cmd "/usr/local/bin/paket"
//	workers 4
//	include { "**/*.cs" }
//	exclude { "**/bin/**" ; "**/obj/**" }
func parseKDL(content string) (*Config, error) {
	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("invalid .csgraph.kdl: %w", err)
	}

	cfg := &Config{}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "analysis-mode":
			if s, ok := firstStringArg(n); ok {
				cfg.AnalysisMode = AnalysisMode(s)
			}
		case "db-path":
			if s, ok := firstStringArg(n); ok {
				cfg.ProviderSpecificConfig.DBPath = s
			}
		case "ilspy-cmd":
			if s, ok := firstStringArg(n); ok {
				cfg.ProviderSpecificConfig.IlspyCmd = s
			}
		case "paket-cmd":
			if s, ok := firstStringArg(n); ok {
				cfg.ProviderSpecificConfig.PaketCmd = s
			}
		case "workers":
			if i, ok := firstIntArg(n); ok {
				cfg.Workers = i
			}
		case "include":
			cfg.Include = collectStringArgs(n)
		case "exclude":
			cfg.Exclude = collectStringArgs(n)
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

// collectStringArgs gathers a node's string values whether they were
// written inline (exclude "a" "b") or as block children (exclude { "a" ; "b" }).
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}

	return out
}
