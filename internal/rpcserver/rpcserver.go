// Package rpcserver exposes the provider's three operations —
// Capabilities, Init, Evaluate — as MCP tools over a stdio transport
// (§4.8, §6). It is a thin, interfaces-only shell: request/response shapes
// are translated to and from internal/config, internal/project and
// internal/query calls, and every error is mapped to the RPC error taxonomy
// (§7) rather than leaking a Go error type across the wire.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/csgraph/provider/internal/config"
	"github.com/csgraph/provider/internal/debug"
	csgerrors "github.com/csgraph/provider/internal/errors"
	"github.com/csgraph/provider/internal/project"
	"github.com/csgraph/provider/internal/query"
	"github.com/csgraph/provider/internal/types"
	"github.com/csgraph/provider/internal/version"
)

// Server hosts the MCP tool surface over a single project.Manager. Init
// replaces the active project; Evaluate always queries whatever project is
// currently active, per the O3 ordering rule (a second init does not
// interrupt in-flight evaluates against the previous sealed graph).
type Server struct {
	server *mcp.Server
	mgr    *project.Manager
}

// NewServer builds the MCP server and registers its tools. mgr is not
// created here so the caller can Close it independently of server
// lifetime (useful in tests that build several servers against one
// manager's cached stores).
func NewServer(mgr *project.Manager) *Server {
	s := &Server{
		mgr: mgr,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "csgraph-provider",
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	return s
}

// Start runs the server over stdio until ctx is cancelled or the transport
// closes. Debug output is suppressed for the duration since a stray write
// to stdout would corrupt the wire protocol.
func (s *Server) Start(ctx context.Context) error {
	debug.SetRPCMode(true)
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name:        "capabilities",
		Description: "List the query capabilities this provider supports.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
		},
	}, s.handleCapabilities)

	s.server.AddTool(&mcp.Tool{
		Name:        "init",
		Description: "Index a C# project root, building or reloading its name-resolution graph.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"analysisMode": {
					Type:        "string",
					Description: `"source-only" or "full" (full also decompiles dependencies)`,
				},
				"location": {
					Type:        "string",
					Description: "absolute path to the project root",
				},
				"providerSpecificConfig": {
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"ilspy_cmd": {Type: "string", Description: "path to the decompiler executable"},
						"paket_cmd": {Type: "string", Description: "path to the package resolver executable"},
						"db_path":   {Type: "string", Description: "persistence file path, default /tmp/c_sharp_provider.db"},
					},
				},
			},
			Required: []string{"location"},
		},
	}, s.handleInit)

	s.server.AddTool(&mcp.Tool{
		Name:        "evaluate",
		Description: `Run a capability query ("referenced") against the active project.`,
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"cap": {
					Type:        "string",
					Description: `the capability to invoke; currently only "referenced"`,
				},
				"conditionInfo": {
					Type:        "string",
					Description: `JSON string of {"referenced": {"pattern","location"?,"file_paths"?,"source"?}}`,
				},
			},
			Required: []string{"cap", "conditionInfo"},
		},
	}, s.handleEvaluate)
}

// wireConfig mirrors the Config wire shape (§6) exactly, including its
// snake_case providerSpecificConfig fields.
type wireConfig struct {
	AnalysisMode           string `json:"analysisMode"`
	Location               string `json:"location"`
	ProviderSpecificConfig struct {
		IlspyCmd string `json:"ilspy_cmd"`
		PaketCmd string `json:"paket_cmd"`
		DBPath   string `json:"db_path"`
	} `json:"providerSpecificConfig"`
}

type initResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type capabilitiesResult struct {
	Capabilities []capability `json:"capabilities"`
}

type capability struct {
	Name string `json:"name"`
}

func (s *Server) handleCapabilities(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(capabilitiesResult{Capabilities: []capability{{Name: "referenced"}}}, false)
}

func (s *Server) handleInit(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqID := uuid.NewString()

	var wire wireConfig
	if err := json.Unmarshal(req.Params.Arguments, &wire); err != nil {
		debug.LogRPC("[%s] init: bad request: %v", reqID, err)
		return jsonResult(initResult{Success: false, Error: err.Error()}, true)
	}

	cfg := config.Config{
		AnalysisMode: config.AnalysisMode(wire.AnalysisMode),
		Location:     wire.Location,
		ProviderSpecificConfig: config.ProviderSpecificConfig{
			IlspyCmd: wire.ProviderSpecificConfig.IlspyCmd,
			PaketCmd: wire.ProviderSpecificConfig.PaketCmd,
			DBPath:   wire.ProviderSpecificConfig.DBPath,
		},
	}

	resolved, err := config.Load(wire.Location, cfg)
	if err != nil {
		debug.LogRPC("[%s] init: config load failed: %v", reqID, err)
		return jsonResult(initResult{Success: false, Error: err.Error()}, true)
	}

	debug.LogRPC("[%s] init: location=%s mode=%s", reqID, resolved.Location, resolved.AnalysisMode)
	if err := s.mgr.Init(ctx, resolved); err != nil {
		debug.LogRPC("[%s] init: failed: %v", reqID, err)
		return jsonResult(initResult{Success: false, Error: err.Error()}, true)
	}

	return jsonResult(initResult{Success: true}, false)
}

// referencedCondition is the "referenced" capability's payload, embedded
// in conditionInfo's JSON-string envelope.
type referencedCondition struct {
	Pattern   string   `json:"pattern"`
	Location  string   `json:"location,omitempty"`
	FilePaths []string `json:"file_paths,omitempty"`
	Source    string   `json:"source,omitempty"`
}

type evaluateRequest struct {
	Cap           string `json:"cap"`
	ConditionInfo string `json:"conditionInfo"`
}

type incidentWire struct {
	FileURI      string            `json:"file_uri"`
	LineNumber   uint32            `json:"line_number"`
	ColumnNumber uint32            `json:"column_number"`
	ColumnEnd    uint32            `json:"column_end"`
	Variables    map[string]string `json:"variables"`
}

type evaluateResult struct {
	Incidents []incidentWire `json:"incidents"`
}

func (s *Server) handleEvaluate(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reqID := uuid.NewString()

	var wire evaluateRequest
	if err := json.Unmarshal(req.Params.Arguments, &wire); err != nil {
		return jsonResult(rpcErrorPayload(csgerrors.BadCondition(err)), true)
	}

	if wire.Cap != "referenced" {
		return jsonResult(rpcErrorPayload(csgerrors.BadCondition(fmt.Errorf("unknown capability %q", wire.Cap))), true)
	}

	var envelope struct {
		Referenced referencedCondition `json:"referenced"`
	}
	if err := json.Unmarshal([]byte(wire.ConditionInfo), &envelope); err != nil {
		return jsonResult(rpcErrorPayload(csgerrors.BadCondition(err)), true)
	}

	cond := query.Condition{
		Pattern:      envelope.Referenced.Pattern,
		Location:     types.Location(envelope.Referenced.Location),
		SourceFilter: types.SourceType(envelope.Referenced.Source),
		FilePaths:    envelope.Referenced.FilePaths,
	}
	if cond.Location == "" {
		cond.Location = types.LocationAll
	}

	proj := s.mgr.Active()
	debug.LogRPC("[%s] evaluate: pattern=%q location=%s", reqID, cond.Pattern, cond.Location)

	incidents, err := query.Run(ctx, proj, cond)
	if err != nil {
		debug.LogRPC("[%s] evaluate: failed: %v", reqID, err)
		return jsonResult(rpcErrorPayload(err), true)
	}

	out := make([]incidentWire, 0, len(incidents))
	for _, inc := range incidents {
		out = append(out, incidentWire{
			FileURI:      inc.FileURI,
			LineNumber:   inc.LineNumber,
			ColumnNumber: inc.ColumnStart,
			ColumnEnd:    inc.ColumnEnd,
			Variables:    map[string]string{"source_type": string(inc.SourceType)},
		})
	}
	return jsonResult(evaluateResult{Incidents: out}, false)
}

// rpcErrorPayload renders err in the shape RPC clients expect for a failed
// evaluate call, preserving the error Kind so a caller can distinguish
// BadRegex/BadCondition (invalid argument) from NoProject (no active
// project) without string-matching the message.
func rpcErrorPayload(err error) map[string]any {
	var perr *csgerrors.ProviderError
	if errors.As(err, &perr) {
		return map[string]any{"error": perr.Error(), "kind": string(perr.Kind)}
	}
	return map[string]any{"error": err.Error()}
}

func jsonResult(v any, isError bool) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(content)}},
		IsError: isError,
	}, nil
}
