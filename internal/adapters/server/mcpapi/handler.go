// Package mcpapi exposes the personnel service as MCP tools over stateless streamable HTTP.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hylla/perangkat/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler serves MCP JSON-RPC requests on one endpoint.
type Handler struct {
	next http.Handler
}

// NewHandler registers the personnel tools and returns the transport handler.
func NewHandler(cfg Config, service common.PersonnelService) (*Handler, error) {
	if service == nil {
		return nil, errors.New("personnel service is required")
	}
	cfg = withDefaults(cfg)

	srv := mcpserver.NewMCPServer(cfg.ServerName, cfg.ServerVersion, mcpserver.WithToolCapabilities(false))
	for _, t := range personnelTools(service) {
		srv.AddTool(t.def, jsonTool(t.def.Name, t.call))
	}
	return &Handler{next: mcpserver.NewStreamableHTTPServer(srv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.next == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.next.ServeHTTP(w, r)
}

func withDefaults(cfg Config) Config {
	if cfg.ServerName = strings.TrimSpace(cfg.ServerName); cfg.ServerName == "" {
		cfg.ServerName = "perangkat"
	}
	if cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion); cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	path := strings.Trim(strings.TrimSpace(cfg.EndpointPath), "/")
	if path == "" {
		path = "mcp"
	}
	cfg.EndpointPath = "/" + path
	return cfg
}

type toolCall func(context.Context, mcp.CallToolRequest) (any, error)

type tool struct {
	def  mcp.Tool
	call toolCall
}

func personnelTools(service common.PersonnelService) []tool {
	return []tool{
		{
			def: mcp.NewTool("perangkat.run_scan",
				mcp.WithDescription("Archive every position whose tenure ended. Runs at most once per throttle window unless force is set."),
				mcp.WithBoolean("force", mcp.Description("Ignore the throttle window")),
			),
			call: func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
				return service.RunScan(ctx, common.ScanRequest{Force: req.GetBool("force", false)})
			},
		},
		{
			def: mcp.NewTool("perangkat.list_history",
				mcp.WithDescription("List archived positions, newest archival first."),
				mcp.WithString("village", mcp.Description("Filter by village")),
				mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
			),
			call: func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
				records, err := service.ListHistory(ctx, common.ListHistoryRequest{
					Village: req.GetString("village", ""),
					Limit:   req.GetInt("limit", 0),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"history": records}, nil
			},
		},
		{
			def: mcp.NewTool("perangkat.restore_position",
				mcp.WithDescription("Move one archived position back to the active store under its original id."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Archived position id")),
			),
			call: func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
				id, err := required(req, "id")
				if err != nil {
					return nil, err
				}
				return service.RestorePosition(ctx, common.RestoreRequest{ID: id})
			},
		},
		{
			def: mcp.NewTool("perangkat.reconcile_import",
				mcp.WithDescription("Reconcile externally sourced occupant rows against active positions in one transaction."),
				mcp.WithArray("rows", mcp.Required(), mcp.Description("Rows with village, title, and occupant fields"), mcp.Items(map[string]any{"type": "object"})),
				mcp.WithString("actor", mcp.Description("Actor recorded on change events")),
				mcp.WithString("village_scope", mcp.Description("Restrict writes to one village")),
			),
			call: func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
				var args common.ImportRequest
				if err := req.BindArguments(&args); err != nil {
					return nil, errors.Join(common.ErrInvalidRequest, err)
				}
				if args.Rows == nil {
					return nil, fmt.Errorf("rows is required: %w", common.ErrInvalidRequest)
				}
				return service.ReconcileImport(ctx, args)
			},
		},
		{
			def: mcp.NewTool("perangkat.find_reusable_slot",
				mcp.WithDescription("Find an active record for (village, title) that is vacant or past its tenure end."),
				mcp.WithString("village", mcp.Required(), mcp.Description("Village name")),
				mcp.WithString("title", mcp.Required(), mcp.Description("Exact position title")),
			),
			call: func(ctx context.Context, req mcp.CallToolRequest) (any, error) {
				village, err := required(req, "village")
				if err != nil {
					return nil, err
				}
				title, err := required(req, "title")
				if err != nil {
					return nil, err
				}
				return service.FindReusableSlot(ctx, common.SlotRequest{Village: village, Title: title})
			},
		},
	}
}

func required(req mcp.CallToolRequest, name string) (string, error) {
	v, err := req.RequireString(name)
	if err != nil {
		return "", errors.Join(common.ErrInvalidRequest, err)
	}
	return v, nil
}

// jsonTool turns service failures into tool errors. Only an encoding failure fails the JSON-RPC call.
func jsonTool(name string, call toolCall) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := call(ctx, req)
		if err != nil {
			return toolResultFromError(err), nil
		}
		result, err := mcp.NewToolResultJSON(out)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", name, err)
		}
		return result, nil
	}
}

var errorPrefixes = []struct {
	target error
	prefix string
}{
	{common.ErrInvalidRequest, "invalid_request"},
	{common.ErrNotFound, "not_found"},
	{common.ErrConflict, "conflict"},
	{common.ErrUnavailable, "service_unavailable"},
}

// toolResultFromError prefixes the message with a stable error code.
func toolResultFromError(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("unknown error")
	}
	for _, p := range errorPrefixes {
		if errors.Is(err, p.target) {
			return mcp.NewToolResultError(p.prefix + ": " + err.Error())
		}
	}
	return mcp.NewToolResultError("internal_error: " + err.Error())
}
