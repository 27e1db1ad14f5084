package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/memento-engine/memengine/internal/memerr"
	"github.com/memento-engine/memengine/internal/service"
	"github.com/memento-engine/memengine/internal/storage"
)

// Server implements the Model Context Protocol (MCP) for the memory
// engine. It is a thin JSON-RPC 2.0 adapter over service.Service: all
// behavior (validation, hashing, response shaping) lives there, not here.
type Server struct {
	svc *service.Service
}

// NewServer creates a new MCP server bound to svc.
func NewServer(svc *service.Service) *Server {
	return &Server{svc: svc}
}

// HandleRequest processes a single JSON-RPC 2.0 request and returns the
// encoded response. This is the main entry point for MCP protocol handling;
// the stdio transport calls it once per line.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", nil)
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized":
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	case "store_memory":
		result, err = s.handleStoreMemory(ctx, req.Params)
	case "retrieve_memory":
		result, err = s.handleRetrieveMemory(ctx, req.Params)
	case "search_by_tag":
		result, err = s.handleSearchByTag(ctx, req.Params)
	case "search_by_time":
		result, err = s.handleSearchByTime(ctx, req.Params)
	case "search_similar":
		result, err = s.handleSearchSimilar(ctx, req.Params)
	case "delete_memory":
		result, err = s.handleDeleteMemory(ctx, req.Params)
	case "delete_by_tag":
		result, err = s.handleDeleteByTag(ctx, req.Params)
	case "update_memory_metadata":
		result, err = s.handleUpdateMemoryMetadata(ctx, req.Params)
	case "list_memories":
		result, err = s.handleListMemories(ctx, req.Params)
	case "check_database_health":
		result, err = s.handleCheckDatabaseHealth(ctx, req.Params)

	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorFromErr(req.ID, err)
	}

	return s.successResponse(req.ID, result)
}

// --- native JSON-RPC method handlers -----------------------------------

func (s *Server) handleStoreMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args StoreMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid params", err)
	}
	return s.svc.StoreMemory(ctx, service.StoreRequest{
		Content:        args.Content,
		Tags:           args.Tags,
		MemoryType:     args.MemoryType,
		Metadata:       args.Metadata,
		ClientHostname: args.ClientHostname,
	})
}

func (s *Server) handleRetrieveMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args RetrieveMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid params", err)
	}
	nResults := args.NResults
	if nResults == 0 {
		nResults = 5
	}
	return s.svc.RetrieveMemory(ctx, args.Query, nResults, args.MinSimilarity)
}

func (s *Server) handleSearchByTag(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchByTagArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid params", err)
	}
	return s.svc.SearchByTag(ctx, args.Tags, args.MatchAll)
}

func (s *Server) handleSearchByTime(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchByTimeArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid params", err)
	}
	nResults := args.NResults
	if nResults == 0 {
		nResults = 5
	}

	var start, end *time.Time
	if args.QueryString == "" {
		if args.Start != "" {
			t, err := time.Parse(time.RFC3339, args.Start)
			if err != nil {
				return nil, memerr.New(memerr.KindInvalidInput, fmt.Sprintf("invalid start: %q", args.Start))
			}
			start = &t
		}
		if args.End != "" {
			t, err := time.Parse(time.RFC3339, args.End)
			if err != nil {
				return nil, memerr.New(memerr.KindInvalidInput, fmt.Sprintf("invalid end: %q", args.End))
			}
			end = &t
		}
	}

	return s.svc.SearchByTime(ctx, args.QueryString, start, end, nResults)
}

func (s *Server) handleSearchSimilar(ctx context.Context, params interface{}) (interface{}, error) {
	var args SearchSimilarArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid params", err)
	}
	nResults := args.NResults
	if nResults == 0 {
		nResults = 5
	}
	return s.svc.SearchSimilar(ctx, args.ContentHash, nResults)
}

func (s *Server) handleDeleteMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args DeleteMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid params", err)
	}
	return s.svc.DeleteMemory(ctx, args.ContentHash)
}

func (s *Server) handleDeleteByTag(ctx context.Context, params interface{}) (interface{}, error) {
	var args DeleteByTagArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid params", err)
	}
	return s.svc.DeleteByTag(ctx, args.Tag, args.Detail)
}

func (s *Server) handleUpdateMemoryMetadata(ctx context.Context, params interface{}) (interface{}, error) {
	var args UpdateMemoryMetadataArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid params", err)
	}
	patch := storage.MetadataPatch{
		Metadata: args.Metadata,
		Tags:     args.Tags,
	}
	if args.MemoryType != "" {
		patch.MemoryType = &args.MemoryType
	}
	return s.svc.UpdateMemoryMetadata(ctx, args.ContentHash, patch)
}

func (s *Server) handleListMemories(ctx context.Context, params interface{}) (interface{}, error) {
	var args ListMemoriesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid params", err)
	}
	return s.svc.ListMemories(ctx, storage.ListOptions{
		Page:       args.Page,
		PageSize:   args.PageSize,
		Tag:        args.Tag,
		MemoryType: args.MemoryType,
	})
}

func (s *Server) handleCheckDatabaseHealth(ctx context.Context, _ interface{}) (interface{}, error) {
	return s.svc.CheckDatabaseHealth(ctx)
}

// --- standard MCP protocol handlers -------------------------------------

func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "memengine",
			Version: "1.0.0",
		},
	}, nil
}

func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, memerr.Wrap(memerr.KindInvalidInput, "invalid params", err)
	}

	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var rawParams interface{}
	if err := json.Unmarshal(argsJSON, &rawParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "store_memory":
		result, handlerErr = s.handleStoreMemory(ctx, rawParams)
	case "retrieve_memory":
		result, handlerErr = s.handleRetrieveMemory(ctx, rawParams)
	case "search_by_tag":
		result, handlerErr = s.handleSearchByTag(ctx, rawParams)
	case "search_by_time":
		result, handlerErr = s.handleSearchByTime(ctx, rawParams)
	case "search_similar":
		result, handlerErr = s.handleSearchSimilar(ctx, rawParams)
	case "delete_memory":
		result, handlerErr = s.handleDeleteMemory(ctx, rawParams)
	case "delete_by_tag":
		result, handlerErr = s.handleDeleteByTag(ctx, rawParams)
	case "update_memory_metadata":
		result, handlerErr = s.handleUpdateMemoryMetadata(ctx, rawParams)
	case "list_memories":
		result, handlerErr = s.handleListMemories(ctx, rawParams)
	case "check_database_health":
		result, handlerErr = s.handleCheckDatabaseHealth(ctx, rawParams)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// buildToolsList returns the canonical list of MCP tool definitions — the
// ten Memory Service operations (spec §6.1), nothing more.
func (s *Server) buildToolsList() []MCPTool {
	return []MCPTool{
		{
			Name:        "store_memory",
			Description: "Store a new memory. Content is deduplicated by its content hash: storing identical content twice is a no-op success, not an error.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"content"},
				"properties": map[string]interface{}{
					"content":         map[string]interface{}{"type": "string", "description": "The memory content to store (required)"},
					"tags":            map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Optional tags for categorization"},
					"memory_type":     map[string]interface{}{"type": "string", "description": "Memory type (default: note)"},
					"metadata":        map[string]interface{}{"type": "object", "description": "Arbitrary JSON-serializable metadata"},
					"client_hostname": map[string]interface{}{"type": "string", "description": "Explicit hostname for source tagging; overrides auto-detection"},
				},
			},
		},
		{
			Name:        "retrieve_memory",
			Description: "Semantic search over stored memories, ranked by cosine similarity.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]interface{}{
					"query":          map[string]interface{}{"type": "string", "description": "Natural-language query (required)"},
					"n_results":      map[string]interface{}{"type": "integer", "description": "Max results to return (default 5)"},
					"min_similarity": map[string]interface{}{"type": "number", "description": "Minimum similarity_score to include (default 0.0)"},
				},
			},
		},
		{
			Name:        "search_by_tag",
			Description: "Find memories carrying the given tags.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"tags"},
				"properties": map[string]interface{}{
					"tags":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Tags to search for (required, at least one)"},
					"match_all": map[string]interface{}{"type": "boolean", "description": "If true, require every tag (AND); default is any tag (OR)"},
				},
			},
		},
		{
			Name:        "search_by_time",
			Description: "Find memories created within a time window. Pass either a natural-language query_string (e.g. \"yesterday\", \"last week\", \"between 2026-01-01 and 2026-02-01\") or an explicit start/end pair.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query_string": map[string]interface{}{"type": "string", "description": "Natural-language time expression"},
					"start":        map[string]interface{}{"type": "string", "description": "RFC-3339 lower bound; used with end when query_string is omitted"},
					"end":          map[string]interface{}{"type": "string", "description": "RFC-3339 upper bound; used with start when query_string is omitted"},
					"n_results":    map[string]interface{}{"type": "integer", "description": "Max results to return (default 5)"},
				},
			},
		},
		{
			Name:        "search_similar",
			Description: "Find memories semantically similar to an existing stored memory, identified by its content hash.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"content_hash"},
				"properties": map[string]interface{}{
					"content_hash": map[string]interface{}{"type": "string", "description": "Content hash of the source memory (required)"},
					"n_results":    map[string]interface{}{"type": "integer", "description": "Max results to return (default 5)"},
				},
			},
		},
		{
			Name:        "delete_memory",
			Description: "Delete a single memory by its content hash.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"content_hash"},
				"properties": map[string]interface{}{
					"content_hash": map[string]interface{}{"type": "string", "description": "Content hash of the memory to delete (required)"},
				},
			},
		},
		{
			Name:        "delete_by_tag",
			Description: "Delete every memory carrying the given tag. Returns a count, and the deleted content hashes when detail is true.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"tag"},
				"properties": map[string]interface{}{
					"tag":    map[string]interface{}{"type": "string", "description": "Tag to match for deletion (required)"},
					"detail": map[string]interface{}{"type": "boolean", "description": "If true, include the deleted content hashes in the response"},
				},
			},
		},
		{
			Name:        "update_memory_metadata",
			Description: "Update a memory's metadata and/or tags. Metadata merges into the existing map; tags, when provided, replace the existing tag list. The content and content_hash never change.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"content_hash"},
				"properties": map[string]interface{}{
					"content_hash": map[string]interface{}{"type": "string", "description": "Content hash of the memory to update (required)"},
					"metadata":     map[string]interface{}{"type": "object", "description": "Metadata keys to merge in"},
					"tags":         map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Replacement tag list"},
					"memory_type":  map[string]interface{}{"type": "string", "description": "Replacement memory type"},
				},
			},
		},
		{
			Name:        "list_memories",
			Description: "Paginated listing of memories, optionally filtered by tag or memory type.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"page":        map[string]interface{}{"type": "integer", "description": "Page number (default 1)"},
					"page_size":   map[string]interface{}{"type": "integer", "description": "Results per page (default 10, max 100)"},
					"tag":         map[string]interface{}{"type": "string", "description": "Filter to memories carrying this tag"},
					"memory_type": map[string]interface{}{"type": "string", "description": "Filter to memories of this type"},
				},
			},
		},
		{
			Name:        "check_database_health",
			Description: "Return storage backend health and statistics (total memories, tags, storage size, embedding model, and whether the backend is healthy).",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// --- helpers -------------------------------------------------------------

func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}

// errorFromErr maps a service/storage error to its JSON-RPC code via the
// shared error taxonomy (spec §4.11), so a NotFound from any backend always
// surfaces with the same code regardless of transport.
func (s *Server) errorFromErr(id interface{}, err error) ([]byte, error) {
	kind := memerr.KindOf(err)
	code := memerr.JSONRPCCode(kind)
	if kind == memerr.KindInternal {
		log.Printf("memengine-mcp: internal error: %v", err)
	}
	return s.errorResponse(id, code, err.Error(), nil)
}
