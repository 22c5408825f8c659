// Package mcp exposes workflow execution as MCP tools so agent clients can
// run and inspect workflows over the same service.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"flowline/backend/internal/auth"
	"flowline/backend/internal/services"
)

type Server struct {
	mcpServer  *server.MCPServer
	executions *services.ExecutionService
}

func NewServer(executions *services.ExecutionService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Flowline",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		executions: executions,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_workflow",
			mcp.WithDescription("Start an asynchronous execution of a workflow and return its execution id"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The id of the workflow to run")),
			mcp.WithString("input_data", mcp.Description("Optional JSON object passed to the workflow as input")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_executions",
			mcp.WithDescription("List recent workflow executions, newest first"),
			mcp.WithString("workflow_id", mcp.Description("Optional workflow id to filter by")),
		),
		s.handleListExecutions,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_execution",
			mcp.WithDescription("Fetch one execution including status, output and logs"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The execution id")),
		),
		s.handleGetExecution,
	)
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, ok := auth.OwnerID(ctx)
	if !ok {
		return mcp.NewToolResultError("No authenticated user"), nil
	}

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	req := services.RunRequest{WorkflowID: workflowID}
	if raw, ok := args["input_data"].(string); ok && raw != "" {
		req.InputData = json.RawMessage(raw)
	}

	executionID, err := s.executions.RunWorkflow(ctx, owner, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(map[string]string{"executionId": executionID})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListExecutions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, ok := auth.OwnerID(ctx)
	if !ok {
		return mcp.NewToolResultError("No authenticated user"), nil
	}

	workflowID := ""
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		if id, ok := args["workflow_id"].(string); ok {
			workflowID = id
		}
	}

	executions, err := s.executions.GetExecutions(ctx, owner, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list executions: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(executions)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, ok := auth.OwnerID(ctx)
	if !ok {
		return mcp.NewToolResultError("No authenticated user"), nil
	}

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	id, ok := args["id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: id"), nil
	}

	execution, err := s.executions.GetExecution(ctx, owner, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get execution: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(execution)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
