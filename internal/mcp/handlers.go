package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mkoskin/inflow/internal/backlog"
	"github.com/mkoskin/inflow/internal/config"
	"github.com/mkoskin/inflow/internal/errors"
	"github.com/mkoskin/inflow/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db  *sql.DB
	cfg *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config) *Handlers {
	return &Handlers{db: db, cfg: cfg}
}

// decode round-trips the tool arguments through JSON into the tool's
// request struct, so handlers never type-assert on raw argument maps.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}

// Request types for each tool

// SubmitRequest represents the arguments for capture_submit.
type SubmitRequest struct {
	RawText    string  `json:"raw_text"`
	Source     string  `json:"source,omitempty"`
	SourceID   *string `json:"source_id,omitempty"`
	SourceLink *string `json:"source_link,omitempty"`
}

// DecideRequest represents the arguments for capture_decide.
type DecideRequest struct {
	CaptureID string  `json:"capture_id"`
	Decision  string  `json:"decision"`
	Notes     *string `json:"notes,omitempty"`
}

// ClarifyRequest represents the arguments for capture_clarify.
type ClarifyRequest struct {
	CaptureID   string `json:"capture_id"`
	ClarifyJSON string `json:"clarify_json"`
}

// GetRequest represents the arguments for capture_get.
type GetRequest struct {
	CaptureID string `json:"capture_id"`
}

// StatusRequest represents the arguments for pipeline_status.
type StatusRequest struct {
	Limit int `json:"limit,omitempty"`
}

// BacklogImportRequest represents the arguments for backlog_import.
type BacklogImportRequest struct {
	Text string `json:"text"`
}

// HandleSubmit handles the capture_submit tool.
func (h *Handlers) HandleSubmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SubmitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Submit(h.db, ops.SubmitInput{
		RawText:    input.RawText,
		Source:     input.Source,
		SourceID:   input.SourceID,
		SourceLink: input.SourceLink,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDecide handles the capture_decide tool.
func (h *Handlers) HandleDecide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DecideRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Decide(h.db, ops.DecideInput{
		CaptureID: input.CaptureID,
		Decision:  ops.Decision(input.Decision),
		Notes:     input.Notes,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleClarify handles the capture_clarify tool.
func (h *Handlers) HandleClarify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClarifyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.AttachClarification(h.db, ops.AttachClarificationInput{
		CaptureID:   input.CaptureID,
		ClarifyJSON: input.ClarifyJSON,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleGet handles the capture_get tool.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.CaptureID == "" {
		return errorResult(errors.NewInvalidRequest("capture_id is required")), nil
	}

	result, err := ops.GetCapture(h.db, input.CaptureID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStatus handles the pipeline_status tool.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StatusRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Status(h.db, input.Limit)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBacklogImport handles the backlog_import tool.
func (h *Handlers) HandleBacklogImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BacklogImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := backlog.Import(h.db, backlog.ImportInput{Text: input.Text})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// errorResult builds an error tool result from a structured error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if inflowErr, ok := err.(*errors.InflowError); ok {
		errorObj := map[string]any{
			"code":    inflowErr.Code,
			"message": inflowErr.Message,
			"status":  inflowErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if inflowErr.Code != errors.ErrInternal && inflowErr.Details != nil {
			errorObj["details"] = inflowErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult builds a JSON tool result.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
