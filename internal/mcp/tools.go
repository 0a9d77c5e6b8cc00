package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var submitToolDef = mcp.NewTool("capture_submit",
	mcp.WithDescription("Record a new raw capture. It enters the pipeline awaiting clarification and a decision."),
	mcp.WithString("raw_text",
		mcp.Required(),
		mcp.Description("The raw captured text"),
	),
	mcp.WithString("source",
		mcp.Description("Origin of the capture (default: api)"),
	),
	mcp.WithString("source_id",
		mcp.Description("Stable per-message id from the source, deduplicates repeated submissions"),
	),
	mcp.WithString("source_link",
		mcp.Description("Link back to the original message"),
	),
)

var decideToolDef = mcp.NewTool("capture_decide",
	mcp.WithDescription("Approve or reject a proposed capture. The decision is one-way; approved captures are committed to the task manager by the background worker."),
	mcp.WithString("capture_id",
		mcp.Required(),
		mcp.Description("ULID of the capture"),
	),
	mcp.WithString("decision",
		mcp.Required(),
		mcp.Description("One of: approve, reject"),
		mcp.Enum("approve", "reject"),
	),
	mcp.WithString("notes",
		mcp.Description("Optional decision notes"),
	),
)

var clarifyToolDef = mcp.NewTool("capture_clarify",
	mcp.WithDescription("Attach a hand-written clarification to a capture, bypassing the automatic clarifier. The payload must be a valid clarification JSON object."),
	mcp.WithString("capture_id",
		mcp.Required(),
		mcp.Description("ULID of the capture"),
	),
	mcp.WithString("clarify_json",
		mcp.Required(),
		mcp.Description("Clarification JSON (type, clarified_text, confidence_score, and type-specific fields)"),
	),
)

var getToolDef = mcp.NewTool("capture_get",
	mcp.WithDescription("Fetch a single capture with its full pipeline state."),
	mcp.WithString("capture_id",
		mcp.Required(),
		mcp.Description("ULID of the capture"),
	),
)

var statusToolDef = mcp.NewTool("pipeline_status",
	mcp.WithDescription("Pipeline read model: capture counts along every status dimension, backlog counts, and the captures awaiting a decision."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of proposed captures to return (default 20, max 100)"),
	),
)

var backlogImportToolDef = mcp.NewTool("backlog_import",
	mcp.WithDescription("Bulk-import a task dump into the backlog. Items are drained into the pipeline at a controlled daily rate."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The dump: a markdown list, or plain text with one task per line"),
	),
)
