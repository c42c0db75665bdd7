// Package mcpserver exposes the Clarivox pipeline as an MCP server.
//
// Agents connect over stdio or streamable HTTP (the official MCP Go SDK,
// github.com/modelcontextprotocol/go-sdk) and call tools to clean
// transcripts and query stored results. The server is a thin adapter: all
// pipeline semantics live in [app.App].
package mcpserver

import (
	"context"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hmorven/clarivox/internal/app"
	"github.com/hmorven/clarivox/internal/feedback"
	"github.com/hmorven/clarivox/internal/observe"
	"github.com/hmorven/clarivox/pkg/dialogue"
)

// Server wraps an MCP server exposing the transcript cleaning tools.
type Server struct {
	app *app.App
	srv *mcpsdk.Server
}

// ProcessArgs is the input of the process_transcript tool.
type ProcessArgs struct {
	// Transcript is the raw speaker-labeled transcript to clean.
	Transcript dialogue.Transcript `json:"transcript"`
}

// GetResultArgs is the input of the get_result tool.
type GetResultArgs struct {
	// TranscriptID identifies the stored result.
	TranscriptID string `json:"transcript_id"`
}

// ListResultsArgs is the input of the list_results tool.
type ListResultsArgs struct {
	// Limit caps the number of summaries returned. Zero returns all.
	Limit int `json:"limit,omitempty"`
}

// ListResultsOutput is the output of the list_results tool.
type ListResultsOutput struct {
	Results []ResultSummary `json:"results"`
}

// ResultSummary is one stored result in a list_results response.
type ResultSummary struct {
	TranscriptID string `json:"transcript_id"`
	Turns        int    `json:"turns"`
	Degraded     int    `json:"degraded_turns"`
	Corrections  int    `json:"corrections"`
	Flags        int    `json:"flags"`
}

// New creates an MCP server backed by the given application. The
// process_transcript tool is always available; the result query tools are
// registered only when a result store is configured.
func New(a *app.App) *Server {
	s := &Server{
		app: a,
		srv: mcpsdk.NewServer(
			&mcpsdk.Implementation{Name: "clarivox", Version: "1.0.0"},
			nil,
		),
	}

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name: "process_transcript",
		Description: "Clean a clinical dialogue transcript: remove disfluencies, " +
			"resolve self-corrections, extract entities, and flag risky " +
			"medication questions. Returns the full audit trail.",
	}, s.processTranscript)

	if a.Feedback() != nil {
		mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
			Name: "submit_feedback",
			Description: "Record reviewer feedback on a cleaned transcript: " +
				"accuracy ratings for correction resolution and entity " +
				"extraction, plus free-form comments.",
		}, s.submitFeedback)
	}

	if a.Results() != nil {
		mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
			Name:        "get_result",
			Description: "Fetch the stored cleaning result for a transcript ID.",
		}, s.getResult)
		mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
			Name:        "list_results",
			Description: "List stored cleaning results, most recent first.",
		}, s.listResults)
	}

	return s
}

// ServeStdio runs the server over stdin/stdout until ctx is cancelled or
// the client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.srv.Run(ctx, &mcpsdk.StdioTransport{})
}

// HTTPHandler returns a streamable-HTTP handler for mounting the server
// under an HTTP mux.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(
		func(*http.Request) *mcpsdk.Server { return s.srv },
		nil,
	)
}

// ─── Tool handlers ───────────────────────────────────────────────────────────

func (s *Server) processTranscript(ctx context.Context, req *mcpsdk.CallToolRequest, args ProcessArgs) (*mcpsdk.CallToolResult, dialogue.Result, error) {
	log := observe.Logger(ctx)
	log.Info("mcp tool call", "tool", "process_transcript", "transcript_id", args.Transcript.ID, "turns", len(args.Transcript.Turns))

	res, err := s.app.ProcessOne(ctx, args.Transcript)
	if err != nil {
		return nil, dialogue.Result{}, err
	}
	return nil, res, nil
}

// FeedbackOutput acknowledges a stored feedback entry.
type FeedbackOutput struct {
	Stored bool `json:"stored"`
}

func (s *Server) submitFeedback(ctx context.Context, req *mcpsdk.CallToolRequest, args feedback.Feedback) (*mcpsdk.CallToolResult, FeedbackOutput, error) {
	if args.TranscriptID == "" {
		return nil, FeedbackOutput{}, fmt.Errorf("transcript_id is required")
	}
	if err := s.app.Feedback().SaveFeedback(args); err != nil {
		return nil, FeedbackOutput{}, err
	}
	return nil, FeedbackOutput{Stored: true}, nil
}

func (s *Server) getResult(ctx context.Context, req *mcpsdk.CallToolRequest, args GetResultArgs) (*mcpsdk.CallToolResult, dialogue.Result, error) {
	if args.TranscriptID == "" {
		return nil, dialogue.Result{}, fmt.Errorf("transcript_id is required")
	}
	rec, err := s.app.Results().Get(ctx, args.TranscriptID)
	if err != nil {
		return nil, dialogue.Result{}, err
	}
	if rec == nil {
		return nil, dialogue.Result{}, fmt.Errorf("no result stored for transcript %q", args.TranscriptID)
	}
	return nil, rec.Result, nil
}

func (s *Server) listResults(ctx context.Context, req *mcpsdk.CallToolRequest, args ListResultsArgs) (*mcpsdk.CallToolResult, ListResultsOutput, error) {
	summaries, err := s.app.Results().List(ctx, args.Limit)
	if err != nil {
		return nil, ListResultsOutput{}, err
	}
	out := ListResultsOutput{Results: make([]ResultSummary, 0, len(summaries))}
	for _, sum := range summaries {
		out.Results = append(out.Results, ResultSummary{
			TranscriptID: sum.TranscriptID,
			Turns:        sum.TurnCount,
			Degraded:     sum.Degraded,
			Corrections:  sum.Corrections,
			Flags:        sum.Flags,
		})
	}
	return nil, out, nil
}
