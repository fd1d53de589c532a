package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/reset"
	"github.com/aretw0/sessionflow/pkg/transition"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("session_snapshot",
		mcp.WithDescription("Return the current session state, gate tokens and active transition."),
	), s.handleSnapshot)

	s.mcpServer.AddTool(mcp.NewTool("session_start",
		mcp.WithDescription("Leave the frontend and load the gameplay scenes."),
	), s.handleStart)

	s.mcpServer.AddTool(mcp.NewTool("session_pause",
		mcp.WithDescription("Pause gameplay."),
	), s.handlePause)

	s.mcpServer.AddTool(mcp.NewTool("session_resume",
		mcp.WithDescription("Resume paused gameplay."),
	), s.handleResume)

	s.mcpServer.AddTool(mcp.NewTool("session_exit_to_menu",
		mcp.WithDescription("Return to the frontend scene."),
	), s.handleExit)

	s.mcpServer.AddTool(mcp.NewTool("session_reset",
		mcp.WithDescription("Restart the current run in place."),
		mcp.WithString("reason", mcp.Description("Why the run restarts")),
	), s.handleReset)

	s.mcpServer.AddTool(mcp.NewTool("session_level_change",
		mcp.WithDescription("Swap the gameplay scenes and start a new run there."),
		mcp.WithString("scenes", mcp.Required(), mcp.Description("Comma-separated scenes; the first becomes active")),
	), s.handleLevelChange)

	s.mcpServer.AddTool(mcp.NewTool("session_content_swap",
		mcp.WithDescription("Reset part of the world without leaving gameplay."),
		mcp.WithString("scope", mcp.Description("all_actors_in_scene, players_only, eater_only, by_kind or actor_id_set"),
			mcp.Enum(
				string(domain.ScopeAllActorsInScene),
				string(domain.ScopePlayersOnly),
				string(domain.ScopeEaterOnly),
				string(domain.ScopeByKind),
				string(domain.ScopeActorIDSet),
			)),
		mcp.WithString("kind", mcp.Description("Actor kind for by_kind")),
		mcp.WithString("actor_ids", mcp.Description("Comma-separated ids for actor_id_set")),
		mcp.WithString("reason", mcp.Description("Why the content is swapped")),
	), s.handleContentSwap)

	s.mcpServer.AddTool(mcp.NewTool("intro_complete",
		mcp.WithDescription("Complete the intro stage."),
		mcp.WithString("reason", mcp.Description("Completion reason")),
	), s.handleAccepted(s.engine.CompleteIntro))

	s.mcpServer.AddTool(mcp.NewTool("intro_skip",
		mcp.WithDescription("Skip the intro stage."),
		mcp.WithString("reason", mcp.Description("Skip reason")),
	), s.handleAccepted(s.engine.SkipIntro))

	s.mcpServer.AddTool(mcp.NewTool("run_end",
		mcp.WithDescription("End the current run."),
		mcp.WithString("outcome", mcp.Required(), mcp.Enum(string(domain.OutcomeVictory), string(domain.OutcomeDefeat))),
		mcp.WithString("reason", mcp.Description("Outcome reason")),
	), s.handleRunEnd)

	s.mcpServer.AddTool(mcp.NewTool("recent_events",
		mcp.WithDescription("List bus events recorded since a sequence number."),
		mcp.WithNumber("since", mcp.Description("Only events with a greater sequence number"), mcp.DefaultNumber(0)),
		mcp.WithString("type", mcp.Description("Only events of this type")),
		mcp.WithNumber("limit", mcp.Description("Keep at most this many of the newest events"), mcp.DefaultNumber(50)),
	), s.handleRecentEvents)

	if s.reports != nil {
		s.mcpServer.AddTool(mcp.NewTool("degraded_reports",
			mcp.WithDescription("List recent degraded-mode reports."),
			mcp.WithNumber("limit", mcp.Description("How many reports"), mcp.DefaultNumber(20)),
		), s.handleReports)
	}
}

func (s *Server) handleSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.Snapshot())
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.engine.RequestStart(ctx)
	return s.transitionResult("start", res, err)
}

func (s *Server) handlePause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.engine.RequestPause(ctx); err != nil {
		return mcp.NewToolResultErrorFromErr("pause failed", err), nil
	}
	return jsonResult(s.engine.Snapshot())
}

func (s *Server) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.engine.RequestResume(ctx); err != nil {
		return mcp.NewToolResultErrorFromErr("resume failed", err), nil
	}
	return jsonResult(s.engine.Snapshot())
}

func (s *Server) handleExit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.engine.RequestExitToMenu(ctx)
	return s.transitionResult("exit to menu", res, err)
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.engine.RequestReset(ctx, request.GetString("reason", ""))
	return s.resetResult("reset", res, err)
}

func (s *Server) handleLevelChange(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scenes := splitList(request.GetString("scenes", ""))
	if len(scenes) == 0 {
		return mcp.NewToolResultError("scenes are required"), nil
	}
	res, err := s.engine.RequestLevelChange(ctx, scenes...)
	return s.transitionResult("level change", res, err)
}

func (s *Server) handleContentSwap(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := domain.ParseResetScope(request.GetString("scope", string(domain.ScopeAllActorsInScene)))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("invalid scope", err), nil
	}
	kind, err := domain.ParseActorKind(request.GetString("kind", ""))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("invalid kind", err), nil
	}
	res, err := s.engine.RequestContentSwap(ctx, domain.ResetRequest{
		Scope:    scope,
		Kind:     kind,
		ActorIDs: splitList(request.GetString("actor_ids", "")),
		Reason:   request.GetString("reason", ""),
	})
	return s.resetResult("content swap", res, err)
}

func (s *Server) handleAccepted(fn func(string) bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		accepted := fn(request.GetString("reason", ""))
		return jsonResult(map[string]any{
			"accepted": accepted,
			"state":    s.engine.Snapshot().State,
		})
	}
}

func (s *Server) handleRunEnd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reason := request.GetString("reason", "")
	var accepted bool
	switch domain.Outcome(request.GetString("outcome", "")) {
	case domain.OutcomeVictory:
		accepted = s.engine.RequestVictory(reason)
	case domain.OutcomeDefeat:
		accepted = s.engine.RequestDefeat(reason)
	default:
		return mcp.NewToolResultError("outcome must be victory or defeat"), nil
	}
	return jsonResult(map[string]any{
		"accepted": accepted,
		"state":    s.engine.Snapshot().State,
	})
}

func (s *Server) handleRecentEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since := request.GetFloat("since", 0)
	limit := request.GetFloat("limit", 50)
	if since < 0 || limit < 0 {
		return mcp.NewToolResultError("since and limit must be non-negative"), nil
	}
	return jsonResult(s.Events(uint64(since), request.GetString("type", ""), int(limit)))
}

func (s *Server) handleReports(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reports, err := s.reports.Recent(ctx, int64(request.GetFloat("limit", 20)))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to read reports", err), nil
	}
	return jsonResult(reports)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(SnapshotURI, "Session Snapshot",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.engine.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to encode snapshot: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      SnapshotURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

// -- Helpers --

func (s *Server) transitionResult(op string, res transition.Result, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		s.logger.Warn("MCP: "+op+" failed", "err", err)
		return mcp.NewToolResultErrorFromErr(op+" failed", err), nil
	}
	return jsonResult(map[string]any{
		"signature":       res.Context.Signature,
		"profile":         res.Context.Request.Profile,
		"coalesced":       res.Coalesced,
		"duplicate":       res.Duplicate,
		"reset_waited":    res.ResetWaited,
		"reset_timed_out": res.ResetTimedOut,
		"skipped":         res.Skipped,
		"state":           s.engine.Snapshot().State,
	})
}

func (s *Server) resetResult(op string, res reset.Result, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		s.logger.Warn("MCP: "+op+" failed", "err", err)
		return mcp.NewToolResultErrorFromErr(op+" failed", err), nil
	}
	return jsonResult(map[string]any{
		"signature":    res.Signature,
		"serial":       res.Serial,
		"guarded":      res.Guarded,
		"in_flight":    res.InFlight,
		"targets":      res.Targets,
		"participants": res.Participants,
		"spawned":      res.Spawned,
		"state":        s.engine.Snapshot().State,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to encode result", err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
