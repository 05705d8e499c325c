package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lectern/lectern/internal/tools"
)

// Retriever is the retrieval surface the MCP layer consumes.
// *retrieval.Engine satisfies it.
type Retriever interface {
	tools.Searcher
	tools.OutlineSource
	CourseTitles(ctx context.Context) ([]string, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Retriever Retriever
}

// NewMCPServer creates an MCP server exposing course search, outlines,
// and the catalog over stdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"lectern",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("lectern — semantic search and outlines over ingested course materials."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("search_course_content",
			mcp.WithDescription("Search course materials with smart course name matching and lesson filtering"),
			mcp.WithString("query", mcp.Description("What to search for in the course content"), mcp.Required()),
			mcp.WithString("course_name", mcp.Description("Course title (partial matches work, e.g. 'MCP', 'Introduction')")),
			mcp.WithNumber("lesson_number", mcp.Description("Specific lesson number to search within (e.g. 1, 2, 3)")),
		),
		mcpSearchContent(deps),
	)

	s.AddTool(
		mcp.NewTool("get_course_outline",
			mcp.WithDescription("Get a course outline with its link and numbered lesson list"),
			mcp.WithString("course_name", mcp.Description("Course title (partial matches work, e.g. 'MCP', 'Introduction')"), mcp.Required()),
		),
		mcpCourseOutline(deps),
	)

	s.AddTool(
		mcp.NewTool("list_courses",
			mcp.WithDescription("List every ingested course title"),
		),
		mcpListCourses(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"courses://catalog",
			"Course Catalog",
			mcp.WithResourceDescription("All ingested courses with links and lesson counts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(deps),
	)

	return s
}

func mcpSearchContent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		args := map[string]any{"query": query}
		if courseName := req.GetString("course_name", ""); courseName != "" {
			args["course_name"] = courseName
		}
		if lesson := req.GetInt("lesson_number", -1); lesson >= 0 {
			args["lesson_number"] = lesson
		}

		out, err := tools.NewCourseSearchTool(deps.Retriever).Execute(ctx, args)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		return mcpText(out), nil
	}
}

func mcpCourseOutline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		courseName, err := req.RequireString("course_name")
		if err != nil {
			return mcpError("course_name is required"), nil
		}

		out, err := tools.NewCourseOutlineTool(deps.Retriever).Execute(ctx, map[string]any{"course_name": courseName})
		if err != nil {
			return mcpError(fmt.Sprintf("outline failed: %v", err)), nil
		}

		return mcpText(out), nil
	}
}

func mcpListCourses(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		titles, err := deps.Retriever.CourseTitles(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing courses failed: %v", err)), nil
		}
		if titles == nil {
			titles = []string{}
		}

		b, err := json.Marshal(map[string]any{
			"total_courses": len(titles),
			"course_titles": titles,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal courses: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceCatalog(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		titles, err := deps.Retriever.CourseTitles(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing courses: %w", err)
		}

		type catalogEntry struct {
			Title      string `json:"title"`
			Link       string `json:"link,omitempty"`
			Instructor string `json:"instructor,omitempty"`
			Lessons    int    `json:"lessons"`
		}

		entries := make([]catalogEntry, 0, len(titles))
		for _, title := range titles {
			course, err := deps.Retriever.GetCourse(ctx, title)
			if err != nil {
				return nil, fmt.Errorf("loading course %q: %w", title, err)
			}
			entries = append(entries, catalogEntry{
				Title:      course.Title,
				Link:       course.Link,
				Instructor: course.Instructor,
				Lessons:    len(course.Lessons),
			})
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("marshaling catalog: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
