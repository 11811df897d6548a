// Package mcpadapter exposes the six meta-tools over the Model Context
// Protocol so an external agent harness can drive the kernel through
// stdio instead of an in-process call (§2, §6's "external collaborator"
// framing).
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/metatools"
)

// Serve builds the MCP server wrapping mt and blocks serving stdio until
// ctx is cancelled or the transport closes.
func Serve(ctx context.Context, mt *metatools.MetaTools) error {
	s := server.NewMCPServer("tgp-kernel", "1.0.0")

	s.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List tool files under a directory in the virtual filesystem"),
		mcp.WithString("dir", mcp.Required(), mcp.Description("Directory to list, relative to the jail root")),
	), toolHandler(func(ctx context.Context, args map[string]any) (any, error) {
		return mt.ListFiles(ctx, metatools.ListFilesArgs{Dir: stringArg(args, "dir")})
	}))

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read a tool file's full source"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, relative to the jail root")),
	), toolHandler(func(ctx context.Context, args map[string]any) (any, error) {
		return mt.ReadFile(ctx, metatools.ReadFileArgs{Path: stringArg(args, "path")})
	}))

	s.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Create or overwrite a tool file, register it, and persist it to Git"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, relative to the jail root")),
		mcp.WithString("content", mcp.Description("Full tool source")),
	), toolHandler(func(ctx context.Context, args map[string]any) (any, error) {
		return mt.WriteFile(ctx, metatools.WriteFileArgs{Path: stringArg(args, "path"), Content: stringArg(args, "content")})
	}))

	s.AddTool(mcp.NewTool("patch_file",
		mcp.WithDescription("Replace the first occurrence of search with replace in a tool file"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, relative to the jail root")),
		mcp.WithString("search", mcp.Required(), mcp.Description("Exact text to find; only its first occurrence is replaced")),
		mcp.WithString("replace", mcp.Description("Replacement text")),
	), toolHandler(func(ctx context.Context, args map[string]any) (any, error) {
		return mt.PatchFile(ctx, metatools.PatchFileArgs{
			Path: stringArg(args, "path"), Search: stringArg(args, "search"), Replace: stringArg(args, "replace"),
		})
	}))

	s.AddTool(mcp.NewTool("check_tool",
		mcp.WithDescription("Parse a tool file and run the safety linter without executing it"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, relative to the jail root")),
	), toolHandler(func(ctx context.Context, args map[string]any) (any, error) {
		return mt.CheckTool(ctx, metatools.CheckToolArgs{Path: stringArg(args, "path")})
	}))

	s.AddTool(mcp.NewTool("exec_tool",
		mcp.WithDescription("Execute a tool file in the sandbox and return its result"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, relative to the jail root")),
		mcp.WithObject("args", mcp.Description("Arguments passed to the tool's Run function")),
	), toolHandler(func(ctx context.Context, args map[string]any) (any, error) {
		toolArgs, _ := args["args"].(map[string]any)
		return mt.ExecTool(ctx, metatools.ExecToolArgs{Path: stringArg(args, "path"), Args: toolArgs})
	}))

	// errgroup couples the blocking stdio server to the caller's context:
	// whichever finishes first (a protocol read error, or the process
	// receiving a shutdown signal upstream) stops the other.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.NewStdioServer(s).Listen(gctx, os.Stdin, os.Stdout)
	})
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// toolHandler adapts a (map[string]any) -> (any, error) meta-tool call
// into an MCP CallToolResult, marshaling the return value to JSON text.
func toolHandler(fn func(ctx context.Context, args map[string]any) (any, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := fn(ctx, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
