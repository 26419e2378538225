package api

import (
	"encoding/json"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docpeek/kit"
)

// Version is reported by the MCP server.
const Version = "0.3.0"

var (
	classifySchema = json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"Absolute URL of a link"}},"required":["url"]}`)
	openSchema     = json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"Absolute URL of a .pdf, .pptx, .docx, .xlsx or .txt document"},"page":{"type":"integer","minimum":1,"description":"Page or slide to show"},"format":{"type":"string","enum":["markdown","html"]}},"required":["url"]}`)
	historySchema  = json.RawMessage(`{"type":"object","properties":{"limit":{"type":"integer","minimum":1,"maximum":500},"offset":{"type":"integer","minimum":0},"kind":{"type":"string","enum":["pdf","pptx","docx","xlsx","txt"]},"failed":{"type":"boolean"}}}`)
)

// MCPServer exposes the operations as MCP tools.
func (s *Service) MCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "docpeek", Version: Version}, nil)
	eps := s.Endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "docpeek_classify",
		Description: "Tell whether a link points to a document docpeek can preview, and which kind.",
		InputSchema: classifySchema,
	}, eps.Classify, kit.DecodeArgs[ClassifyRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "docpeek_open",
		Description: "Fetch and render a document, open a viewer session for it and return the content of one page.",
		InputSchema: openSchema,
	}, eps.Open, kit.DecodeArgs[OpenRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "docpeek_history",
		Description: "List recent document dispatches, newest first.",
		InputSchema: historySchema,
	}, eps.History, kit.DecodeArgs[HistoryRequest])

	return srv
}

// MCPHandler serves the MCP server over streamable HTTP.
func (s *Service) MCPHandler() http.Handler {
	srv := s.MCPServer()
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}
