package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docpeek/classify"
	"github.com/hazyhaar/docpeek/dbopen"
	"github.com/hazyhaar/docpeek/dispatch"
	"github.com/hazyhaar/docpeek/history"
	"github.com/hazyhaar/docpeek/internal/testdoc"
	"github.com/hazyhaar/docpeek/render"
	"github.com/hazyhaar/docpeek/retrieve"
	"github.com/hazyhaar/docpeek/session"
)

// mapFetcher serves documents from memory keyed by canonical URL.
type mapFetcher map[string][]byte

func (f mapFetcher) Fetch(_ context.Context, u string) (*retrieve.Payload, error) {
	data, ok := f[u]
	if !ok {
		return nil, &retrieve.FetchError{URL: u, Status: 404}
	}
	return &retrieve.Payload{URL: u, Data: data}, nil
}

func newService(t *testing.T) (*Service, *session.Manager) {
	t.Helper()
	docs := mapFetcher{
		"https://x.test/deck.pptx": testdoc.Deck("alpha", "beta", "gamma"),
		"https://x.test/notes.txt": []byte("plain notes"),
		"https://x.test/memo.docx": testdoc.Docx(`<w:p><w:r><w:rPr><w:b/></w:rPr><w:t>Bold memo</w:t></w:r></w:p>`),
	}
	sessions := session.NewManager(render.NewRegistry(render.Config{}))
	t.Cleanup(sessions.CloseAll)

	hist := history.New(dbopen.OpenMemory(t, dbopen.WithSchema(history.Schema)))
	sessions.OnClose(hist.SessionClosed)
	d := dispatch.New(docs, sessions, dispatch.WithRecorder(hist))
	return NewService(sessions, d, hist, "http://127.0.0.1:8090/", nil), sessions
}

func TestClassify(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	resp, err := svc.Classify(ctx, &ClassifyRequest{URL: "https://x.test/files/Q3%20Report.PDF?forcedownload=1"})
	if err != nil {
		t.Fatal(err)
	}
	cr := resp.(*ClassifyResponse)
	if !cr.Supported || cr.Kind != classify.PDF || cr.Name != "Q3 Report.PDF" {
		t.Fatalf("resp = %+v", cr)
	}
	if strings.Contains(cr.Canonical, "forcedownload") {
		t.Fatalf("canonical kept forcedownload: %s", cr.Canonical)
	}

	resp, _ = svc.Classify(ctx, &ClassifyRequest{URL: "https://x.test/page.html"})
	if cr := resp.(*ClassifyResponse); cr.Supported || cr.Kind != classify.None {
		t.Fatalf("html resp = %+v", cr)
	}

	if _, err := svc.Classify(ctx, &ClassifyRequest{}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("empty url err = %v", err)
	}
}

func TestOpen_PageAndMarkdown(t *testing.T) {
	svc, sessions := newService(t)

	resp, err := svc.Open(context.Background(), &OpenRequest{URL: "https://x.test/deck.pptx", Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	or := resp.(*OpenResponse)
	if or.Page != 2 || or.Total != 3 || or.Kind != classify.Slides {
		t.Fatalf("position = %d/%d kind %v", or.Page, or.Total, or.Kind)
	}
	if !strings.Contains(or.Markdown, "beta") || strings.Contains(or.Markdown, "<") || or.HTML != "" {
		t.Fatalf("markdown = %q", or.Markdown)
	}
	if or.Surface != "http://127.0.0.1:8090/surface/"+or.ID+"/" {
		t.Fatalf("surface = %s", or.Surface)
	}
	if sessions.Len() != 1 {
		t.Fatalf("sessions = %d", sessions.Len())
	}

	// Past the end stops at the last page.
	resp, _ = svc.Open(context.Background(), &OpenRequest{URL: "https://x.test/deck.pptx", Page: 99})
	if or := resp.(*OpenResponse); or.Page != 3 {
		t.Fatalf("page = %d, want 3", or.Page)
	}
}

func TestOpen_HTMLFormat(t *testing.T) {
	svc, _ := newService(t)
	resp, err := svc.Open(context.Background(), &OpenRequest{URL: "https://x.test/memo.docx", Format: "html"})
	if err != nil {
		t.Fatal(err)
	}
	if c := resp.(*OpenResponse).HTML; !strings.Contains(c, "<strong>Bold memo</strong>") {
		t.Fatalf("content = %q", c)
	}
}

func TestOpen_Failures(t *testing.T) {
	svc, sessions := newService(t)
	ctx := context.Background()

	if _, err := svc.Open(ctx, &OpenRequest{URL: "https://x.test/index.html"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("unsupported err = %v", err)
	}
	_, err := svc.Open(ctx, &OpenRequest{URL: "https://x.test/missing.pdf"})
	if err == nil || err.Error() != dispatch.AlertPrefix+"HTTP 404" {
		t.Fatalf("missing err = %v", err)
	}
	if sessions.Len() != 0 {
		t.Fatalf("sessions = %d, want 0", sessions.Len())
	}
}

func TestSessionsCloseHistory(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	svc.Open(ctx, &OpenRequest{URL: "https://x.test/notes.txt"})
	svc.Open(ctx, &OpenRequest{URL: "https://x.test/missing.xlsx"})

	resp, _ := svc.Sessions(ctx, &SessionsRequest{})
	list := resp.([]Session)
	if len(list) != 1 || list[0].Kind != classify.Text || list[0].Page != 0 {
		t.Fatalf("sessions = %+v", list)
	}

	if _, err := svc.Close(ctx, &CloseRequest{ID: list[0].ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Close(ctx, &CloseRequest{ID: list[0].ID}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("second close err = %v", err)
	}

	resp, err := svc.History(ctx, &HistoryRequest{})
	if err != nil {
		t.Fatal(err)
	}
	entries := resp.([]history.Entry)
	if len(entries) != 2 {
		t.Fatalf("history = %+v", entries)
	}
	var closed *history.Entry
	for i := range entries {
		if entries[i].SessionID == list[0].ID {
			closed = &entries[i]
		}
	}
	if closed == nil || closed.CloseReason != "closed" {
		t.Fatalf("closed entry = %+v", closed)
	}

	resp, _ = svc.History(ctx, &HistoryRequest{Failed: true})
	if failed := resp.([]history.Entry); len(failed) != 1 || failed[0].Status != 404 {
		t.Fatalf("failed = %+v", failed)
	}
	if _, err := svc.History(ctx, &HistoryRequest{Kind: "odt"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("bad kind err = %v", err)
	}
}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = svc.MCPServer().Run(ctx, serverT) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "docpeek-test", Version: "0.1.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func TestMCP_Tools(t *testing.T) {
	svc, _ := newService(t)
	cs := mcpSession(t, svc)

	tools, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"docpeek_classify", "docpeek_open", "docpeek_history"} {
		if !names[want] {
			t.Errorf("tool %s not registered", want)
		}
	}

	res := callTool(t, cs, "docpeek_classify", map[string]any{"url": "https://x.test/a.xlsx"})
	if res.IsError {
		t.Fatalf("classify failed: %+v", res.Content)
	}
	var cr ClassifyResponse
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &cr); err != nil {
		t.Fatal(err)
	}
	if cr.Kind != classify.Tabular || !cr.Supported {
		t.Fatalf("classify = %+v", cr)
	}

	res = callTool(t, cs, "docpeek_open", map[string]any{"url": "https://x.test/notes.txt"})
	if res.IsError {
		t.Fatalf("open failed: %+v", res.Content)
	}
	if text := res.Content[0].(*mcp.TextContent).Text; !strings.Contains(text, "plain notes") {
		t.Fatalf("open = %s", text)
	}

	res = callTool(t, cs, "docpeek_open", map[string]any{"url": "https://x.test/gone.pdf"})
	if !res.IsError {
		t.Fatal("fetch failure is not a tool error")
	}
}
