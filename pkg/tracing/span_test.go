package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestChildInheritsTrace(t *testing.T) {
	ctx, root := Start(context.Background(), "render", "req-1")
	_, child := Start(ctx, "fetch", "ignored")
	child.End()
	root.End()

	if child.TraceID != "req-1" {
		t.Errorf("child trace = %q", child.TraceID)
	}
	if kids := root.Children(); len(kids) != 1 || kids[0] != child {
		t.Errorf("children = %v", kids)
	}
	if FromContext(ctx) != root {
		t.Error("root not stored in context")
	}
}

func TestLogWritesTreeAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, root := Start(context.Background(), "render", "req-2")
	_, page := Start(ctx, "page", "")
	page.SetAttr("page", 1)
	page.End()
	root.End()
	root.Log(logger)

	out := buf.String()
	if strings.Count(out, "msg=span") != 2 {
		t.Fatalf("log output:\n%s", out)
	}
	if !strings.Contains(out, "span=page") || !strings.Contains(out, "depth=1") || !strings.Contains(out, "page=1") {
		t.Errorf("child span missing from:\n%s", out)
	}

	buf.Reset()
	root.Log(slog.New(slog.NewTextHandler(&buf, nil)))
	if buf.Len() != 0 {
		t.Errorf("logged above debug level: %s", buf.String())
	}
}

func TestNilSpanIsSafe(t *testing.T) {
	var s *Span
	s.End()
	s.SetAttr("k", "v")
	s.Log(slog.Default())
}
