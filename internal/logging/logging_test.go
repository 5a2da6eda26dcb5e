package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("session")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("install started", "uri", "https://updates.example.com/targets/rootfs.swu")

	out := buf.String()
	if !strings.Contains(out, `msg="install started"`) {
		t.Fatalf("expected message, got: %s", out)
	}
	if !strings.Contains(out, "component=session") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "uri=https://updates.example.com/targets/rootfs.swu") {
		t.Fatalf("expected uri field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("download")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestJSONFormatWithSessionFields(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf)

	logger := WithSession(L("lifecycle"), "sess-1", "rootfs.swu")
	logger.Debug("state change")

	out := buf.String()
	for _, want := range []string{`"component":"lifecycle"`, `"sessionId":"sess-1"`, `"target":"rootfs.swu"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestContextLogger(t *testing.T) {
	logger := L("ctx")
	ctx := NewContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("FromContext did not return the stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should fall back to the default logger")
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	w, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	line := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 3; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected first backup: %v", err)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected second backup: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(line)) {
		t.Fatalf("current log size = %d, want %d", info.Size(), len(line))
	}
}
