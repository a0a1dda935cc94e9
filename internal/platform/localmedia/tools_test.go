package localmedia

import (
	"context"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/brightmark/assignment-backend/internal/platform/logger"
)

func testTools() Tools {
	return New(&logger.Logger{SugaredLogger: zap.NewNop().Sugar()})
}

// The readiness probe takes a context through the Tools interface; a nil
// outcome or a missing-binary error are both valid depending on the host.
func TestAssertReadyTakesContext(t *testing.T) {
	var m Tools = testTools()
	if err := m.AssertReady(context.Background()); err != nil {
		if !strings.Contains(err.Error(), "missing required binary") {
			t.Fatalf("unexpected readiness error: %v", err)
		}
	}
}

func TestWriteTempFileRoundTripAndCleanup(t *testing.T) {
	m := testTools()
	path, cleanup, err := m.WriteTempFile(context.Background(), []byte("hello"), "txt")
	if err != nil {
		t.Fatalf("WriteTempFile: %v", err)
	}
	if !strings.HasSuffix(path, ".txt") {
		t.Fatalf("expected a .txt suffix, got %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("read back %q", data)
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("cleanup left the file behind: %v", err)
	}
}

func TestScratchDirCleanupRemovesTree(t *testing.T) {
	m := testTools()
	dir, cleanup, err := m.ScratchDir("render")
	if err != nil {
		t.Fatalf("ScratchDir: %v", err)
	}
	if err := os.WriteFile(dir+"/out.png", []byte{1}, 0o644); err != nil {
		t.Fatalf("write into scratch: %v", err)
	}
	cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("cleanup left the dir behind: %v", err)
	}
}
