//go:build !trace

package tracing

import (
	"context"
	"os"
	"testing"
)

func TestTraceStubNoOps(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	Stop()

	ctx, endTask := StartTask(context.Background(), "list_streams")
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	endTask()

	endRegion := StartRegion(ctx, "backup_read")
	endRegion()

	Log(ctx, "path", `C:\data\file.txt`)

	if _, err := os.Stat(OutputFile); err == nil {
		t.Fatal("expected no trace file when tracing is disabled")
	}
}
