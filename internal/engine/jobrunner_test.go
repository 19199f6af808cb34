package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "render.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

func TestJobRunnerSuccess(t *testing.T) {
	out := t.TempDir()
	// The fake renderer writes its --out argument (sixth positional value).
	bin := writeScript(t, `touch "$6"`)
	r := &JobRunner{Bin: bin, OutputDir: out, Timeout: 5 * time.Second}
	v, err := r.Synthesize(context.Background(), "p1", "/a.wav", Standard())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if filepath.Dir(v.VideoRef) != out {
		t.Fatalf("output outside output dir: %q", v.VideoRef)
	}
}

func TestJobRunnerTimeoutKillsJob(t *testing.T) {
	bin := writeScript(t, `sleep 5`)
	r := &JobRunner{Bin: bin, OutputDir: t.TempDir(), Timeout: 200 * time.Millisecond}
	start := time.Now()
	_, err := r.Synthesize(context.Background(), "p1", "/a.wav", Standard())
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("job not killed promptly: %v", elapsed)
	}
}

func TestJobRunnerNonzeroExit(t *testing.T) {
	bin := writeScript(t, `echo "cuda out of memory" >&2; exit 3`)
	r := &JobRunner{Bin: bin, OutputDir: t.TempDir(), Timeout: 5 * time.Second}
	_, err := r.Synthesize(context.Background(), "p1", "/a.wav", Standard())
	if !IsUpstreamFailure(err) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
}

func TestJobRunnerMissingOutput(t *testing.T) {
	bin := writeScript(t, `true`)
	r := &JobRunner{Bin: bin, OutputDir: t.TempDir(), Timeout: 5 * time.Second}
	_, err := r.Synthesize(context.Background(), "p1", "/a.wav", Standard())
	if !IsUpstreamFailure(err) {
		t.Fatalf("expected upstream failure on missing output, got %v", err)
	}
}
