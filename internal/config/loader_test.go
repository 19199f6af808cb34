package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `addr: :9999
persona_dir: /data/personas
max_outstanding: 500
task_timeout_s: 90
gpus:
  - name: RTX 4090
    total_memory_mb: 24576
    affinity: video
    max_tasks: 3
asr:
  base_url: http://127.0.0.1:9001
  timeout_ms: 3000
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.PersonaDir != "/data/personas" || cfg.MaxOutstanding != 500 || cfg.TaskTimeoutS != 90 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.GPUs) != 1 || cfg.GPUs[0].Affinity != "video" || cfg.GPUs[0].MaxTasks != 3 {
		t.Fatalf("unexpected gpus: %+v", cfg.GPUs)
	}
	if cfg.ASR.BaseURL != "http://127.0.0.1:9001" || cfg.ASR.TimeoutMS != 3000 {
		t.Fatalf("unexpected asr: %+v", cfg.ASR)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","output_dir":"/out","cache_capacity":50,"vip_callers":["studio-7"],"video":{"addr":"127.0.0.1:9100","bin":"/opt/musetalk/server"}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.OutputDir != "/out" || cfg.CacheCapacity != 50 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.VIPCallers) != 1 || cfg.VIPCallers[0] != "studio-7" {
		t.Fatalf("unexpected vip callers: %+v", cfg.VIPCallers)
	}
	if cfg.Video.Addr != "127.0.0.1:9100" || cfg.Video.Bin != "/opt/musetalk/server" {
		t.Fatalf("unexpected video cfg: %+v", cfg.Video)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\npersona_dir=\"/p\"\nprobe_interval_s=5\ncache_retention_h=24\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.PersonaDir != "/p" || cfg.ProbeIntervalS != 5 || cfg.CacheRetentionH != 24 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.yaml", "addr: :8080\n: broken\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected YAML unmarshal error")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.json", `{ "addr": ":8080", "persona_dir": }`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected JSON unmarshal error")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "bad.toml", "addr=:8080\npersona_dir\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected TOML unmarshal error")
	}
}
