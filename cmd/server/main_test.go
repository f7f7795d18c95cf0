package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Brownie44l1/clothing-api/internal/config"
)

func TestVersionCommand(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(out.String()) != Version {
		t.Errorf("expected %q, got %q", Version, out.String())
	}
}

func TestServeOptionsFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\nmodel:\n  workers: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "")
	t.Setenv("MODEL_WORKERS", "")

	o := &ServeOptions{}
	cmd := newServeCommand(o)
	if err := cmd.ParseFlags([]string{"--config", path, "--port", "9100", "--model", "/models/m.onnx"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := o.Config(cmd)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("expected flag port 9100, got %d", cfg.Port)
	}
	if cfg.Model.Workers != 4 {
		t.Errorf("expected file workers 4, got %d", cfg.Model.Workers)
	}
	if cfg.Model.Path != "/models/m.onnx" {
		t.Errorf("expected flag model path, got %s", cfg.Model.Path)
	}
}

func TestServeOptionsRejectsInvalid(t *testing.T) {
	t.Setenv("PORT", "")
	o := &ServeOptions{}
	cmd := newServeCommand(o)
	if err := cmd.ParseFlags([]string{"--workers", "0"}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Config(cmd); err == nil {
		t.Fatal("expected validation error for zero workers")
	}
}

func TestRunFailsFastWhenPortTaken(t *testing.T) {
	taken, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	cfg := config.Default()
	cfg.Port = taken.Addr().(*net.TCPAddr).Port
	// never opened: the listen error must come first
	cfg.Model.Path = filepath.Join(t.TempDir(), "missing.onnx")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = Run(ctx, cfg)
	if err == nil || !strings.Contains(err.Error(), "listen on") {
		t.Fatalf("expected listen error, got %v", err)
	}
}
