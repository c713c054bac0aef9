package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.asml")
	if err := os.WriteFile(path, []byte("exit 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := parseArgs([]string{"--strict", "build", path, "--bits=32", "-o", "out", "--listing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.command != "build" || f.file != path || f.bits != "32" || f.output != "out" || !f.strict || !f.listing {
		t.Errorf("flags: got %+v", f)
	}

	f, err = parseArgs([]string{"demo", "--asm-only", "--build-dir=tmp", "-o=x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.command != "demo" || !f.asmOnly || f.buildDir != "tmp" || f.output != "x" {
		t.Errorf("flags: got %+v", f)
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, "no command"},
		{[]string{"run"}, "unknown command"},
		{[]string{"build"}, "needs a script path"},
		{[]string{"build", "/does/not/exist.asml"}, "does not exist"},
		{[]string{"demo", "extra"}, "takes no path"},
		{[]string{"demo", "--fast"}, "unknown flag"},
		{[]string{"demo", "-o"}, "needs a name"},
	}
	for _, tt := range tests {
		_, err := parseArgs(tt.args)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("parseArgs(%v): got %v, want error mentioning %q", tt.args, err, tt.want)
		}
	}
}

func TestRunDemoAsmOnly(t *testing.T) {
	dir := t.TempDir()
	if code := run([]string{"demo", "--asm-only", "--no-color", "--build-dir=" + dir}); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	data, err := os.ReadFile(filepath.Join(dir, "bits_64", "demo.asm"))
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.HasPrefix(string(data), "bits 64\n") {
		t.Errorf("unexpected output:\n%s", data)
	}
}

func TestRunBuildWidthOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.asml")
	if err := os.WriteFile(path, []byte("bits 64\nprint \"hello\"\nexit 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if code := run([]string{"build", path, "--bits=16", "--asm-only", "--no-color", "--build-dir=" + dir}); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "bits_16", "hello.asm")); err != nil {
		t.Errorf("expected 16-bit output: %v", err)
	}
}
