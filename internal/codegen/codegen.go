package codegen

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// ---------------------------------------------------------------------------
// Options controls the behaviour of the code-generation pipeline.
// ---------------------------------------------------------------------------

// Options configures the engine and the codegen pipeline.
type Options struct {
	// Target word width. If nil, the 64-bit configuration is used.
	Target *Target

	// BuildDir is the directory where all build artifacts are written.
	// Defaults to "./build" relative to the working directory.
	BuildDir string

	// OutputName is the base name for the output files (without extension).
	// Defaults to "output".
	OutputName string

	// Strict promotes pool exhaustion, unknown type names and duplicate
	// symbols from logged warnings to errors.
	Strict bool

	// Logger receives engine and pipeline diagnostics. Nil discards them.
	Logger *log.Logger

	// AsmOnly stops after emitting the assembly file (skip assemble + link).
	AsmOnly bool

	// SkipLink stops after assembling (produce the object but don't link).
	SkipLink bool
}

// DefaultOptions returns sensible defaults (64-bit target, build/ directory).
func DefaultOptions() *Options {
	return &Options{
		BuildDir: "build",
	}
}

func (o *Options) logger() *log.Logger {
	if o.Logger == nil {
		return log.New(io.Discard)
	}
	return o.Logger
}

// ---------------------------------------------------------------------------
// Program is anything that can drive an Engine: a parsed emission script, a
// test fixture, or hand-written Go.
// ---------------------------------------------------------------------------

// Program issues emission calls against an engine.
type Program interface {
	Emit(e *Engine) error
}

// ProgramFunc adapts a plain function to Program.
type ProgramFunc func(e *Engine) error

// Emit calls f(e).
func (f ProgramFunc) Emit(e *Engine) error { return f(e) }

// ---------------------------------------------------------------------------
// Result is returned by Generate with paths to all produced artifacts.
// ---------------------------------------------------------------------------

type Result struct {
	Asm     string // the generated assembly text
	AsmFile string // path to the assembly file
	ObjFile string // path to the object file (empty if AsmOnly)
	ExeFile string // path to the executable (empty if AsmOnly or SkipLink)
	Dump    string // engine state after emission (for debugging)
	Missing []string
}

// ---------------------------------------------------------------------------
// Generate: the public entry point for the full codegen pipeline
//
// Pipeline: Program → Engine (emit) → Assembly text (finalize) →
// Object (assemble) → Executable (link)
// ---------------------------------------------------------------------------

// Generate runs prog against a fresh engine and writes the artifacts.
func Generate(prog Program, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.logger()

	// --- Resolve target ---
	target := opts.Target
	if target == nil {
		target = MustTarget("bits_64")
	}

	// --- Determine output name ---
	outputName := opts.OutputName
	if outputName == "" {
		outputName = "output"
	}
	outputName = strings.Map(func(r rune) rune {
		if r == '.' || r == ' ' || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, outputName)

	// --- Create build directory ---
	buildDir := opts.BuildDir
	if buildDir == "" {
		buildDir = "build"
	}
	widthDir := filepath.Join(buildDir, target.Name())
	if err := os.MkdirAll(widthDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create build directory %s: %w", widthDir, err)
	}

	// --- Step 1: Emit ---
	logger.Debug("emitting", "target", target.Name())
	eng := NewEngine(target, opts)
	if err := prog.Emit(eng); err != nil {
		return nil, fmt.Errorf("emission failed: %w", err)
	}
	if eng.Current() != nil {
		return nil, fmt.Errorf("emission failed: function %s was never ended", eng.Current().Name)
	}

	result := &Result{
		Asm:  eng.Finalize(),
		Dump: eng.DebugDump(),
	}

	// --- Step 2: Write assembly file ---
	tc := NewToolchain(target, widthDir, outputName)
	tc.Logger = logger
	if err := tc.WriteAssembly(result.Asm); err != nil {
		return nil, fmt.Errorf("cannot write assembly file: %w", err)
	}
	result.AsmFile = tc.AsmFile
	logger.Debug("assembly written", "path", result.AsmFile)

	if opts.AsmOnly {
		return result, nil
	}

	// --- Step 3: Assemble ---
	if missing := DetectToolchain(target); len(missing) > 0 {
		result.Missing = missing
		logger.Warn("missing toolchain components, stopping after assembly text",
			"missing", strings.Join(missing, ", "), "asm", result.AsmFile)
		return result, nil
	}

	logger.Debug("assembling")
	if err := tc.Assemble(); err != nil {
		return result, fmt.Errorf("assembly failed: %w", err)
	}
	result.ObjFile = tc.ObjFile

	if opts.SkipLink || !target.NeedsLink() {
		if !target.NeedsLink() {
			result.ExeFile = tc.ObjFile
		}
		return result, nil
	}

	// --- Step 4: Link ---
	logger.Debug("linking")
	if err := tc.Link(); err != nil {
		return result, fmt.Errorf("linking failed: %w", err)
	}
	result.ExeFile = tc.ExeFile
	logger.Debug("executable written", "path", result.ExeFile)

	return result, nil
}
