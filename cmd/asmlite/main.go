package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"asmlite/internal/codegen"
	"asmlite/internal/listing"
	"asmlite/internal/script"

	"github.com/charmbracelet/log"
	"github.com/davecgh/go-spew/spew"
	"github.com/logrusorgru/aurora"
	"github.com/samber/lo"
)

const VERSION = "0.2.0"

const usage = `Usage:
  asmlite build [flags] <file.asml>
  asmlite demo [flags]

Flags:
  --bits=64|32|16   word width (overrides the script's bits line)
  --strict          treat register exhaustion, unknown types and duplicate symbols as errors
  --asm-only        stop after writing the .asm file
  --skip-link       stop after assembling
  --listing         print the generated assembly
  --build-dir=DIR   artifact directory (default build)
  --no-color        disable coloured output
  --debug           verbose logging and AST/engine dumps
  -o NAME           output base name`

// flags holds the parsed command line.
type flags struct {
	command  string
	file     string
	bits     string
	output   string
	buildDir string
	strict   bool
	asmOnly  bool
	skipLink bool
	listing  bool
	noColor  bool
	debug    bool
}

func main() {
	start := time.Now()
	exitCode := run(os.Args[1:])
	if exitCode == 0 {
		fmt.Printf("Build time: %s\n", time.Since(start))
	}
	os.Exit(exitCode)
}

func run(args []string) int {
	f, err := parseArgs(args)
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		fmt.Println(usage)
		return 1
	}

	au := aurora.NewAurora(!f.noColor && os.Getenv("NO_COLOR") == "")
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "asmlite",
		Level:  lo.Ternary(f.debug, log.DebugLevel, log.InfoLevel),
	})

	fmt.Println(au.Bold("asmlite V" + VERSION))
	logger.Debug("using debug mode")

	// --- Load the script ---
	var (
		prog *script.Script
		name string
	)
	switch f.command {
	case "demo":
		prog, err = script.Parse(script.Demo)
		name = "demo"
	case "build":
		prog, err = script.ParseFile(f.file)
		name = strings.TrimSuffix(filepath.Base(f.file), filepath.Ext(f.file))
	}
	if err != nil {
		fmt.Println(au.Red("Script error:"))
		fmt.Printf("  %s\n", err)
		return 1
	}
	logger.Debug("parsed script", "items", len(prog.Items), "bits", prog.Bits)
	if f.debug {
		fmt.Println("--- AST ---")
		fmt.Print(spew.Sdump(prog))
		fmt.Println("--- End AST ---")
	}

	// --- Resolve options ---
	opts := codegen.DefaultOptions()
	opts.Strict = f.strict
	opts.AsmOnly = f.asmOnly
	opts.SkipLink = f.skipLink
	opts.Logger = logger
	opts.OutputName = lo.Ternary(f.output != "", f.output, name)
	if f.buildDir != "" {
		opts.BuildDir = f.buildDir
	}

	width := f.bits
	if width == "" && prog.Bits != 0 {
		width = fmt.Sprint(prog.Bits)
	}
	if width != "" {
		target, err := codegen.ResolveTarget(width)
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return 1
		}
		opts.Target = target
	}

	// --- Generate ---
	result, err := codegen.Generate(prog, opts)
	if err != nil {
		fmt.Println(au.Red("Codegen error:"))
		fmt.Printf("  %s\n", err)
		return 1
	}

	if f.debug {
		fmt.Print(result.Dump)
	}
	if f.listing {
		colors := !f.noColor && os.Getenv("NO_COLOR") == ""
		fmt.Println(listing.Numbered(listing.Colorize(result.Asm, colors), colors))
	}

	fmt.Println(au.Green("Build artifacts:"))
	if result.AsmFile != "" {
		fmt.Printf("  Assembly: %s\n", result.AsmFile)
	}
	if result.ObjFile != "" {
		fmt.Printf("  Object:   %s\n", result.ObjFile)
	}
	if result.ExeFile != "" {
		fmt.Printf("  Binary:   %s\n", result.ExeFile)
	}
	if len(result.Missing) > 0 {
		fmt.Println(au.Yellow("Toolchain incomplete, install: " + strings.Join(result.Missing, ", ")))
	}
	return 0
}

// parseArgs scans the arguments by hand: the first bare word is the
// command, the next one the script path.
func parseArgs(args []string) (*flags, error) {
	f := &flags{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--strict":
			f.strict = true
		case arg == "--asm-only":
			f.asmOnly = true
		case arg == "--skip-link":
			f.skipLink = true
		case arg == "--listing":
			f.listing = true
		case arg == "--no-color":
			f.noColor = true
		case arg == "--debug":
			f.debug = true
		case strings.HasPrefix(arg, "--bits="):
			f.bits = arg[len("--bits="):]
		case strings.HasPrefix(arg, "--build-dir="):
			f.buildDir = arg[len("--build-dir="):]
		case arg == "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("-o needs a name")
			}
			i++
			f.output = args[i]
		case strings.HasPrefix(arg, "-o="):
			f.output = arg[len("-o="):]
		case strings.HasPrefix(arg, "-"):
			return nil, fmt.Errorf("unknown flag %s", arg)
		case f.command == "":
			f.command = arg
		case f.file == "":
			f.file = arg
		default:
			return nil, fmt.Errorf("unexpected argument %s", arg)
		}
	}

	switch f.command {
	case "build":
		if f.file == "" {
			return nil, fmt.Errorf("build needs a script path")
		}
		if _, err := os.Stat(f.file); os.IsNotExist(err) {
			return nil, fmt.Errorf("file %s does not exist", f.file)
		}
	case "demo":
		if f.file != "" {
			return nil, fmt.Errorf("demo takes no path")
		}
	case "":
		return nil, fmt.Errorf("no command given")
	default:
		return nil, fmt.Errorf("unknown command %s", f.command)
	}
	return f, nil
}
