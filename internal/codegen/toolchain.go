package codegen

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// ---------------------------------------------------------------------------
// Toolchain: nasm + ld invocation for each word width
// ---------------------------------------------------------------------------

// Toolchain represents the external programs used to assemble and link.
type Toolchain struct {
	Target   *Target
	BuildDir string
	AsmFile  string // path to the assembly file
	ObjFile  string // path to the object file
	ExeFile  string // path to the final executable
	Logger   *log.Logger
}

// NewToolchain creates a Toolchain for the given target and build directory.
func NewToolchain(target *Target, buildDir, baseName string) *Toolchain {
	return &Toolchain{
		Target:   target,
		BuildDir: buildDir,
		AsmFile:  filepath.Join(buildDir, baseName+target.FileExtAsm()),
		ObjFile:  filepath.Join(buildDir, baseName+target.FileExtObj()),
		ExeFile:  filepath.Join(buildDir, baseName+target.FileExtExe()),
		Logger:   log.New(io.Discard),
	}
}

// WriteAssembly writes the assembly string to the .asm file.
func (tc *Toolchain) WriteAssembly(asm string) error {
	return os.WriteFile(tc.AsmFile, []byte(asm), 0644)
}

// AssembleCommand returns the nasm invocation for the target.
func (tc *Toolchain) AssembleCommand() []string {
	return []string{"nasm", "-f", tc.Target.ObjFmt.String(), "-o", tc.ObjFile, tc.AsmFile}
}

// LinkCommand returns the ld invocation for the target, or nil when the
// object needs no link step.
func (tc *Toolchain) LinkCommand() []string {
	if !tc.Target.NeedsLink() {
		return nil
	}
	args := []string{"ld"}
	if tc.Target.Bits == 32 {
		args = append(args, "-m", "elf_i386")
	}
	return append(args, "-o", tc.ExeFile, tc.ObjFile)
}

// Assemble invokes nasm to produce an object file from the assembly.
func (tc *Toolchain) Assemble() error {
	args := tc.AssembleCommand()
	return tc.runCmd(exec.Command(args[0], args[1:]...), "assemble")
}

// Link invokes ld to produce the final executable.
func (tc *Toolchain) Link() error {
	args := tc.LinkCommand()
	if args == nil {
		return fmt.Errorf("target %s does not link", tc.Target.Name())
	}
	return tc.runCmd(exec.Command(args[0], args[1:]...), "link")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (tc *Toolchain) runCmd(cmd *exec.Cmd, stage string) error {
	logger := tc.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	logger.Debug(stage, "cmd", strings.Join(cmd.Args, " "))

	var stderr strings.Builder
	cmd.Stderr = &stderr
	cmd.Stdout = os.Stdout

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("%s failed: %v\n%s", stage, err, stderr.String())
	}
	return nil
}

// DetectToolchain checks whether the required external tools are available
// for the given target and returns a list of missing tools.
func DetectToolchain(target *Target) []string {
	var missing []string
	if _, err := exec.LookPath("nasm"); err != nil {
		missing = append(missing, "nasm")
	}
	if target.NeedsLink() {
		if _, err := exec.LookPath("ld"); err != nil {
			missing = append(missing, "ld (linker)")
		}
	}
	return missing
}
