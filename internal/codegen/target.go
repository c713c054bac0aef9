package codegen

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Object formats
// ---------------------------------------------------------------------------

// ObjFormat is the output format requested from the assembler.
type ObjFormat int

const (
	ObjELF64 ObjFormat = iota // Linux x86-64
	ObjELF32                  // Linux i386
	ObjBin                    // flat binary (DOS .com)
)

func (f ObjFormat) String() string {
	switch f {
	case ObjELF64:
		return "elf64"
	case ObjELF32:
		return "elf32"
	case ObjBin:
		return "bin"
	default:
		return "unknown"
	}
}

// ---------------------------------------------------------------------------
// Target: a fully-resolved word-width configuration
// ---------------------------------------------------------------------------

// Target holds everything the engine needs to know about the machine word
// it emits for: register pools, register roles, object format and the
// system call instruction used by the builtins.
type Target struct {
	// Bits is the word width (16, 32 or 64).
	Bits int

	// WordSize is Bits/8. It is also the size of one stack argument slot.
	WordSize int

	ObjFmt ObjFormat

	// IntRegs and FloatRegs are the allocation pools, in allocation order.
	IntRegs   []string
	FloatRegs []string

	// Registers by role.
	StackPointer   string
	BasePointer    string
	ReturnReg      string // integer return value
	FloatReturnReg string // floating return value

	// SyscallInstr is "syscall", "int 0x80" or "int 0x21".
	SyscallInstr string

	// EntryPoint is the exported entry symbol.
	EntryPoint string
}

// ResolveTarget builds a Target from a width name. Accepted spellings are
// "bits_64", "64", "amd64", "x86_64", "bits_32", "32", "386", "x86",
// "bits_16", "16" and "8086".
func ResolveTarget(name string) (*Target, error) {
	t := &Target{EntryPoint: "_start"}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bits_64", "64", "amd64", "x86_64":
		t.fill64()
	case "bits_32", "32", "386", "x86", "i386":
		t.fill32()
	case "bits_16", "16", "8086":
		t.fill16()
	default:
		return nil, fmt.Errorf("unsupported word width: %q", name)
	}
	t.WordSize = t.Bits / 8
	return t, nil
}

// MustTarget is like ResolveTarget but panics on an unknown width.
func MustTarget(name string) *Target {
	t, err := ResolveTarget(name)
	if err != nil {
		panic(err)
	}
	return t
}

// ---------------------------------------------------------------------------
// Width-specific initialization
// ---------------------------------------------------------------------------

func floatPool() []string {
	return []string{"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7"}
}

func (t *Target) fill64() {
	t.Bits = 64
	t.ObjFmt = ObjELF64
	t.IntRegs = []string{"rbx", "r12", "r13", "r14", "r15", "r10", "r11", "r8", "r9", "rcx", "rdx"}
	t.FloatRegs = floatPool()
	t.StackPointer = "rsp"
	t.BasePointer = "rbp"
	t.ReturnReg = "rax"
	t.FloatReturnReg = "xmm0"
	t.SyscallInstr = "syscall"
}

func (t *Target) fill32() {
	t.Bits = 32
	t.ObjFmt = ObjELF32
	t.IntRegs = []string{"ebx", "ecx", "edx", "esi", "edi"}
	t.FloatRegs = floatPool()
	t.StackPointer = "esp"
	t.BasePointer = "ebp"
	t.ReturnReg = "eax"
	t.FloatReturnReg = "xmm0"
	t.SyscallInstr = "int 0x80"
}

func (t *Target) fill16() {
	t.Bits = 16
	t.ObjFmt = ObjBin
	t.IntRegs = []string{"bx", "cx", "dx"}
	t.FloatRegs = floatPool()
	t.StackPointer = "sp"
	t.BasePointer = "bp"
	t.ReturnReg = "ax"
	t.FloatReturnReg = "st0"
	t.SyscallInstr = "int 0x21"
}

// ---------------------------------------------------------------------------
// Helper queries
// ---------------------------------------------------------------------------

// Name returns the canonical width name, e.g. "bits_64".
func (t *Target) Name() string {
	return fmt.Sprintf("bits_%d", t.Bits)
}

// FileExtAsm returns the assembly file extension.
func (t *Target) FileExtAsm() string {
	return ".asm"
}

// FileExtObj returns the object file extension. Flat binaries are the
// final artifact and have no separate object file.
func (t *Target) FileExtObj() string {
	if t.ObjFmt == ObjBin {
		return ".com"
	}
	return ".o"
}

// FileExtExe returns the executable extension.
func (t *Target) FileExtExe() string {
	if t.ObjFmt == ObjBin {
		return ".com"
	}
	return ""
}

// Is64Bit reports whether the target is the 64-bit configuration.
func (t *Target) Is64Bit() bool {
	return t.Bits == 64
}

// NeedsLink reports whether the assembler output must go through ld.
func (t *Target) NeedsLink() bool {
	return t.ObjFmt != ObjBin
}
