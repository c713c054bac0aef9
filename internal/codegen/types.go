package codegen

import (
	"strconv"
	"strings"
	"unicode"
)

// ---------------------------------------------------------------------------
// Type & ABI policy
//
// Types are plain names ("int32", "float", "double", ...). The policy maps a
// name to its storage size, its data directive and its register class. Any
// name containing "float" or "double" is floating; everything else is
// integer.
// ---------------------------------------------------------------------------

// RegClass selects one of the two register files.
type RegClass int

const (
	ClassInt RegClass = iota
	ClassFloat
)

func (c RegClass) String() string {
	if c == ClassFloat {
		return "float"
	}
	return "int"
}

// IsFloatType reports whether typ belongs to the floating class.
func IsFloatType(typ string) bool {
	return strings.Contains(typ, "float") || strings.Contains(typ, "double")
}

// ClassOf returns the register class for typ.
func ClassOf(typ string) RegClass {
	if IsFloatType(typ) {
		return ClassFloat
	}
	return ClassInt
}

// typeBits extracts the trailing bit count of a name such as "int32".
func typeBits(typ string) (int, bool) {
	i := len(typ)
	for i > 0 && unicode.IsDigit(rune(typ[i-1])) {
		i--
	}
	if i == len(typ) {
		return 0, false
	}
	n, err := strconv.Atoi(typ[i:])
	if err != nil {
		return 0, false
	}
	switch n {
	case 8, 16, 32, 64:
		return n, true
	}
	return 0, false
}

// lookupTypeSize returns the storage size of typ and whether the name is
// known. Unknown names report the word size.
func (t *Target) lookupTypeSize(typ string) (int, bool) {
	switch typ {
	case "float":
		return 4, true
	case "double":
		return 8, true
	case "str", "ptr":
		return t.WordSize, true
	case "bool", "char":
		return 1, true
	}
	if IsFloatType(typ) {
		if bits, ok := typeBits(typ); ok && bits >= 32 {
			return bits / 8, true
		}
		return 8, true
	}
	if strings.Contains(typ, "int") {
		if bits, ok := typeBits(typ); ok {
			return bits / 8, true
		}
	}
	return t.WordSize, false
}

// TypeSize returns the storage size in bytes of typ, falling back to the
// word size for names it does not know.
func (t *Target) TypeSize(typ string) int {
	n, _ := t.lookupTypeSize(typ)
	return n
}

// KnownType reports whether typ has an explicit size rule.
func (t *Target) KnownType(typ string) bool {
	_, ok := t.lookupTypeSize(typ)
	return ok
}

// DataDirective returns the initialized-data directive for typ.
func (t *Target) DataDirective(typ string) string {
	if typ == "str" {
		return "db"
	}
	if n, ok := t.lookupTypeSize(typ); ok {
		switch n {
		case 1:
			return "db"
		case 2:
			return "dw"
		case 4:
			return "dd"
		case 8:
			return "dq"
		}
	}
	switch t.Bits {
	case 32:
		return "dd"
	case 16:
		return "dw"
	default:
		return "dq"
	}
}

// SizeKeyword returns the operand-size keyword for n bytes.
func (t *Target) SizeKeyword(n int) string {
	switch n {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 4:
		return "dword"
	case 8:
		return "qword"
	}
	switch t.Bits {
	case 32:
		return "dword"
	case 16:
		return "word"
	default:
		return "qword"
	}
}

// subRegs maps a full-width register to its sized aliases, per width.
var subRegs = map[int]map[string]map[int]string{
	64: {
		"rax": {1: "al", 2: "ax", 4: "eax", 8: "rax"},
		"rbx": {1: "bl", 2: "bx", 4: "ebx", 8: "rbx"},
		"rcx": {1: "cl", 2: "cx", 4: "ecx", 8: "rcx"},
		"rdx": {1: "dl", 2: "dx", 4: "edx", 8: "rdx"},
		"r8":  {1: "r8b", 2: "r8w", 4: "r8d", 8: "r8"},
		"r9":  {1: "r9b", 2: "r9w", 4: "r9d", 8: "r9"},
		"r10": {1: "r10b", 2: "r10w", 4: "r10d", 8: "r10"},
		"r11": {1: "r11b", 2: "r11w", 4: "r11d", 8: "r11"},
		"r12": {1: "r12b", 2: "r12w", 4: "r12d", 8: "r12"},
		"r13": {1: "r13b", 2: "r13w", 4: "r13d", 8: "r13"},
		"r14": {1: "r14b", 2: "r14w", 4: "r14d", 8: "r14"},
		"r15": {1: "r15b", 2: "r15w", 4: "r15d", 8: "r15"},
	},
	32: {
		"eax": {1: "al", 2: "ax", 4: "eax"},
		"ebx": {1: "bl", 2: "bx", 4: "ebx"},
		"ecx": {1: "cl", 2: "cx", 4: "ecx"},
		"edx": {1: "dl", 2: "dx", 4: "edx"},
		"esi": {1: "sil", 2: "si", 4: "esi"},
		"edi": {1: "dil", 2: "di", 4: "edi"},
	},
	16: {
		"ax": {1: "al", 2: "ax"},
		"bx": {1: "bl", 2: "bx"},
		"cx": {1: "cl", 2: "cx"},
		"dx": {1: "dl", 2: "dx"},
	},
}

// ResizeReg returns the alias of reg that is n bytes wide. Registers or
// sizes without an alias come back unchanged.
func (t *Target) ResizeReg(reg string, n int) string {
	if sized, ok := subRegs[t.Bits][reg][n]; ok {
		return sized
	}
	return reg
}
