package codegen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newEngine(t *testing.T, width string) *Engine {
	t.Helper()
	tgt, err := ResolveTarget(width)
	if err != nil {
		t.Fatalf("ResolveTarget(%q): %v", width, err)
	}
	return NewEngine(tgt, nil)
}

func newStrictEngine(t *testing.T, width string) *Engine {
	t.Helper()
	return NewEngine(MustTarget(width), &Options{Strict: true})
}

// must unwraps a (value, error) pair, panicking on error.
func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// assertInOrder checks that want appear as whole lines of asm, in order.
func assertInOrder(t *testing.T, asm string, want ...string) {
	t.Helper()
	lines := strings.Split(asm, "\n")
	i := 0
	for _, w := range want {
		for i < len(lines) && lines[i] != w {
			i++
		}
		if i == len(lines) {
			t.Fatalf("line %q not found in order in:\n%s", w, asm)
		}
		i++
	}
}

// linesWithPrefix returns the trimmed lines of body starting with prefix.
func linesWithPrefix(body []string, prefix string) []string {
	var out []string
	for _, l := range body {
		if s := strings.TrimSpace(l); strings.HasPrefix(s, prefix) {
			out = append(out, strings.TrimPrefix(s, prefix))
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Target tests
// ---------------------------------------------------------------------------

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name     string
		bits     int
		word     int
		obj      string
		ret      string
		intPool  int
		needLink bool
	}{
		{"bits_64", 64, 8, "elf64", "rax", 11, true},
		{"amd64", 64, 8, "elf64", "rax", 11, true},
		{"32", 32, 4, "elf32", "eax", 5, true},
		{"i386", 32, 4, "elf32", "eax", 5, true},
		{"bits_16", 16, 2, "bin", "ax", 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt, err := ResolveTarget(tt.name)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tgt.Bits != tt.bits || tgt.WordSize != tt.word {
				t.Errorf("bits/word: got %d/%d, want %d/%d", tgt.Bits, tgt.WordSize, tt.bits, tt.word)
			}
			if tgt.ObjFmt.String() != tt.obj {
				t.Errorf("object format: got %s, want %s", tgt.ObjFmt, tt.obj)
			}
			if tgt.ReturnReg != tt.ret {
				t.Errorf("return register: got %s, want %s", tgt.ReturnReg, tt.ret)
			}
			if len(tgt.IntRegs) != tt.intPool || len(tgt.FloatRegs) != 8 {
				t.Errorf("pools: got %d int / %d float", len(tgt.IntRegs), len(tgt.FloatRegs))
			}
			if tgt.NeedsLink() != tt.needLink {
				t.Errorf("NeedsLink: got %v", tgt.NeedsLink())
			}
		})
	}

	if _, err := ResolveTarget("arm64"); err == nil {
		t.Error("expected error for unsupported width")
	}
}

func TestTypeSizes(t *testing.T) {
	t64, t32, t16 := MustTarget("64"), MustTarget("32"), MustTarget("16")
	tests := []struct {
		typ  string
		tgt  *Target
		want int
	}{
		{"float", t64, 4},
		{"double", t64, 8},
		{"int8", t64, 1},
		{"int16", t64, 2},
		{"int32", t64, 4},
		{"uint64", t64, 8},
		{"bool", t64, 1},
		{"char", t16, 1},
		{"str", t64, 8},
		{"str", t32, 4},
		{"ptr", t16, 2},
		{"float64", t64, 8},
		{"float32", t32, 4},
	}
	for _, tt := range tests {
		if got := tt.tgt.TypeSize(tt.typ); got != tt.want {
			t.Errorf("TypeSize(%s) on %s: got %d, want %d", tt.typ, tt.tgt.Name(), got, tt.want)
		}
	}

	// Unknown names fall back to the word size.
	if got := t32.TypeSize("widget"); got != 4 {
		t.Errorf("unknown type on 32-bit: got %d, want 4", got)
	}
	if t64.KnownType("widget") {
		t.Error("widget should not be a known type")
	}
}

func TestDataDirective(t *testing.T) {
	tgt := MustTarget("64")
	for typ, want := range map[string]string{
		"str": "db", "int8": "db", "int16": "dw", "int32": "dd", "float": "dd", "double": "dq", "widget": "dq",
	} {
		if got := tgt.DataDirective(typ); got != want {
			t.Errorf("DataDirective(%s): got %s, want %s", typ, got, want)
		}
	}
	if got := MustTarget("16").DataDirective("widget"); got != "dw" {
		t.Errorf("16-bit default directive: got %s, want dw", got)
	}
}

func TestResizeReg(t *testing.T) {
	t64, t32 := MustTarget("64"), MustTarget("32")
	tests := []struct {
		tgt  *Target
		reg  string
		n    int
		want string
	}{
		{t64, "rbx", 4, "ebx"},
		{t64, "r12", 4, "r12d"},
		{t64, "r9", 1, "r9b"},
		{t64, "rcx", 2, "cx"},
		{t64, "xmm3", 4, "xmm3"},
		{t32, "esi", 2, "si"},
		{t32, "ebx", 8, "ebx"},
	}
	for _, tt := range tests {
		if got := tt.tgt.ResizeReg(tt.reg, tt.n); got != tt.want {
			t.Errorf("ResizeReg(%s, %d): got %s, want %s", tt.reg, tt.n, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Value tests
// ---------------------------------------------------------------------------

func TestValueOperand(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Value{Kind: ValGlobal, Name: "scratch"}, "[scratch]"},
		{Value{Kind: ValConst, Name: "pi"}, "[pi]"},
		{Value{Kind: ValLocal, Base: "rbp", Offset: 12}, "[rbp-12]"},
		{Value{Kind: ValRegister, Name: "r13"}, "r13"},
		{Int(42), "42"},
		{Float(2), "2.0"},
	}
	for _, tt := range tests {
		if got := tt.v.Operand(); got != tt.want {
			t.Errorf("Operand(%v): got %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestNumber(t *testing.T) {
	v := must(Number("3.14159"))
	if v.Type != "float" || v.Text != "3.14159" {
		t.Errorf("float literal: got %v", v)
	}
	v = must(Number("-7"))
	if v.Type != "int64" || v.Text != "-7" {
		t.Errorf("int literal: got %v", v)
	}
	if _, err := Number("seven"); err == nil {
		t.Error("expected error for non-numeric literal")
	}
}

// ---------------------------------------------------------------------------
// Register allocator tests
// ---------------------------------------------------------------------------

func TestRegisterExclusivity(t *testing.T) {
	e := newEngine(t, "64")
	seen := map[string]bool{}
	for i := 0; i < e.Regs().PoolSize(ClassInt); i++ {
		r := must(e.AllocReg("int64"))
		if seen[r.Name] {
			t.Fatalf("register %s handed out twice", r.Name)
		}
		seen[r.Name] = true
	}
	for i := 0; i < e.Regs().PoolSize(ClassFloat); i++ {
		r := must(e.AllocReg("double"))
		if seen[r.Name] {
			t.Fatalf("register %s handed out twice", r.Name)
		}
		seen[r.Name] = true
	}
	if len(seen) != 19 {
		t.Errorf("expected 19 distinct registers, got %d", len(seen))
	}
}

func TestAllocReleaseReuse(t *testing.T) {
	e := newEngine(t, "32")
	a := must(e.AllocReg("int32"))
	b := must(e.AllocReg("int32"))
	if a.Name != "ebx" || b.Name != "ecx" {
		t.Fatalf("allocation order: got %s, %s", a.Name, b.Name)
	}
	e.Release(a)
	c := must(e.AllocReg("int32"))
	if c.Name != "ebx" {
		t.Errorf("released register not reused: got %s", c.Name)
	}

	f := must(e.AllocReg("float"))
	e.Release(f)
	if e.Regs().IsUsed(ClassFloat, f.Name) {
		t.Errorf("float register %s still in use after release", f.Name)
	}

	// Permanent registers ignore release.
	p := b
	p.Temp = false
	e.Release(p)
	if !e.Regs().IsUsed(ClassInt, "ecx") {
		t.Error("permanent register was released")
	}
}

func TestAllocExhaustionFallback(t *testing.T) {
	e := newEngine(t, "16")
	for i := 0; i < 3; i++ {
		must(e.AllocReg("int16"))
	}
	r := must(e.AllocReg("int16"))
	if r.Name != "bx" {
		t.Errorf("fallback register: got %s, want bx", r.Name)
	}
	if got := e.Regs().InUse(ClassInt); len(got) != 3 {
		t.Errorf("fallback must not mark a register: in use %v", got)
	}
}

func TestAllocExhaustionStrict(t *testing.T) {
	e := newStrictEngine(t, "16")
	for i := 0; i < 3; i++ {
		must(e.AllocReg("int16"))
	}
	if _, err := e.AllocReg("int16"); !errors.Is(err, ErrAllocationExhausted) {
		t.Errorf("expected ErrAllocationExhausted, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Frame tests
// ---------------------------------------------------------------------------

func TestLocalOffsets(t *testing.T) {
	e := newEngine(t, "64")
	f := must(e.BeginFunction("frame", nil))

	types := []string{"int8", "int32", "double", "int16", "float", "widget"}
	prev := 0
	for _, typ := range types {
		l := must(f.Local("l_"+typ, typ))
		if l.Offset <= prev {
			t.Fatalf("%s: offset %d does not exceed %d", typ, l.Offset, prev)
		}
		if got, want := l.Offset-prev, e.Target().TypeSize(typ); got != want {
			t.Errorf("%s: offset grew by %d, want its own size %d", typ, got, want)
		}
		if l.Base != "rbp" {
			t.Errorf("%s: base %s", typ, l.Base)
		}
		prev = l.Offset
	}
	if f.LocalSize() != 1+4+8+2+4+8 {
		t.Errorf("local size: got %d", f.LocalSize())
	}
	check(t, f.End())

	asm := e.Finalize()
	assertInOrder(t, asm, "frame:", "    push rbp", "    mov rbp, rsp", "    sub rsp, 27", "    ret")
}

func TestNoLocalsNoReservation(t *testing.T) {
	e := newEngine(t, "32")
	f := must(e.BeginFunction("leaf", nil))
	check(t, f.End())
	asm := e.Finalize()
	if strings.Contains(asm, "sub esp") {
		t.Errorf("unexpected stack reservation:\n%s", asm)
	}
	assertInOrder(t, asm, "leaf:", "    push ebp", "    mov ebp, esp", "    mov esp, ebp", "    pop ebp", "    ret")
}

func TestSaveRestoreSymmetry(t *testing.T) {
	e := newEngine(t, "64")
	f := must(e.BeginFunction("clobber", nil))
	a := must(e.AllocReg("int64"))
	b := must(e.AllocReg("int64"))
	e.Release(a)
	must(e.AllocReg("int64")) // reuses a, no new save
	must(e.AllocReg("int64"))
	must(e.AllocReg("double")) // floating registers are never saved
	_ = b

	if got := fmt.Sprint(f.SavedRegs()); got != "[rbx r12 r13]" {
		t.Fatalf("save-list: got %s", got)
	}
	check(t, f.End())

	asm := e.Finalize()
	body := strings.Split(asm, "\n")
	pushes := linesWithPrefix(body, "push ")
	pops := linesWithPrefix(body, "pop ")
	// Drop the frame pair.
	pushes, pops = pushes[1:], pops[:len(pops)-1]

	if len(pushes) != len(pops) {
		t.Fatalf("pushes %v vs pops %v", pushes, pops)
	}
	for i := range pushes {
		if pushes[i] != pops[len(pops)-1-i] {
			t.Errorf("pops %v are not the reverse of pushes %v", pops, pushes)
			break
		}
	}
}

func TestParamFetchCached(t *testing.T) {
	e := newEngine(t, "32")
	f := must(e.BeginFunction("pair", []Param{{"a", "int32"}, {"b", "float"}}))

	b := must(f.Param("b"))
	a := must(f.Param("a"))
	again := must(f.Param("a"))
	if a != again {
		t.Errorf("param not cached: %v vs %v", a, again)
	}
	if a.Temp || b.Temp {
		t.Error("parameter registers must be permanent")
	}
	if _, err := f.Param("c"); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("expected ErrUnknownParam, got %v", err)
	}
	check(t, f.End())

	asm := e.Finalize()
	if strings.Count(asm, "[ebp+8]") != 1 {
		t.Errorf("parameter a loaded more than once:\n%s", asm)
	}
	assertInOrder(t, asm, "    movss xmm0, [ebp+12]", "    mov ebx, [ebp+8]")
}

func TestReturnValue(t *testing.T) {
	e := newEngine(t, "64")
	f := must(e.BeginFunction("ret", nil))
	small := must(f.Local("small", "int16"))
	check(t, f.Return(small))
	check(t, f.Return(Float(1.5)))
	if err := f.Return(Str("nope")); err == nil {
		t.Error("expected error returning a string literal")
	}
	check(t, f.End())

	asm := e.Finalize()
	assertInOrder(t, asm, "    movsx rax, word [rbp-2]", "    movss xmm0, [float_lit_0]")
	if !strings.Contains(asm, "    float_lit_0: dd 1.5") {
		t.Errorf("float literal not materialized:\n%s", asm)
	}
}

func TestFunctionNesting(t *testing.T) {
	e := newEngine(t, "64")
	f := must(e.BeginFunction("outer", nil))
	if _, err := e.BeginFunction("inner", nil); !errors.Is(err, ErrFunctionOpen) {
		t.Errorf("expected ErrFunctionOpen, got %v", err)
	}
	check(t, f.End())
	if _, err := f.Local("late", "int32"); !errors.Is(err, ErrNoFunction) {
		t.Errorf("expected ErrNoFunction, got %v", err)
	}
	if e.Current() != nil {
		t.Error("current function not cleared")
	}
}

// ---------------------------------------------------------------------------
// Cast tests
// ---------------------------------------------------------------------------

func TestCast(t *testing.T) {
	tests := []struct {
		name string
		run  func(e *Engine) (Value, error)
		want []string
		typ  string
	}{
		{
			name: "int32 register to int32",
			run: func(e *Engine) (Value, error) {
				r, _ := e.AllocReg("int32")
				return e.Cast(r, "int32")
			},
			want: []string{"    mov r12d, ebx"},
			typ:  "int32",
		},
		{
			name: "float register to float",
			run: func(e *Engine) (Value, error) {
				r, _ := e.AllocReg("float")
				return e.Cast(r, "float")
			},
			want: []string{"    movss xmm1, xmm0"},
			typ:  "float",
		},
		{
			name: "int32 global to int64",
			run: func(e *Engine) (Value, error) {
				g, _ := e.DeclareGlobal("g", "int32")
				return e.Cast(g, "int64")
			},
			want: []string{"    movsxd rbx, dword [g]"},
			typ:  "int64",
		},
		{
			name: "int16 global to int32",
			run: func(e *Engine) (Value, error) {
				g, _ := e.DeclareGlobal("g", "int16")
				return e.Cast(g, "int32")
			},
			want: []string{"    movsx rbx, word [g]"},
			typ:  "int32",
		},
		{
			name: "int64 register to int8",
			run: func(e *Engine) (Value, error) {
				r, _ := e.AllocReg("int64")
				return e.Cast(r, "int8")
			},
			want: []string{"    mov r12b, bl"},
			typ:  "int8",
		},
		{
			name: "int32 global to double",
			run: func(e *Engine) (Value, error) {
				g, _ := e.DeclareGlobal("g", "int32")
				return e.Cast(g, "double")
			},
			want: []string{"    mov ebx, [g]", "    cvtsi2sd xmm0, ebx"},
			typ:  "double",
		},
		{
			name: "int8 register to double",
			run: func(e *Engine) (Value, error) {
				r, _ := e.AllocReg("int8")
				return e.Cast(r, "double")
			},
			want: []string{"    movsx ebx, bl", "    cvtsi2sd xmm0, ebx"},
			typ:  "double",
		},
		{
			name: "int64 register to float",
			run: func(e *Engine) (Value, error) {
				r, _ := e.AllocReg("int64")
				return e.Cast(r, "float")
			},
			want: []string{"    cvtsi2ss xmm0, rbx"},
			typ:  "float",
		},
		{
			name: "float const to int32",
			run: func(e *Engine) (Value, error) {
				pi, _ := e.DeclareConst("pi", Float(3.14159), "float")
				return e.Cast(pi, "int32")
			},
			want: []string{"    movss xmm0, [pi]", "    cvtss2si ebx, xmm0"},
			typ:  "int32",
		},
		{
			name: "double register to int64",
			run: func(e *Engine) (Value, error) {
				r, _ := e.AllocReg("double")
				return e.Cast(r, "int64")
			},
			want: []string{"    cvtsd2si rbx, xmm0"},
			typ:  "int64",
		},
		{
			name: "float const to double",
			run: func(e *Engine) (Value, error) {
				pi, _ := e.DeclareConst("pi", Float(3.14159), "float")
				return e.Cast(pi, "double")
			},
			want: []string{"    cvtss2sd xmm0, [pi]"},
			typ:  "double",
		},
		{
			name: "double register to float",
			run: func(e *Engine) (Value, error) {
				r, _ := e.AllocReg("double")
				return e.Cast(r, "float")
			},
			want: []string{"    cvtsd2ss xmm1, xmm0"},
			typ:  "float",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, "64")
			v, err := tt.run(e)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !v.IsRegister() || !v.Temp || v.Type != tt.typ {
				t.Errorf("result: got %v, want a temporary %s register", v, tt.typ)
			}
			assertInOrder(t, e.Finalize(), tt.want...)
		})
	}
}

func TestCastSameTypeIsPlainMove(t *testing.T) {
	for _, typ := range []string{"int8", "int16", "int32", "int64", "float", "double"} {
		e := newEngine(t, "64")
		r := must(e.AllocReg(typ))
		must(e.Cast(r, typ))
		asm := e.Finalize()
		if strings.Contains(asm, "cvt") || strings.Contains(asm, "movsx") {
			t.Errorf("%s -> %s used a conversion:\n%s", typ, typ, asm)
		}
	}
}

func TestCastStringRejected(t *testing.T) {
	e := newEngine(t, "64")
	if _, err := e.Cast(Str("x"), "int32"); !errors.Is(err, ErrCastOperand) {
		t.Errorf("expected ErrCastOperand, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Declarations and policy
// ---------------------------------------------------------------------------

func TestDeclarations(t *testing.T) {
	e := newEngine(t, "64")
	must(e.DeclareGlobal("scratch", "double"))
	must(e.DeclareConst("pi", Float(3.14159), "float"))
	must(e.DeclareConst("number", IntOf(42, "int32"), "int32"))
	must(e.DeclareConst("greeting", Str("hi \"you\""), ""))
	must(e.DeclareConst("whole", Int(3), "double"))

	asm := e.Finalize()
	for _, want := range []string{
		"    scratch: resb 8",
		"    pi: dd 3.14159",
		"    number: dd 42",
		`    greeting: db "hi ", 34, "you", 34, 0`,
		"    whole: dq 3.0",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("missing %q in:\n%s", want, asm)
		}
	}
}

func TestUnknownTypePolicy(t *testing.T) {
	e := newEngine(t, "32")
	g := must(e.DeclareGlobal("w", "widget"))
	if g.Type != "widget" {
		t.Errorf("type: got %s", g.Type)
	}
	if !strings.Contains(e.Finalize(), "    w: resb 4") {
		t.Error("unknown type did not fall back to the word size")
	}

	s := newStrictEngine(t, "32")
	if _, err := s.DeclareGlobal("w", "widget"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestDuplicateSymbolPolicy(t *testing.T) {
	e := newEngine(t, "64")
	must(e.DeclareGlobal("x", "int32"))
	must(e.DeclareGlobal("x", "int32"))

	s := newStrictEngine(t, "64")
	must(s.DeclareGlobal("x", "int32"))
	if _, err := s.DeclareConst("x", Int(1), ""); !errors.Is(err, ErrDuplicateSymbol) {
		t.Errorf("expected ErrDuplicateSymbol, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Sink and builtins
// ---------------------------------------------------------------------------

func TestPrintIntSingleton(t *testing.T) {
	for _, width := range []string{"64", "32", "16"} {
		e := newEngine(t, width)
		for i := 0; i < 5; i++ {
			check(t, e.Print(IntOf(int64(i), fmt.Sprintf("int%d", e.Target().Bits))))
		}
		asm := e.Finalize()
		if n := strings.Count(asm, "\nprint_int:"); n != 1 {
			t.Errorf("%s: print_int emitted %d times", width, n)
		}
		if n := strings.Count(asm, "call print_int"); n != 5 {
			t.Errorf("%s: expected 5 calls, got %d", width, n)
		}
	}
}

func TestPrintFloatInjectsBoth(t *testing.T) {
	e := newEngine(t, "64")
	check(t, e.Print(Float(2.5)))
	check(t, e.Print(Float(0.25)))
	asm := e.Finalize()
	if strings.Count(asm, "\nprint_float:") != 1 || strings.Count(asm, "\nprint_int:") != 1 {
		t.Errorf("builtins not injected exactly once:\n%s", asm)
	}
	if strings.Count(asm, "float_buf: resb 64") != 1 {
		t.Error("float_buf reserved more than once")
	}
	assertInOrder(t, asm,
		"    movss xmm0, [float_lit_0]",
		"    sub rsp, 8",
		"    movss [rsp], xmm0",
		"    call print_float",
		"    add rsp, 8",
	)
}

func TestPrintString(t *testing.T) {
	tests := []struct {
		width string
		want  []string
	}{
		{"64", []string{"    mov rax, 1", "    mov rdi, 1", "    lea rsi, [str_print_0]", "    mov rdx, 4", "    syscall"}},
		{"32", []string{"    mov eax, 4", "    mov ebx, 1", "    mov ecx, str_print_0", "    mov edx, 4", "    int 0x80"}},
		{"16", []string{"    mov ah, 0x40", "    mov bx, 1", "    mov cx, 4", "    mov dx, str_print_0", "    int 0x21"}},
	}
	for _, tt := range tests {
		e := newEngine(t, tt.width)
		check(t, e.Print(Str("abc")))
		asm := e.Finalize()
		if !strings.Contains(asm, `    str_print_0: db "abc", 10`) {
			t.Errorf("%s: missing print buffer:\n%s", tt.width, asm)
		}
		assertInOrder(t, asm, tt.want...)
		if strings.Contains(asm, "print_int") {
			t.Errorf("%s: string print must not inject print_int", tt.width)
		}
	}
}

func TestPrintStringSavesLiveRegisters(t *testing.T) {
	e := newEngine(t, "32")
	a := must(e.AllocReg("int32"))
	b := must(e.AllocReg("int32"))
	check(t, e.Print(Str("x")))
	e.Release(a)
	e.Release(b)
	assertInOrder(t, e.Finalize(),
		"    push ebx",
		"    push ecx",
		"    mov eax, 4",
		"    int 0x80",
		"    pop ecx",
		"    pop ebx",
	)

	e = newEngine(t, "64")
	must(e.AllocReg("int64"))
	check(t, e.Print(Str("x")))
	if asm := e.Finalize(); strings.Contains(asm, "push rbx") {
		t.Errorf("rbx survives the write syscall and must not be saved:\n%s", asm)
	}
}

func TestPrintInsideFunction(t *testing.T) {
	e := newEngine(t, "64")
	f := must(e.BeginFunction("g", []Param{{Name: "x", Type: "int32"}}))
	x := must(f.Param("x"))
	check(t, e.Print(x))
	check(t, e.PrintFloat(Float(1.5)))
	check(t, f.Return(x))
	check(t, f.End())

	lines := strings.Split(e.Finalize(), "\n")
	start := -1
	for i, l := range lines {
		if l == "g:" {
			start = i
			break
		}
	}
	if start < 0 {
		t.Fatal("missing label g")
	}
	want := []string{
		"g:",
		"    push rbp",
		"    mov rbp, rsp",
		"    push rbx",
		"    movsxd rbx, dword [rbp+16]",
		"    movsxd rbx, ebx",
		"    push rbx",
		"    call print_int",
		"    add rsp, 8",
		"    movss xmm0, [float_lit_0]",
		"    sub rsp, 8",
		"    movss [rsp], xmm0",
		"    call print_float",
		"    add rsp, 8",
		"    mov rax, rbx",
		"    pop rbx",
		"    mov rsp, rbp",
		"    pop rbp",
		"    ret",
	}
	if len(lines) < start+len(want) {
		t.Fatalf("function body truncated:\n%s", strings.Join(lines[start:], "\n"))
	}
	for i, w := range want {
		if got := lines[start+i]; got != w {
			t.Fatalf("line %d of g: got %q, want %q\n%s", i, got, w, strings.Join(lines[start:], "\n"))
		}
	}
	assertInOrder(t, strings.Join(lines, "\n"), "    ret", "print_int:", "print_float:", "_start:")
}

func TestPrintNarrowSigned(t *testing.T) {
	tests := []struct {
		name  string
		width string
		run   func(e *Engine) error
		want  []string
	}{
		{
			name:  "int32 const",
			width: "64",
			run: func(e *Engine) error {
				m, _ := e.DeclareConst("m", IntOf(-1, "int32"), "int32")
				return e.Print(m)
			},
			want: []string{"    movsxd rbx, dword [m]", "    push rbx", "    call print_int"},
		},
		{
			name:  "int16 local",
			width: "32",
			run: func(e *Engine) error {
				f, _ := e.BeginFunction("h", nil)
				l, _ := f.Local("l", "int16")
				if err := e.Print(l); err != nil {
					return err
				}
				return f.End()
			},
			want: []string{"    movsx ebx, word [ebp-2]", "    push ebx", "    call print_int"},
		},
		{
			name:  "int8 global",
			width: "16",
			run: func(e *Engine) error {
				g, _ := e.DeclareGlobal("g", "int8")
				return e.Print(g)
			},
			want: []string{"    movsx bx, byte [g]", "    push bx", "    call print_int"},
		},
		{
			name:  "int8 register",
			width: "64",
			run: func(e *Engine) error {
				r, _ := e.AllocReg("int64")
				n, err := e.Cast(r, "int8")
				if err != nil {
					return err
				}
				return e.Print(n)
			},
			want: []string{"    mov r12b, bl", "    movsx r12, r12b", "    push r12", "    call print_int"},
		},
		{
			name:  "int16 call argument",
			width: "64",
			run: func(e *Engine) error {
				g, _ := e.DeclareGlobal("g", "int16")
				_, err := e.Call("h", []Value{g})
				return err
			},
			want: []string{"    movsx rbx, word [g]", "    push rbx", "    call h"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, tt.width)
			check(t, tt.run(e))
			assertInOrder(t, e.Finalize(), tt.want...)
		})
	}
}

func TestExit(t *testing.T) {
	e := newEngine(t, "32")
	e.Exit(0)
	e.Exit(3)
	assertInOrder(t, e.Finalize(),
		"    mov eax, 1", "    xor ebx, ebx", "    int 0x80",
		"    mov eax, 1", "    mov ebx, 3", "    int 0x80",
	)

	e = newEngine(t, "16")
	e.Exit(2)
	assertInOrder(t, e.Finalize(), "    mov ah, 0x4C", "    mov al, 2", "    int 0x21")
}

func TestCallPushesRightToLeft(t *testing.T) {
	e := newEngine(t, "32")
	r := must(e.Call("sum", []Value{IntOf(1, "int32"), IntOf(2, "int32"), Str("s")}))
	if !r.Temp || r.Name != "ebx" {
		t.Errorf("result register: got %v", r)
	}
	assertInOrder(t, e.Finalize(),
		"    mov ebx, str_0",
		"    push ebx",
		"    mov ebx, 2",
		"    push ebx",
		"    mov ebx, 1",
		"    push ebx",
		"    call sum",
		"    add esp, 12",
		"    mov ebx, eax",
	)
}

func TestSegmentOrdering(t *testing.T) {
	e := newEngine(t, "64")
	must(e.DeclareGlobal("g", "int64"))
	must(e.DeclareConst("c", Int(1), ""))
	f := must(e.BeginFunction("fn", nil))
	check(t, f.End())
	e.Exit(0)

	asm := e.Finalize()
	if !strings.HasPrefix(asm, "bits 64\n") {
		t.Errorf("missing bits header:\n%s", asm)
	}
	idx := func(s string) int { return strings.Index(asm, s) }
	order := []int{idx("section .bss"), idx("section .data"), idx("section .text"), idx("fn:"), idx("\n_start:")}
	for i := 1; i < len(order); i++ {
		if order[i-1] < 0 || order[i] <= order[i-1] {
			t.Fatalf("segments out of order %v:\n%s", order, asm)
		}
	}
	if !strings.Contains(asm, "    global _start") {
		t.Error("missing entry point export")
	}
}

func TestSegmentOmission(t *testing.T) {
	asm := newEngine(t, "64").Finalize()
	if strings.Contains(asm, "section .bss") || strings.Contains(asm, "section .data") {
		t.Errorf("empty segments emitted:\n%s", asm)
	}
	if !strings.Contains(asm, "section .text") || !strings.Contains(asm, "\n_start:") {
		t.Errorf("text segment and entry point must always be present:\n%s", asm)
	}
}

func TestQuoteBytes(t *testing.T) {
	tests := map[string]string{
		"":         `""`,
		"plain":    `"plain"`,
		"a\tb":     `"a", 9, "b"`,
		`back\`:    `"back", 92`,
		"\x00":     `0`,
		`say "hi"`: `"say ", 34, "hi", 34`,
	}
	for in, want := range tests {
		if got := quoteBytes(in); got != want {
			t.Errorf("quoteBytes(%q): got %s, want %s", in, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end scenario
// ---------------------------------------------------------------------------

func TestEndToEndScenario(t *testing.T) {
	e := newEngine(t, "64")
	tgt := e.Target()

	pi := must(e.DeclareConst("pi", Float(3.14159), "float"))
	must(e.DeclareConst("number", IntOf(42, "int32"), "int32"))
	check(t, e.Print(Str("=== Test ===")))

	f := must(e.BeginFunction("f", []Param{{Name: "x", Type: "int32"}}))
	a := must(f.Local("a", "int32"))
	b := must(f.Local("b", "float"))

	x := must(f.Param("x"))
	r := must(e.AllocReg("int32"))
	e.AddInstr(fmt.Sprintf("mov %s, %s", r.Name, x.Name))
	e.AddInstr(fmt.Sprintf("add %s, 10", r.Name))
	e.AddInstr(fmt.Sprintf("mov %s, %s", a.Operand(), tgt.ResizeReg(r.Name, 4)))
	e.Release(r)

	fr := must(e.LoadValue(pi, "float"))
	e.AddInstr(fmt.Sprintf("movss %s, %s", b.Operand(), fr.Name))
	e.Release(fr)

	check(t, f.Return(a))
	check(t, f.End())

	res := must(e.Call("f", []Value{Int(5)}))
	check(t, e.Print(res))

	asm := e.Finalize()
	assertInOrder(t, asm,
		"f:",
		"    push rbp",
		"    mov rbp, rsp",
		"    sub rsp, 8",
		"    push r12",
		"    push rbx",
		"    movsxd rbx, dword [rbp+16]",
		"    mov r12, rbx",
		"    add r12, 10",
		"    mov [rbp-4], r12d",
		"    movss xmm0, [pi]",
		"    movss [rbp-8], xmm0",
		"    movsxd rax, dword [rbp-4]",
		"    pop rbx",
		"    pop r12",
		"    mov rsp, rbp",
		"    pop rbp",
		"    ret",
	)
	assertInOrder(t, asm,
		"_start:",
		"    lea rsi, [str_print_0]",
		"    call f",
		"    add rsp, 8",
		"    call print_int",
	)
}

// ---------------------------------------------------------------------------
// Toolchain / pipeline tests
// ---------------------------------------------------------------------------

func TestToolchainPaths(t *testing.T) {
	dir := t.TempDir()

	tc := NewToolchain(MustTarget("64"), dir, "prog")
	if tc.AsmFile != filepath.Join(dir, "prog.asm") || tc.ObjFile != filepath.Join(dir, "prog.o") || tc.ExeFile != filepath.Join(dir, "prog") {
		t.Errorf("64-bit paths: %s %s %s", tc.AsmFile, tc.ObjFile, tc.ExeFile)
	}
	if got := strings.Join(tc.AssembleCommand(), " "); !strings.HasPrefix(got, "nasm -f elf64 -o ") {
		t.Errorf("assemble command: %s", got)
	}

	tc = NewToolchain(MustTarget("32"), dir, "prog")
	if got := strings.Join(tc.LinkCommand(), " "); !strings.HasPrefix(got, "ld -m elf_i386 -o ") {
		t.Errorf("32-bit link command: %s", got)
	}

	tc = NewToolchain(MustTarget("16"), dir, "prog")
	if tc.ObjFile != filepath.Join(dir, "prog.com") || tc.LinkCommand() != nil {
		t.Errorf("16-bit: obj %s, link %v", tc.ObjFile, tc.LinkCommand())
	}
	if err := tc.WriteAssembly("bits 16\n"); err != nil {
		t.Fatalf("WriteAssembly: %v", err)
	}
	data, err := os.ReadFile(tc.AsmFile)
	if err != nil || string(data) != "bits 16\n" {
		t.Errorf("assembly file: %q, %v", data, err)
	}
}

func TestGenerateAsmOnly(t *testing.T) {
	dir := t.TempDir()
	prog := ProgramFunc(func(e *Engine) error {
		if err := e.Print(Str("hello")); err != nil {
			return err
		}
		e.Exit(0)
		return nil
	})

	res, err := Generate(prog, &Options{
		Target:     MustTarget("32"),
		BuildDir:   dir,
		OutputName: "hello.world",
		AsmOnly:    true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := filepath.Join(dir, "bits_32", "hello_world.asm")
	if res.AsmFile != want {
		t.Errorf("asm file: got %s, want %s", res.AsmFile, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != res.Asm || !strings.HasPrefix(res.Asm, "bits 32") {
		t.Errorf("written assembly does not match result:\n%s", data)
	}
	if res.ObjFile != "" || res.ExeFile != "" {
		t.Errorf("asm-only produced artifacts: %+v", res)
	}
}

func TestGenerateUnclosedFunction(t *testing.T) {
	prog := ProgramFunc(func(e *Engine) error {
		_, err := e.BeginFunction("dangling", nil)
		return err
	})
	_, err := Generate(prog, &Options{BuildDir: t.TempDir(), AsmOnly: true})
	if err == nil || !strings.Contains(err.Error(), "dangling") {
		t.Errorf("expected an error naming the open function, got %v", err)
	}
}
