package codegen

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
)

// Engine errors. The first three are only returned in strict mode; the
// permissive default logs a warning and keeps emitting text.
var (
	ErrUnknownType     = errors.New("unknown type")
	ErrDuplicateSymbol = errors.New("duplicate symbol")
	ErrFunctionOpen    = errors.New("a function is already open")
	ErrNoFunction      = errors.New("no open function")
	ErrUnknownParam    = errors.New("unknown parameter")
)

// ---------------------------------------------------------------------------
// Engine: the emission context
//
// The engine owns the four output segments, the register allocator, the
// currently open function and the one-shot builtin flags. Every emission
// call goes through it; there is no package-level state.
//
// Segments, in output order:
//   bss    reserved storage (resb)
//   data   initialized storage (db/dw/dd/dq)
//   funcs  function bodies, then the builtin routines
//   text   entry code under _start
//
// Builtins are held apart from the user functions until Finalize, so an
// injection while a function is open cannot land inside its body.
// ---------------------------------------------------------------------------

// Engine emits NASM-syntax assembly for one Target.
type Engine struct {
	target *Target
	strict bool
	log    *log.Logger

	bss      []string
	data     []string
	funcs    []string
	builtins []string
	text     []string

	symbols map[string]bool

	regs *RegAllocator
	cur  *Function

	printBufs int
	literals  int

	printIntAdded   bool
	printFloatAdded bool
}

// NewEngine returns an engine for target. opts may be nil; only Strict and
// Logger are consulted.
func NewEngine(target *Target, opts *Options) *Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Engine{
		target:  target,
		strict:  opts.Strict,
		log:     logger.With("bits", target.Bits),
		symbols: make(map[string]bool),
		regs:    NewRegAllocator(target, opts.Strict),
	}
}

// Target returns the engine's target.
func (e *Engine) Target() *Target { return e.target }

// Strict reports whether fallbacks are promoted to errors.
func (e *Engine) Strict() bool { return e.strict }

// Regs exposes the register allocator (read-mostly; used by tests and the
// debug dump).
func (e *Engine) Regs() *RegAllocator { return e.regs }

// Current returns the open function, or nil.
func (e *Engine) Current() *Function { return e.cur }

// defaultIntType is the integer type matching the machine word.
func (e *Engine) defaultIntType() string {
	return fmt.Sprintf("int%d", e.target.Bits)
}

// ---------------------------------------------------------------------------
// Line emission
// ---------------------------------------------------------------------------

// AddLine appends a raw line to the open function's body, or to the entry
// code when no function is open.
func (e *Engine) AddLine(line string) {
	if e.cur != nil {
		e.cur.lines = append(e.cur.lines, line)
		return
	}
	e.text = append(e.text, line)
}

// AddInstr appends one indented instruction.
func (e *Engine) AddInstr(instr string) {
	e.AddLine("    " + instr)
}

// EmitLines appends a block of instructions, one per line. Lines are trimmed
// and blank lines are skipped.
func (e *Engine) EmitLines(code string) {
	for _, line := range strings.Split(strings.TrimSpace(code), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			e.AddInstr(s)
		}
	}
}

func (e *Engine) emitf(format string, args ...any) {
	e.AddInstr(fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Policy checks
// ---------------------------------------------------------------------------

func (e *Engine) checkType(typ string) error {
	if e.target.KnownType(typ) {
		return nil
	}
	if e.strict {
		return fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	e.log.Warn("unknown type, using word size", "type", typ, "size", e.target.WordSize)
	return nil
}

func (e *Engine) claimSymbol(name string) error {
	if e.symbols[name] {
		if e.strict {
			return fmt.Errorf("%w: %s", ErrDuplicateSymbol, name)
		}
		e.log.Warn("duplicate symbol", "name", name)
	}
	e.symbols[name] = true
	return nil
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// DeclareGlobal reserves uninitialized storage for a variable of typ.
func (e *Engine) DeclareGlobal(name, typ string) (Value, error) {
	if err := e.checkType(typ); err != nil {
		return Value{}, err
	}
	if err := e.claimSymbol(name); err != nil {
		return Value{}, err
	}
	e.bss = append(e.bss, fmt.Sprintf("    %s: resb %d", name, e.target.TypeSize(typ)))
	return Value{Kind: ValGlobal, Name: name, Type: typ}, nil
}

// DeclareConst places lit in the initialized-data segment. An empty typ is
// inferred: "str" for strings, "float" for floating literals and the word
// integer type otherwise.
func (e *Engine) DeclareConst(name string, lit Value, typ string) (Value, error) {
	if lit.Kind != ValNumber && lit.Kind != ValString {
		return Value{}, fmt.Errorf("const %s: expected a literal, got %s", name, lit.Kind)
	}
	if typ == "" {
		switch {
		case lit.Kind == ValString:
			typ = "str"
		case lit.IsFloat():
			typ = "float"
		default:
			typ = e.defaultIntType()
		}
	}
	if err := e.checkType(typ); err != nil {
		return Value{}, err
	}
	if err := e.claimSymbol(name); err != nil {
		return Value{}, err
	}

	text := lit.Text
	switch {
	case lit.Kind == ValString:
		text = quoteBytes(lit.Text) + ", 0"
	case IsFloatType(typ):
		text = floatText(lit.Text)
	}
	e.data = append(e.data, fmt.Sprintf("    %s: %s %s", name, e.target.DataDirective(typ), text))
	return Value{Kind: ValConst, Name: name, Type: typ}, nil
}

// materialize turns literals that cannot be instruction operands into
// anonymous data constants: floating literals (SSE has no immediates) and
// integer literals headed for a floating register.
func (e *Engine) materialize(v Value, typ string) Value {
	if v.Kind != ValNumber || !IsFloatType(typ) {
		return v
	}
	name := fmt.Sprintf("float_lit_%d", e.literals)
	e.literals++
	e.symbols[name] = true
	e.data = append(e.data, fmt.Sprintf("    %s: %s %s", name, e.target.DataDirective(typ), floatText(v.Text)))
	return Value{Kind: ValConst, Name: name, Type: typ}
}

// stringLabel stores s as a zero-terminated string and returns its label.
func (e *Engine) stringLabel(s string) string {
	name := fmt.Sprintf("str_%d", e.literals)
	e.literals++
	e.symbols[name] = true
	e.data = append(e.data, fmt.Sprintf("    %s: db %s, 0", name, quoteBytes(s)))
	return name
}

// ---------------------------------------------------------------------------
// Register handles
// ---------------------------------------------------------------------------

// AllocReg allocates a temporary register of typ's class.
func (e *Engine) AllocReg(typ string) (Value, error) {
	return e.allocReg(typ, true)
}

func (e *Engine) allocReg(typ string, temp bool) (Value, error) {
	class := ClassOf(typ)
	reg, fresh, err := e.regs.Alloc(class)
	if err != nil {
		return Value{}, err
	}
	if !fresh {
		e.log.Warn("register pool exhausted, reusing first entry", "class", class, "reg", reg)
	} else if class == ClassInt && e.cur != nil {
		e.cur.noteClobber(reg)
	}
	e.log.Debug("alloc", "reg", reg, "type", typ, "temp", temp)
	return Value{Kind: ValRegister, Name: reg, Type: typ, Temp: temp}, nil
}

// Release frees a temporary register. Non-registers, permanent registers and
// registers that are not in use are ignored.
func (e *Engine) Release(v Value) {
	if !v.IsRegister() || !v.Temp {
		return
	}
	if e.regs.Free(ClassOf(v.Type), v.Name) {
		e.log.Debug("release", "reg", v.Name)
	}
}

// WithTemp allocates a temporary register of typ, runs fn with it and
// releases it on every return path.
func (e *Engine) WithTemp(typ string, fn func(r Value) error) error {
	r, err := e.AllocReg(typ)
	if err != nil {
		return err
	}
	defer e.Release(r)
	return fn(r)
}

// LoadValue returns v in a register. Registers come back unchanged; any
// other value is loaded into a fresh temporary register of typ (v's own
// type when typ is empty).
func (e *Engine) LoadValue(v Value, typ string) (Value, error) {
	if v.IsRegister() {
		return v, nil
	}
	if v.Kind == ValString {
		return Value{}, errors.New("cannot load a string literal into a register")
	}
	if typ == "" {
		typ = v.Type
	}
	if typ == "" {
		typ = e.defaultIntType()
	}
	v = e.materialize(v, typ)

	r, err := e.AllocReg(typ)
	if err != nil {
		return Value{}, err
	}
	if IsFloatType(typ) {
		e.emitf("%s %s, %s", e.floatMove(typ), r.Name, v.Operand())
	} else {
		e.loadInt(r.Name, v, typ)
	}
	return r, nil
}

// loadInt moves an integer value of typ into the full width of reg. Memory
// operands narrower than a word are sign-extended, so a pushed or divided
// register carries the value's sign.
func (e *Engine) loadInt(reg string, v Value, typ string) {
	t := e.target
	size := t.TypeSize(typ)
	switch {
	case v.Kind == ValNumber:
		e.emitf("mov %s, %s", reg, v.Text)
	case v.IsMemory() && size < t.WordSize:
		e.emitf("%s %s, %s %s", e.signExtend(size), reg, t.SizeKeyword(size), v.Operand())
	default:
		e.emitf("mov %s, %s", t.ResizeReg(reg, size), v.Operand())
	}
}

// widenReg sign-extends a register holding a sub-word integer into its full
// width. Narrowing casts and moves through an alias leave the upper bits
// stale.
func (e *Engine) widenReg(v Value) {
	t := e.target
	size := t.TypeSize(v.Type)
	if size >= t.WordSize {
		return
	}
	e.emitf("%s %s, %s", e.signExtend(size), v.Name, t.ResizeReg(v.Name, size))
}

// floatMove returns movss or movsd for the precision of typ.
func (e *Engine) floatMove(typ string) string {
	if e.target.TypeSize(typ) == 4 {
		return "movss"
	}
	return "movsd"
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Call emits a call to name with args pushed right to left and returns the
// integer result in a fresh temporary register.
func (e *Engine) Call(name string, args []Value) (Value, error) {
	return e.CallTyped(name, args, e.defaultIntType())
}

// CallTyped is Call with an explicit result type; floating results are read
// from the floating return register.
func (e *Engine) CallTyped(name string, args []Value, retType string) (Value, error) {
	t := e.target
	for i := len(args) - 1; i >= 0; i-- {
		if err := e.pushArg(args[i]); err != nil {
			return Value{}, fmt.Errorf("call %s: argument %d: %w", name, i, err)
		}
	}

	e.emitf("call %s", name)
	if len(args) > 0 {
		e.emitf("add %s, %d", t.StackPointer, len(args)*t.WordSize)
	}

	r, err := e.AllocReg(retType)
	if err != nil {
		return Value{}, err
	}
	if IsFloatType(retType) {
		e.emitf("%s %s, %s", e.floatMove(retType), r.Name, t.FloatReturnReg)
	} else {
		e.emitf("mov %s, %s", r.Name, t.ReturnReg)
	}
	return r, nil
}

// pushArg pushes one word-sized argument slot.
func (e *Engine) pushArg(arg Value) error {
	t := e.target
	switch {
	case arg.IsRegister() && arg.IsFloat():
		e.emitf("sub %s, %d", t.StackPointer, t.WordSize)
		e.emitf("%s [%s], %s", e.floatMove(arg.Type), t.StackPointer, arg.Name)
		return nil
	case arg.IsRegister():
		e.widenReg(arg)
		e.emitf("push %s", arg.Name)
		return nil
	case arg.Kind == ValString:
		label := e.stringLabel(arg.Text)
		return e.WithTemp(e.defaultIntType(), func(tmp Value) error {
			if t.Is64Bit() {
				e.emitf("lea %s, [%s]", tmp.Name, label)
			} else {
				e.emitf("mov %s, %s", tmp.Name, label)
			}
			e.emitf("push %s", tmp.Name)
			return nil
		})
	}

	typ := arg.Type
	if typ == "" {
		typ = e.defaultIntType()
	}
	arg = e.materialize(arg, typ)
	return e.WithTemp(e.defaultIntType(), func(tmp Value) error {
		e.loadInt(tmp.Name, arg, typ)
		e.emitf("push %s", tmp.Name)
		return nil
	})
}

// ---------------------------------------------------------------------------
// Print / exit
// ---------------------------------------------------------------------------

// Print writes v followed by a newline at run time. String literals are
// written directly with a system call; floating values go through
// print_float and everything else through print_int.
func (e *Engine) Print(v Value) error {
	switch {
	case v.Kind == ValString:
		e.printString(v.Text)
		return nil
	case v.IsFloat():
		return e.PrintFloat(v)
	}

	e.addPrintIntHelper()
	t := e.target
	if v.IsRegister() {
		e.widenReg(v)
		e.emitf("push %s", v.Name)
	} else {
		typ := v.Type
		if typ == "" {
			typ = e.defaultIntType()
		}
		err := e.WithTemp(e.defaultIntType(), func(tmp Value) error {
			e.loadInt(tmp.Name, v, typ)
			e.emitf("push %s", tmp.Name)
			return nil
		})
		if err != nil {
			return err
		}
	}
	e.emitf("call print_int")
	e.emitf("add %s, %d", t.StackPointer, t.WordSize)
	return nil
}

func (e *Engine) printString(s string) {
	name := fmt.Sprintf("str_print_%d", e.printBufs)
	e.printBufs++
	e.symbols[name] = true
	e.data = append(e.data, fmt.Sprintf("    %s: db %s, 10", name, quoteBytes(s)))
	n := len(s) + 1

	live := lo.Filter(e.printClobbers(), func(reg string, _ int) bool {
		return e.regs.IsUsed(ClassInt, reg)
	})
	for _, reg := range live {
		e.emitf("push %s", reg)
	}
	defer func() {
		for _, reg := range lo.Reverse(live) {
			e.emitf("pop %s", reg)
		}
	}()

	switch e.target.Bits {
	case 64:
		e.emitf("mov rax, 1")
		e.emitf("mov rdi, 1")
		e.emitf("lea rsi, [%s]", name)
		e.emitf("mov rdx, %d", n)
		e.AddInstr(e.target.SyscallInstr)
	case 32:
		e.emitf("mov eax, 4")
		e.emitf("mov ebx, 1")
		e.emitf("mov ecx, %s", name)
		e.emitf("mov edx, %d", n)
		e.AddInstr(e.target.SyscallInstr)
	default:
		e.emitf("mov ah, 0x40")
		e.emitf("mov bx, 1")
		e.emitf("mov cx, %d", n)
		e.emitf("mov dx, %s", name)
		e.AddInstr(e.target.SyscallInstr)
	}
}

// printClobbers lists the pool registers the string write overwrites,
// including those the kernel trashes on syscall.
func (e *Engine) printClobbers() []string {
	switch e.target.Bits {
	case 64:
		return []string{"rcx", "rdx", "r11"}
	case 32:
		return []string{"ebx", "ecx", "edx"}
	default:
		return []string{"bx", "cx", "dx"}
	}
}

// PrintFloat writes a floating value with six fractional digits. The
// routine takes a single-precision argument, so doubles are narrowed first.
func (e *Engine) PrintFloat(v Value) error {
	e.addPrintFloatHelper()
	t := e.target

	typ := v.Type
	if !IsFloatType(typ) {
		typ = "float"
	}
	v = e.materialize(v, typ)
	double := t.TypeSize(typ) == 8

	push := func(reg string) {
		e.emitf("sub %s, 8", t.StackPointer)
		if t.Bits == 16 {
			e.emitf("mov si, sp")
			e.emitf("movss [si], %s", reg)
			return
		}
		e.emitf("movss [%s], %s", t.StackPointer, reg)
	}

	if v.IsRegister() && !double {
		push(v.Name)
	} else {
		err := e.WithTemp("float", func(tmp Value) error {
			if double {
				e.emitf("cvtsd2ss %s, %s", tmp.Name, v.Operand())
			} else {
				e.emitf("movss %s, %s", tmp.Name, v.Operand())
			}
			push(tmp.Name)
			return nil
		})
		if err != nil {
			return err
		}
	}
	e.emitf("call print_float")
	e.emitf("add %s, 8", t.StackPointer)
	return nil
}

// Exit terminates the process with code.
func (e *Engine) Exit(code int) {
	switch e.target.Bits {
	case 64:
		e.emitf("mov %s, 60", e.target.ReturnReg)
		e.emitf("mov rdi, %d", code)
		e.AddInstr(e.target.SyscallInstr)
	case 32:
		e.emitf("mov %s, 1", e.target.ReturnReg)
		if code == 0 {
			e.emitf("xor ebx, ebx")
		} else {
			e.emitf("mov ebx, %d", code)
		}
		e.AddInstr(e.target.SyscallInstr)
	default:
		e.emitf("mov ah, 0x4C")
		e.emitf("mov al, %d", code)
		e.AddInstr(e.target.SyscallInstr)
	}
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// Finalize concatenates the segments into the program text. Empty bss and
// data segments are omitted; the text section and the entry point are always
// present.
func (e *Engine) Finalize() string {
	out := []string{fmt.Sprintf("bits %d", e.target.Bits)}

	if len(e.bss) > 0 {
		out = append(out, "\nsection .bss")
		out = append(out, e.bss...)
	}
	if len(e.data) > 0 {
		out = append(out, "\nsection .data")
		out = append(out, e.data...)
	}

	out = append(out, "\nsection .text")
	out = append(out, "    global "+e.target.EntryPoint)
	if len(e.funcs)+len(e.builtins) > 0 {
		out = append(out, "")
		out = append(out, e.funcs...)
		out = append(out, e.builtins...)
	}

	out = append(out, fmt.Sprintf("\n%s:", e.target.EntryPoint))
	out = append(out, e.text...)

	if e.cur != nil {
		e.log.Warn("finalize with an open function; its body is not emitted", "func", e.cur.Name)
	}
	return strings.Join(out, "\n")
}

// DebugDump returns a human-readable summary of the engine state.
func (e *Engine) DebugDump() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Engine (%s, strict=%v) ===\n", e.target.Name(), e.strict)
	fmt.Fprintf(&b, "  bss=%d data=%d funcs=%d builtins=%d text=%d lines\n",
		len(e.bss), len(e.data), len(e.funcs), len(e.builtins), len(e.text))
	fmt.Fprintf(&b, "  int regs in use:   %v\n", e.regs.InUse(ClassInt))
	fmt.Fprintf(&b, "  float regs in use: %v\n", e.regs.InUse(ClassFloat))
	fmt.Fprintf(&b, "  print_int=%v print_float=%v\n", e.printIntAdded, e.printFloatAdded)
	if e.cur != nil {
		fmt.Fprintf(&b, "  open function: %s (saved=%v, locals=%d bytes)\n",
			e.cur.Name, e.cur.saved, e.cur.localSize)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// String helpers
// ---------------------------------------------------------------------------

// quoteBytes renders s as a NASM data list: printable runs in double quotes,
// other bytes (and the quote and backslash characters) as decimal values.
func quoteBytes(s string) string {
	if s == "" {
		return `""`
	}
	var parts []string
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			parts = append(parts, `"`+run.String()+`"`)
			run.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 32 && c <= 126 && c != '"' && c != '\\' {
			run.WriteByte(c)
			continue
		}
		flush()
		parts = append(parts, fmt.Sprintf("%d", c))
	}
	flush()
	return strings.Join(parts, ", ")
}

// floatText makes sure a numeric literal reads as floating point for NASM
// ("5" would assemble as the integer 5).
func floatText(text string) string {
	if strings.ContainsAny(text, ".eE") {
		return text
	}
	return text + ".0"
}
