package codegen

import (
	"fmt"

	"github.com/samber/lo"
)

// ---------------------------------------------------------------------------
// Function frames
//
// Frame layout (base pointer relative):
//   [bp + 2*word + i*word]  parameter i (pushed right to left by the caller)
//   [bp + word]             return address
//   [bp]                    saved base pointer
//   [bp - offset]           locals, offset = running sum of local sizes
//   below the locals        pushes of clobbered integer registers
//
// The label and the two prologue instructions go straight to the function
// segment. Everything after that is buffered in the Function until End,
// because the stack reservation and the register saves are only known once
// the body is complete.
// ---------------------------------------------------------------------------

// Param is one formal parameter.
type Param struct {
	Name string
	Type string
}

// Function is the open function of an Engine.
type Function struct {
	Name   string
	Params []Param

	e *Engine

	saved     []string // clobbered integer registers, first-use order
	lines     []string // buffered body
	localSize int
	locals    map[string]Value
	paramRegs map[string]Value
}

// BeginFunction emits the label and prologue of name and makes it the open
// function. Register pools are reset here, not at End.
func (e *Engine) BeginFunction(name string, params []Param) (*Function, error) {
	if e.cur != nil {
		return nil, fmt.Errorf("%w: cannot begin %s inside %s", ErrFunctionOpen, name, e.cur.Name)
	}
	if err := e.claimSymbol(name); err != nil {
		return nil, err
	}
	for _, p := range params {
		if err := e.checkType(p.Type); err != nil {
			return nil, fmt.Errorf("%s: parameter %s: %w", name, p.Name, err)
		}
	}

	t := e.target
	e.funcs = append(e.funcs,
		name+":",
		"    push "+t.BasePointer,
		fmt.Sprintf("    mov %s, %s", t.BasePointer, t.StackPointer),
	)

	f := &Function{
		Name:      name,
		Params:    params,
		e:         e,
		locals:    make(map[string]Value),
		paramRegs: make(map[string]Value),
	}
	e.cur = f
	e.regs.Reset()
	e.log.Debug("begin function", "name", name, "params", len(params))
	return f, nil
}

func (f *Function) open() error {
	if f.e.cur != f {
		return fmt.Errorf("%w: %s has ended", ErrNoFunction, f.Name)
	}
	return nil
}

// noteClobber records the first use of an integer register and prepends its
// save to the body.
func (f *Function) noteClobber(reg string) {
	if lo.Contains(f.saved, reg) {
		return
	}
	f.saved = append(f.saved, reg)
	f.lines = append([]string{"    push " + reg}, f.lines...)
}

// SavedRegs returns the save-list in first-use order.
func (f *Function) SavedRegs() []string {
	return append([]string(nil), f.saved...)
}

// LocalSize returns the bytes reserved for locals so far.
func (f *Function) LocalSize() int { return f.localSize }

// Local declares a stack local of typ. Its offset is the running local size
// after adding the local's own size, so later locals sit deeper.
func (f *Function) Local(name, typ string) (Value, error) {
	if err := f.open(); err != nil {
		return Value{}, err
	}
	if err := f.e.checkType(typ); err != nil {
		return Value{}, err
	}
	if _, dup := f.locals[name]; dup && f.e.strict {
		return Value{}, fmt.Errorf("%w: local %s in %s", ErrDuplicateSymbol, name, f.Name)
	}

	f.localSize += f.e.target.TypeSize(typ)
	v := Value{
		Kind:   ValLocal,
		Name:   name,
		Type:   typ,
		Offset: f.localSize,
		Base:   f.e.target.BasePointer,
	}
	f.locals[name] = v
	return v, nil
}

// LocalByName returns a previously declared local.
func (f *Function) LocalByName(name string) (Value, bool) {
	v, ok := f.locals[name]
	return v, ok
}

// Param returns the register holding parameter name. The first access loads
// it from its stack slot into a permanent register; later accesses return
// the cached register without emitting anything.
func (f *Function) Param(name string) (Value, error) {
	if err := f.open(); err != nil {
		return Value{}, err
	}
	if r, ok := f.paramRegs[name]; ok {
		return r, nil
	}

	idx := lo.IndexOf(lo.Map(f.Params, func(p Param, _ int) string { return p.Name }), name)
	if idx < 0 {
		return Value{}, fmt.Errorf("%w: %s in %s", ErrUnknownParam, name, f.Name)
	}
	typ := f.Params[idx].Type
	t := f.e.target
	slot := fmt.Sprintf("[%s+%d]", t.BasePointer, (idx+2)*t.WordSize)

	r, err := f.e.allocReg(typ, false)
	if err != nil {
		return Value{}, err
	}
	switch size := t.TypeSize(typ); {
	case IsFloatType(typ):
		f.e.emitf("%s %s, %s", f.e.floatMove(typ), r.Name, slot)
	case size < t.WordSize:
		f.e.emitf("%s %s, %s %s", f.e.signExtend(size), r.Name, t.SizeKeyword(size), slot)
	default:
		f.e.emitf("mov %s, %s", r.Name, slot)
	}
	f.paramRegs[name] = r
	return r, nil
}

// Return moves v into the return register of its class.
func (f *Function) Return(v Value) error {
	if err := f.open(); err != nil {
		return err
	}
	e, t := f.e, f.e.target

	if v.IsFloat() {
		v = e.materialize(v, v.Type)
		e.emitf("%s %s, %s", e.floatMove(v.Type), t.FloatReturnReg, v.Operand())
		return nil
	}
	if v.Kind == ValString {
		return fmt.Errorf("%s: cannot return a string literal", f.Name)
	}

	size := t.TypeSize(v.Type)
	switch {
	case v.IsMemory() && size < t.WordSize:
		e.emitf("%s %s, %s %s", e.signExtend(size), t.ReturnReg, t.SizeKeyword(size), v.Operand())
	default:
		e.emitf("mov %s, %s", t.ReturnReg, v.Operand())
	}
	return nil
}

// End closes the function: restores the saved registers, appends the
// epilogue, reserves the local area and flushes the body.
func (f *Function) End() error {
	if err := f.open(); err != nil {
		return err
	}
	t := f.e.target

	// Saves were prepended, so the emitted pushes run in reverse first-use
	// order; popping in first-use order unwinds them.
	for _, reg := range f.saved {
		f.lines = append(f.lines, "    pop "+reg)
	}
	f.lines = append(f.lines,
		fmt.Sprintf("    mov %s, %s", t.StackPointer, t.BasePointer),
		"    pop "+t.BasePointer,
		"    ret",
	)
	if f.localSize > 0 {
		f.lines = append([]string{fmt.Sprintf("    sub %s, %d", t.StackPointer, f.localSize)}, f.lines...)
	}

	f.e.funcs = append(f.e.funcs, f.lines...)
	f.e.cur = nil
	f.e.log.Debug("end function", "name", f.Name, "saved", f.saved, "locals", f.localSize)
	return nil
}
