package script

import (
	"fmt"
	"regexp"
	"strconv"

	"asmlite/internal/codegen"

	"github.com/alecthomas/participle/lexer"
)

// ---------------------------------------------------------------------------
// Emission
//
// A Script drives a codegen.Engine statement by statement. Names bound at
// the top level (consts, globals, lets) live for the whole script; names
// bound inside a function body are dropped when the function ends.
// ---------------------------------------------------------------------------

// {name} or {name:N}; the size suffix selects the N-byte alias of a register.
var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?::([1248]))?\}`)

type emitter struct {
	e      *codegen.Engine
	file   string
	global map[string]codegen.Value
	scope  map[string]codegen.Value
	fn     *codegen.Function
}

// Emit runs the script against e. It satisfies codegen.Program.
func (s *Script) Emit(e *codegen.Engine) error {
	em := &emitter{
		e:      e,
		file:   s.File,
		global: make(map[string]codegen.Value),
	}
	for _, it := range s.Items {
		var err error
		if it.Func != nil {
			err = em.function(it.Func)
		} else {
			err = em.stmt(it.Stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (em *emitter) fail(pos lexer.Position, err error) error {
	return &ScriptError{Message: err.Error(), Pos: pos, File: em.file, Err: err}
}

func (em *emitter) failf(pos lexer.Position, format string, args ...any) error {
	return &ScriptError{Message: fmt.Sprintf(format, args...), Pos: pos, File: em.file}
}

func (em *emitter) wordInt() string {
	return fmt.Sprintf("int%d", em.e.Target().Bits)
}

// ---------------------------------------------------------------------------
// Bindings
// ---------------------------------------------------------------------------

func (em *emitter) bind(name string, v codegen.Value) {
	if em.scope != nil {
		em.scope[name] = v
		return
	}
	em.global[name] = v
}

func (em *emitter) lookup(name string) (codegen.Value, bool) {
	if em.scope != nil {
		if v, ok := em.scope[name]; ok {
			return v, true
		}
	}
	v, ok := em.global[name]
	return v, ok
}

func (em *emitter) unbind(name string) {
	if em.scope != nil {
		if _, ok := em.scope[name]; ok {
			delete(em.scope, name)
			return
		}
	}
	delete(em.global, name)
}

// operand resolves an operand to a value. Integer literals take the word
// integer type so they move as full registers.
func (em *emitter) operand(op *Operand) (codegen.Value, error) {
	switch {
	case op.String != nil:
		s, err := unquote(*op.String)
		if err != nil {
			return codegen.Value{}, em.failf(op.Pos, "invalid string literal %s", *op.String)
		}
		return codegen.Str(s), nil
	case op.Number != nil:
		v, err := codegen.Number(*op.Number)
		if err != nil {
			return codegen.Value{}, em.fail(op.Pos, err)
		}
		if !v.IsFloat() {
			v = v.WithType(em.wordInt())
		}
		return v, nil
	default:
		v, ok := em.lookup(*op.Name)
		if !ok {
			return codegen.Value{}, em.failf(op.Pos, "undefined name %s", *op.Name)
		}
		return v, nil
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func (em *emitter) function(fd *FuncDecl) error {
	params := make([]codegen.Param, len(fd.Params))
	for i, p := range fd.Params {
		params[i] = codegen.Param{Name: p.Name, Type: p.Type}
	}
	fn, err := em.e.BeginFunction(fd.Name, params)
	if err != nil {
		return em.fail(fd.Pos, err)
	}
	em.fn = fn
	em.scope = make(map[string]codegen.Value)
	defer func() {
		em.fn = nil
		em.scope = nil
	}()

	for _, st := range fd.Body {
		if err := em.stmt(st); err != nil {
			return err
		}
	}
	if err := fn.End(); err != nil {
		return em.fail(fd.Pos, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (em *emitter) stmt(st *Stmt) error {
	e := em.e
	switch {
	case st.Const != nil:
		c := st.Const
		lit, err := em.operand(c.Value)
		if err != nil {
			return err
		}
		v, err := e.DeclareConst(c.Name, lit, c.Type)
		if err != nil {
			return em.fail(c.Pos, err)
		}
		em.bind(c.Name, v)

	case st.Global != nil:
		v, err := e.DeclareGlobal(st.Global.Name, st.Global.Type)
		if err != nil {
			return em.fail(st.Global.Pos, err)
		}
		em.bind(st.Global.Name, v)

	case st.Local != nil:
		if em.fn == nil {
			return em.failf(st.Pos, "local outside of a function")
		}
		v, err := em.fn.Local(st.Local.Name, st.Local.Type)
		if err != nil {
			return em.fail(st.Local.Pos, err)
		}
		em.bind(st.Local.Name, v)

	case st.Let != nil:
		v, err := em.expr(st.Let.Expr)
		if err != nil {
			return err
		}
		em.bind(st.Let.Name, v)

	case st.Call != nil:
		r, err := em.call(st.Call)
		if err != nil {
			return err
		}
		e.Release(r)

	case st.Print != nil:
		v, err := em.operand(st.Print)
		if err != nil {
			return err
		}
		if err := e.Print(v); err != nil {
			return em.fail(st.Pos, err)
		}

	case st.Asm != nil:
		code, err := em.substitute(st.Asm)
		if err != nil {
			return err
		}
		e.EmitLines(code)

	case st.Free != nil:
		v, ok := em.lookup(st.Free.Name)
		if !ok {
			return em.failf(st.Free.Pos, "undefined name %s", st.Free.Name)
		}
		if !v.IsRegister() {
			return em.failf(st.Free.Pos, "%s is a %s, not a register", st.Free.Name, v.Kind)
		}
		e.Release(v)
		em.unbind(st.Free.Name)

	case st.Return != nil:
		if em.fn == nil {
			return em.failf(st.Pos, "return outside of a function")
		}
		v, err := em.operand(st.Return)
		if err != nil {
			return err
		}
		if err := em.fn.Return(v); err != nil {
			return em.fail(st.Pos, err)
		}

	case st.Exit != nil:
		code := 0
		if op := st.Exit.Code; op != nil {
			if op.Number == nil {
				return em.failf(op.Pos, "exit code must be an integer literal")
			}
			n, err := strconv.Atoi(*op.Number)
			if err != nil {
				return em.failf(op.Pos, "exit code must be an integer literal")
			}
			code = n
		}
		e.Exit(code)
	}
	return nil
}

// unquote strips the quotes and escapes of a string token.
func unquote(tok string) (string, error) {
	if len(tok) >= 2 && (tok[0] == '"' || tok[0] == '`') {
		return strconv.Unquote(tok)
	}
	return tok, nil
}

// substitute replaces {name} placeholders with operand text.
func (em *emitter) substitute(a *AsmStmt) (string, error) {
	code, err := unquote(a.Code)
	if err != nil {
		return "", em.failf(a.Pos, "invalid string literal %s", a.Code)
	}
	var missing string
	out := placeholder.ReplaceAllStringFunc(code, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		v, ok := em.lookup(sub[1])
		if !ok {
			if missing == "" {
				missing = sub[1]
			}
			return m
		}
		if sub[2] != "" && v.IsRegister() {
			n, _ := strconv.Atoi(sub[2])
			return em.e.Target().ResizeReg(v.Name, n)
		}
		return v.Operand()
	})
	if missing != "" {
		return "", em.failf(a.Pos, "undefined name %s in asm", missing)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (em *emitter) expr(x *Expr) (codegen.Value, error) {
	e := em.e
	switch {
	case x.Param != nil:
		if em.fn == nil {
			return codegen.Value{}, em.failf(x.Pos, "param outside of a function")
		}
		v, err := em.fn.Param(*x.Param)
		if err != nil {
			return codegen.Value{}, em.fail(x.Pos, err)
		}
		return v, nil

	case x.Load != nil:
		v, err := em.operand(x.Load.Value)
		if err != nil {
			return codegen.Value{}, err
		}
		r, err := e.LoadValue(v, x.Load.Type)
		if err != nil {
			return codegen.Value{}, em.fail(x.Load.Pos, err)
		}
		return r, nil

	case x.Alloc != nil:
		r, err := e.AllocReg(*x.Alloc)
		if err != nil {
			return codegen.Value{}, em.fail(x.Pos, err)
		}
		return r, nil

	case x.Call != nil:
		return em.call(x.Call)

	case x.Cast != nil:
		v, err := em.operand(x.Cast.Value)
		if err != nil {
			return codegen.Value{}, err
		}
		r, err := e.Cast(v, x.Cast.Type)
		if err != nil {
			return codegen.Value{}, em.fail(x.Cast.Pos, err)
		}
		return r, nil

	default:
		return em.operand(x.Value)
	}
}

func (em *emitter) call(c *CallExpr) (codegen.Value, error) {
	args := make([]codegen.Value, len(c.Args))
	for i, op := range c.Args {
		v, err := em.operand(op)
		if err != nil {
			return codegen.Value{}, err
		}
		args[i] = v
	}
	var (
		r   codegen.Value
		err error
	)
	if c.Type == "" {
		r, err = em.e.Call(c.Name, args)
	} else {
		r, err = em.e.CallTyped(c.Name, args, c.Type)
	}
	if err != nil {
		return codegen.Value{}, em.fail(c.Pos, err)
	}
	return r, nil
}
