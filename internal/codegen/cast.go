package codegen

import (
	"errors"
	"fmt"
)

// ErrCastOperand is returned when the value to cast is a string literal.
var ErrCastOperand = errors.New("invalid cast operand")

// ---------------------------------------------------------------------------
// Cast / coercion
//
// Dispatch is on (source class, target class):
//   int   -> int    movsx / sized mov
//   int   -> float  cvtsi2ss / cvtsi2sd
//   float -> int    cvtss2si / cvtsd2si (chosen by the source precision)
//   float -> float  cvtss2sd / cvtsd2ss / movss / movsd
//
// Every path allocates exactly one destination register of the target class
// and returns it as a temporary tagged with the target type. Scratch
// registers needed on the way are released before returning.
// ---------------------------------------------------------------------------

// Cast converts v to typ.
func (e *Engine) Cast(v Value, typ string) (Value, error) {
	if v.Kind == ValString || v.Kind == ValNone {
		return Value{}, fmt.Errorf("%w: %s", ErrCastOperand, v.Kind)
	}
	if err := e.checkType(typ); err != nil {
		return Value{}, err
	}
	src := v.Type
	if src == "" {
		src = e.defaultIntType()
		v = v.WithType(src)
	}

	switch srcFloat, dstFloat := IsFloatType(src), IsFloatType(typ); {
	case srcFloat && !dstFloat:
		return e.floatToInt(v, typ)
	case !srcFloat && dstFloat:
		return e.intToFloat(v, typ)
	case srcFloat && dstFloat:
		return e.floatToFloat(v, typ)
	default:
		return e.intToInt(v, typ)
	}
}

// signExtend returns the sign-extending move for a source of size bytes.
func (e *Engine) signExtend(size int) string {
	if size == 4 && e.target.Is64Bit() {
		return "movsxd"
	}
	return "movsx"
}

func (e *Engine) intToInt(v Value, typ string) (Value, error) {
	t := e.target
	srcSize, dstSize := t.TypeSize(v.Type), t.TypeSize(typ)

	dst, err := e.AllocReg(typ)
	if err != nil {
		return Value{}, err
	}
	sized := t.ResizeReg(dst.Name, dstSize)

	switch {
	case v.Kind == ValNumber:
		e.emitf("mov %s, %s", sized, v.Text)
	case srcSize < dstSize:
		if v.IsRegister() {
			e.emitf("%s %s, %s", e.signExtend(srcSize), dst.Name, t.ResizeReg(v.Name, srcSize))
		} else {
			e.emitf("%s %s, %s %s", e.signExtend(srcSize), dst.Name, t.SizeKeyword(srcSize), v.Operand())
		}
	default:
		// Narrowing or same size: a plain move of the low dstSize bytes.
		src := v.Operand()
		if v.IsRegister() {
			src = t.ResizeReg(v.Name, dstSize)
		}
		e.emitf("mov %s, %s", sized, src)
	}
	return dst, nil
}

func (e *Engine) intToFloat(v Value, typ string) (Value, error) {
	t := e.target
	instr := "cvtsi2sd"
	if t.TypeSize(typ) == 4 {
		instr = "cvtsi2ss"
	}

	dst, err := e.AllocReg(typ)
	if err != nil {
		return Value{}, err
	}

	srcSize := t.TypeSize(v.Type)
	cvtSize := 4
	if srcSize == 8 {
		cvtSize = 8
	}

	if v.IsRegister() {
		wide := t.ResizeReg(v.Name, cvtSize)
		if srcSize < 4 {
			e.emitf("movsx %s, %s", wide, t.ResizeReg(v.Name, srcSize))
		}
		e.emitf("%s %s, %s", instr, dst.Name, wide)
		return dst, nil
	}

	err = e.WithTemp(e.defaultIntType(), func(tmp Value) error {
		wide := t.ResizeReg(tmp.Name, cvtSize)
		switch {
		case v.Kind == ValNumber:
			e.emitf("mov %s, %s", wide, v.Text)
		case srcSize < 4:
			e.emitf("movsx %s, %s %s", wide, t.SizeKeyword(srcSize), v.Operand())
		default:
			e.emitf("mov %s, %s", wide, v.Operand())
		}
		e.emitf("%s %s, %s", instr, dst.Name, wide)
		return nil
	})
	if err != nil {
		return Value{}, err
	}
	return dst, nil
}

func (e *Engine) floatToInt(v Value, typ string) (Value, error) {
	t := e.target
	instr := "cvtsd2si"
	if t.TypeSize(v.Type) == 4 {
		instr = "cvtss2si"
	}

	dst, err := e.AllocReg(typ)
	if err != nil {
		return Value{}, err
	}
	out := dst.Name
	if t.TypeSize(typ) < 8 {
		out = t.ResizeReg(dst.Name, 4)
	}

	if v.IsRegister() {
		e.emitf("%s %s, %s", instr, out, v.Name)
		return dst, nil
	}

	v = e.materialize(v, v.Type)
	err = e.WithTemp(v.Type, func(tmp Value) error {
		e.emitf("%s %s, %s", e.floatMove(v.Type), tmp.Name, v.Operand())
		e.emitf("%s %s, %s", instr, out, tmp.Name)
		return nil
	})
	if err != nil {
		return Value{}, err
	}
	return dst, nil
}

func (e *Engine) floatToFloat(v Value, typ string) (Value, error) {
	t := e.target
	srcSize, dstSize := t.TypeSize(v.Type), t.TypeSize(typ)

	dst, err := e.AllocReg(typ)
	if err != nil {
		return Value{}, err
	}
	v = e.materialize(v, v.Type)

	switch {
	case srcSize == 4 && dstSize == 8:
		e.emitf("cvtss2sd %s, %s", dst.Name, v.Operand())
	case srcSize == 8 && dstSize == 4:
		e.emitf("cvtsd2ss %s, %s", dst.Name, v.Operand())
	default:
		e.emitf("%s %s, %s", e.floatMove(typ), dst.Name, v.Operand())
	}
	return dst, nil
}
