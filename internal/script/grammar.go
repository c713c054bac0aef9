package script

import (
	"github.com/alecthomas/participle/lexer"
)

// ---------------------------------------------------------------------------
// Grammar
//
// An emission script is a flat list of declarations, statements and
// function definitions. Every statement starts with its own keyword, so the
// grammar never needs more than one token of lookahead.
// ---------------------------------------------------------------------------

// Script is the root of a parsed emission script.
type Script struct {
	Pos lexer.Position

	Bits  int     `parser:"[ \"bits\" @Int ]"`
	Items []*Item `parser:"{ @@ }"`

	// File is the path the script was read from, if any.
	File string
}

// Item is one top-level entry.
type Item struct {
	Pos lexer.Position

	Func *FuncDecl `parser:"  @@"`
	Stmt *Stmt     `parser:"| @@"`
}

// FuncDecl defines a function with stack parameters.
type FuncDecl struct {
	Pos lexer.Position

	Name   string   `parser:"\"func\" @Ident"`
	Params []*Param `parser:"\"(\" [ @@ { \",\" @@ } ] \")\""`
	Body   []*Stmt  `parser:"\"{\" { @@ } \"}\""`
}

// Param is a formal parameter: name then type.
type Param struct {
	Pos lexer.Position

	Name string `parser:"@Ident"`
	Type string `parser:"@Ident"`
}

// Stmt is a single statement.
type Stmt struct {
	Pos lexer.Position

	Const  *ConstDecl  `parser:"  @@"`
	Global *GlobalDecl `parser:"| @@"`
	Local  *LocalDecl  `parser:"| @@"`
	Let    *Let        `parser:"| @@"`
	Call   *CallExpr   `parser:"| @@"`
	Print  *Operand    `parser:"| \"print\" @@"`
	Asm    *AsmStmt    `parser:"| @@"`
	Free   *FreeStmt   `parser:"| @@"`
	Return *Operand    `parser:"| \"return\" @@"`
	Exit   *ExitStmt   `parser:"| @@"`
}

// ConstDecl places a literal in the data segment.
type ConstDecl struct {
	Pos lexer.Position

	Name  string   `parser:"\"const\" @Ident"`
	Type  string   `parser:"[ @Ident ]"`
	Value *Operand `parser:"\"=\" @@"`
}

// GlobalDecl reserves storage in the bss segment.
type GlobalDecl struct {
	Pos lexer.Position

	Name string `parser:"\"global\" @Ident"`
	Type string `parser:"@Ident"`
}

// LocalDecl declares a stack local of the enclosing function.
type LocalDecl struct {
	Pos lexer.Position

	Name string `parser:"\"local\" @Ident"`
	Type string `parser:"@Ident"`
}

// Let binds the result of an expression to a name.
type Let struct {
	Pos lexer.Position

	Name string `parser:"\"let\" @Ident \"=\""`
	Expr *Expr  `parser:"@@"`
}

// Expr produces a value.
type Expr struct {
	Pos lexer.Position

	Param *string   `parser:"  \"param\" @Ident"`
	Load  *LoadExpr `parser:"| @@"`
	Alloc *string   `parser:"| \"alloc\" @Ident"`
	Call  *CallExpr `parser:"| @@"`
	Cast  *CastExpr `parser:"| @@"`
	Value *Operand  `parser:"| @@"`
}

// LoadExpr loads a value into a register.
type LoadExpr struct {
	Pos lexer.Position

	Value *Operand `parser:"\"load\" @@"`
	Type  string   `parser:"[ \"as\" @Ident ]"`
}

// CallExpr calls a function with word-sized stack arguments.
type CallExpr struct {
	Pos lexer.Position

	Name string     `parser:"\"call\" @Ident"`
	Args []*Operand `parser:"\"(\" [ @@ { \",\" @@ } ] \")\""`
	Type string     `parser:"[ \"as\" @Ident ]"`
}

// CastExpr converts a value to another type.
type CastExpr struct {
	Pos lexer.Position

	Value *Operand `parser:"\"cast\" @@"`
	Type  string   `parser:"\"to\" @Ident"`
}

// AsmStmt emits raw instructions. {name} placeholders are replaced with the
// operand text of the bound value.
type AsmStmt struct {
	Pos lexer.Position

	Code string `parser:"\"asm\" @String"`
}

// FreeStmt releases a temporary register and drops its binding.
type FreeStmt struct {
	Pos lexer.Position

	Name string `parser:"\"free\" @Ident"`
}

// ExitStmt terminates the program.
type ExitStmt struct {
	Pos lexer.Position

	Code *Operand `parser:"\"exit\" [ @@ ]"`
}

// Operand is a literal or a bound name.
type Operand struct {
	Pos lexer.Position

	String *string `parser:"  @String"`
	Number *string `parser:"| @( [ \"-\" ] ( Float | Int ) )"`
	Name   *string `parser:"| @Ident"`
}
