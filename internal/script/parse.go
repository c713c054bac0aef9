package script

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/participle"
	"github.com/alecthomas/participle/lexer"
)

// ---------------------------------------------------------------------------
// ScriptError represents a parse or emission error with its source position.
// ---------------------------------------------------------------------------

type ScriptError struct {
	Message string
	Pos     lexer.Position
	File    string
	Err     error
}

func (e *ScriptError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: line %d, col %d: %s", e.File, e.Pos.Line, e.Pos.Column, e.Message)
	}
	return fmt.Sprintf("line %d, col %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Unwrap returns the engine error behind the message, if any.
func (e *ScriptError) Unwrap() error { return e.Err }

var parser = participle.MustBuild(&Script{})

// Parse parses an emission script from source text.
func Parse(src string) (*Script, error) {
	s := &Script{}
	if err := parser.ParseString(src, s); err != nil {
		return nil, parseError(err, "")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseFile reads and parses the script at path.
func ParseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	s, err := Parse(string(data))
	if err != nil {
		var se *ScriptError
		if errors.As(err, &se) {
			se.File = path
		}
		return nil, err
	}
	s.File = path
	return s, nil
}

func parseError(err error, file string) error {
	se := &ScriptError{Message: err.Error(), File: file, Err: err}
	var positioned interface{ Position() lexer.Position }
	if errors.As(err, &positioned) {
		se.Pos = positioned.Position()
	}
	return se
}

// validate rejects scripts the grammar accepts but the engine cannot emit.
func (s *Script) validate() error {
	switch s.Bits {
	case 0, 16, 32, 64:
	default:
		return &ScriptError{Message: fmt.Sprintf("unsupported word width %d", s.Bits), Pos: s.Pos}
	}
	for _, it := range s.Items {
		if it.Stmt == nil {
			continue
		}
		switch {
		case it.Stmt.Local != nil:
			return &ScriptError{Message: "local outside of a function", Pos: it.Stmt.Pos}
		case it.Stmt.Return != nil:
			return &ScriptError{Message: "return outside of a function", Pos: it.Stmt.Pos}
		}
	}
	return nil
}
