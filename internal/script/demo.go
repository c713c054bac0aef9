package script

import _ "embed"

// Demo is a script exercising every statement form. The CLI's demo command
// builds it.
//
//go:embed demo.asml
var Demo string
