// Package listing renders generated assembly for the terminal.
package listing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/logrusorgru/aurora"
)

var (
	registerRe = regexp.MustCompile(`^(r[a-d]x|e[a-d]x|[a-d][xlh]|r[sd]i|e[sd]i|[sd]il?|r[sb]p|e[sb]p|[sb]pl?|r(8|9|1[0-5])[bwd]?|xmm[0-9]+|st[0-7]?)$`)
	numberRe   = regexp.MustCompile(`^(-?[0-9][0-9.]*|0x[0-9a-fA-F]+|'.')$`)
)

var directives = map[string]bool{"bits": true, "section": true, "global": true, "extern": true}

// Colorize returns asm with labels, directives, mnemonics and operands
// coloured. With colors false the text is returned unchanged.
func Colorize(asm string, colors bool) string {
	au := aurora.NewAurora(colors)
	lines := strings.Split(asm, "\n")
	for i, line := range lines {
		lines[i] = colorLine(au, line)
	}
	return strings.Join(lines, "\n")
}

// Numbered prefixes every line of asm with its 1-based line number.
func Numbered(asm string, colors bool) string {
	au := aurora.NewAurora(colors)
	lines := strings.Split(asm, "\n")
	width := len(fmt.Sprint(len(lines)))
	for i, line := range lines {
		lines[i] = au.Gray(12, fmt.Sprintf("%*d ", width, i+1)).String() + line
	}
	return strings.Join(lines, "\n")
}

func colorLine(au aurora.Aurora, line string) string {
	body := strings.TrimLeft(line, " \t")
	if body == "" {
		return line
	}
	indent := line[:len(line)-len(body)]

	comment := ""
	if i := strings.Index(body, ";"); i >= 0 && !strings.ContainsAny(body[:i], `"'`) {
		body, comment = body[:i], au.Green(body[i:]).String()
	}

	head, rest, _ := strings.Cut(body, " ")
	switch {
	case directives[head]:
		return indent + au.Cyan(body).String() + comment
	case indent == "" && strings.HasSuffix(body, ":"):
		return au.Yellow(body).Bold().String() + comment
	case strings.HasSuffix(head, ":") && rest == "":
		return indent + au.Yellow(head).String() + comment
	case strings.HasSuffix(head, ":"):
		// name: directive values
		dir, vals, _ := strings.Cut(rest, " ")
		out := indent + au.Green(head).String() + " " + au.Blue(dir).String()
		if vals != "" {
			out += " " + vals
		}
		return out + comment
	}

	out := indent + au.Blue(head).String()
	if rest != "" {
		ops := strings.Split(rest, ", ")
		for j, op := range ops {
			ops[j] = colorOperand(au, op)
		}
		out += " " + strings.Join(ops, ", ")
	}
	return out + comment
}

func colorOperand(au aurora.Aurora, op string) string {
	trimmed := strings.TrimSpace(op)
	switch {
	case strings.Contains(trimmed, "["):
		return au.Magenta(op).String()
	case registerRe.MatchString(trimmed):
		return au.Red(op).String()
	case numberRe.MatchString(trimmed):
		return au.Yellow(op).String()
	default:
		return au.Cyan(op).String()
	}
}
