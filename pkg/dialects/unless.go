package dialects

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/stardialect/pkg/dialect"
)

// unlessLine matches a line starting an unless statement. splitHeader
// decides whether it is a block header.
var unlessLine = regexp.MustCompile(`(?m)^([ \t]*)unless[ \t]+(.*)$`)

// Unless adds the statement
//
//	unless COND:
//	    BODY
//
// which runs BODY when COND is false. The header must fit on one line and
// the body must start on the next.
var Unless = &dialect.Dialect{
	Name: "unless",
	Doc:  "Adds unless COND: blocks.",
	Source: func(src string) (string, error) {
		return rewriteUnless(src), nil
	},
}

func init() {
	dialect.Register(Unless)
}

func rewriteUnless(src string) string {
	var sb strings.Builder
	last := 0
	for _, m := range unlessLine.FindAllStringSubmatchIndex(src, -1) {
		cond, tail, ok := splitHeader(src[m[4]:m[5]])
		if !ok {
			continue
		}
		sb.WriteString(src[last:m[0]])
		sb.WriteString(src[m[2]:m[3]])
		sb.WriteString("if not (" + cond + "):" + tail)
		last = m[1]
	}
	sb.WriteString(src[last:])
	return sb.String()
}

// splitHeader splits the text after "unless" into the condition and what
// follows the header colon. The colon must be the last code on the line,
// outside strings and brackets.
func splitHeader(rest string) (cond, tail string, ok bool) {
	code := rest
	depth := 0
	var quote byte
scan:
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '#':
			code = rest[:i]
			break scan
		}
	}
	if quote != 0 || depth != 0 {
		return "", "", false
	}
	header := strings.TrimRight(code, " \t\r")
	if !strings.HasSuffix(header, ":") {
		return "", "", false
	}
	cond = strings.TrimRight(header[:len(header)-1], " \t")
	if cond == "" {
		return "", "", false
	}
	return cond, rest[len(header):], true
}
