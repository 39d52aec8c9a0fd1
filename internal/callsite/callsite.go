// Package callsite extracts the routine reference from a call expression such
// as "SELECT app.compute_total(1, 2)" or "CALL refresh('x')".
package callsite

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"github.com/ctagard/pldbg-mcp/internal/errors"
	"github.com/ctagard/pldbg-mcp/pkg/types"
)

// Parse returns the first routine call of sql. Comments are ignored,
// unquoted identifiers fold to lower case and argument fragments are kept as
// written.
func Parse(sql string) (types.CallSite, error) {
	s := &scanner{src: sql}
	s.skipSpace()

	if s.keyword("select") {
		s.skipSpace()
		if s.peek() == '*' {
			s.pos++
			s.skipSpace()
			if !s.keyword("from") {
				return types.CallSite{}, errors.InvalidCall(sql, "expected FROM after SELECT *")
			}
		}
	} else {
		s.keyword("call")
	}
	s.skipSpace()

	first, err := s.ident()
	if err != nil {
		return types.CallSite{}, errors.InvalidCall(sql, err.Error())
	}
	var schema, name = "", first
	s.skipSpace()
	if s.peek() == '.' {
		s.pos++
		s.skipSpace()
		second, err := s.ident()
		if err != nil {
			return types.CallSite{}, errors.InvalidCall(sql, err.Error())
		}
		schema, name = first, second
		s.skipSpace()
	}

	if s.peek() != '(' {
		return types.CallSite{}, errors.InvalidCall(sql, fmt.Sprintf("expected ( after %s", name))
	}
	s.pos++

	raw, err := s.arguments()
	if err != nil {
		return types.CallSite{}, errors.InvalidCall(sql, err.Error())
	}
	args := lo.FilterMap(raw, func(frag string, _ int) (string, bool) {
		frag = strings.TrimSpace(frag)
		return frag, frag != "" && frag != "," && !strings.HasPrefix(frag, "--")
	})

	return types.NewCallSite(schema, name, args), nil
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) eof() bool { return s.pos >= len(s.src) }

func (s *scanner) peek() byte {
	if s.eof() {
		return 0
	}
	return s.src[s.pos]
}

func (s *scanner) hasPrefix(p string) bool {
	return strings.HasPrefix(s.src[s.pos:], p)
}

// skipSpace skips whitespace and comments.
func (s *scanner) skipSpace() {
	for !s.eof() {
		switch {
		case unicode.IsSpace(rune(s.peek())):
			s.pos++
		case s.hasPrefix("--"):
			s.skipLineComment()
		case s.hasPrefix("/*"):
			s.skipBlockComment()
		default:
			return
		}
	}
}

func (s *scanner) skipLineComment() {
	if i := strings.IndexByte(s.src[s.pos:], '\n'); i >= 0 {
		s.pos += i + 1
		return
	}
	s.pos = len(s.src)
}

// skipBlockComment handles nesting, which PostgreSQL allows.
func (s *scanner) skipBlockComment() {
	depth := 0
	for !s.eof() {
		switch {
		case s.hasPrefix("/*"):
			depth++
			s.pos += 2
		case s.hasPrefix("*/"):
			depth--
			s.pos += 2
			if depth == 0 {
				return
			}
		default:
			s.pos++
		}
	}
}

// keyword consumes kw when it is the next whole word, ignoring case.
func (s *scanner) keyword(kw string) bool {
	end := s.pos + len(kw)
	if end > len(s.src) || !strings.EqualFold(s.src[s.pos:end], kw) {
		return false
	}
	if end < len(s.src) && isIdentPart(s.src[end]) {
		return false
	}
	s.pos = end
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 0x80 || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '$' || (c >= '0' && c <= '9')
}

func (s *scanner) ident() (string, error) {
	if s.peek() == '"' {
		return s.quotedIdent()
	}
	if s.eof() || !isIdentStart(s.peek()) {
		return "", fmt.Errorf("expected routine name at offset %d", s.pos)
	}
	start := s.pos
	for !s.eof() && isIdentPart(s.peek()) {
		s.pos++
	}
	return strings.ToLower(s.src[start:s.pos]), nil
}

func (s *scanner) quotedIdent() (string, error) {
	start := s.pos
	s.pos++
	var b strings.Builder
	for !s.eof() {
		c := s.src[s.pos]
		s.pos++
		if c != '"' {
			b.WriteByte(c)
			continue
		}
		if s.peek() == '"' {
			b.WriteByte('"')
			s.pos++
			continue
		}
		if b.Len() == 0 {
			return "", fmt.Errorf("empty quoted identifier at offset %d", start)
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("unterminated quoted identifier at offset %d", start)
}

// arguments reads up to the ')' matching the already consumed '(' and
// returns the raw top-level comma separated fragments, comments removed.
func (s *scanner) arguments() ([]string, error) {
	var (
		frags []string
		cur   strings.Builder
		depth int
	)
	for !s.eof() {
		switch c := s.peek(); {
		case s.hasPrefix("--"):
			s.skipLineComment()
			cur.WriteByte(' ')
		case s.hasPrefix("/*"):
			s.skipBlockComment()
			cur.WriteByte(' ')
		case c == '\'' || c == '"':
			lit, err := s.quoted(c)
			if err != nil {
				return nil, err
			}
			cur.WriteString(lit)
		case c == '$':
			lit, err := s.dollarQuoted()
			if err != nil {
				return nil, err
			}
			cur.WriteString(lit)
		case c == '(' || c == '[':
			depth++
			cur.WriteByte(c)
			s.pos++
		case (c == ')' || c == ']') && depth > 0:
			depth--
			cur.WriteByte(c)
			s.pos++
		case c == ')':
			s.pos++
			return append(frags, cur.String()), nil
		case c == ',' && depth == 0:
			frags = append(frags, cur.String())
			cur.Reset()
			s.pos++
		default:
			cur.WriteByte(c)
			s.pos++
		}
	}
	return nil, fmt.Errorf("unbalanced parentheses")
}

// quoted returns a '...' or "..." literal including its quotes.
func (s *scanner) quoted(q byte) (string, error) {
	start := s.pos
	s.pos++
	for !s.eof() {
		c := s.src[s.pos]
		s.pos++
		if c != q {
			continue
		}
		if s.peek() == q {
			s.pos++
			continue
		}
		return s.src[start:s.pos], nil
	}
	return "", fmt.Errorf("unterminated string at offset %d", start)
}

// dollarQuoted returns a $tag$...$tag$ literal, or a lone positional
// parameter such as $1.
func (s *scanner) dollarQuoted() (string, error) {
	start := s.pos
	end := s.pos + 1
	for end < len(s.src) && s.src[end] != '$' && isIdentPart(s.src[end]) {
		end++
	}
	if end >= len(s.src) || s.src[end] != '$' {
		s.pos = end
		return s.src[start:end], nil
	}
	if tag := s.src[start+1 : end]; tag != "" && tag[0] >= '0' && tag[0] <= '9' {
		s.pos = end
		return s.src[start:end], nil
	}
	delim := s.src[start : end+1]
	body := end + 1
	i := strings.Index(s.src[body:], delim)
	if i < 0 {
		return "", fmt.Errorf("unterminated dollar-quoted string at offset %d", start)
	}
	s.pos = body + i + len(delim)
	return s.src[start:s.pos], nil
}
