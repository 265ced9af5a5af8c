package infra

import (
	"fmt"
	"regexp"
	"strings"
)

// compileGlob traduz um padrão no formato do MATCH do Redis para uma regexp
// ancorada, para o cache local apagar exatamente as mesmas chaves:
//
//	*       qualquer sequência, inclusive "/" e vazia
//	?       um caractere
//	[abc]   um dos caracteres; [^abc] nega; [a-z] intervalo (invertido vale)
//	\x      x literal
//
// "[" sem "]" de fechamento conta como literal.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?s)^`)

	rs := []rune(pattern)
	for i := 0; i < len(rs); i++ {
		switch r := rs[i]; r {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '\\':
			if i+1 < len(rs) {
				i++
			}
			b.WriteString(regexp.QuoteMeta(string(rs[i])))
		case '[':
			class, next, ok := globClass(rs, i+1)
			if !ok {
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			b.WriteString(class)
			i = next
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}

// globClass lê uma classe a partir de rs[start] (logo após o "[") e devolve a
// classe de regexp equivalente e o índice do "]" de fechamento.
func globClass(rs []rune, start int) (string, int, bool) {
	i := start
	negate := false
	if i < len(rs) && rs[i] == '^' {
		negate = true
		i++
	}

	var parts []string
	for ; i < len(rs); i++ {
		r := rs[i]
		if r == ']' {
			return buildClass(parts, negate), i, true
		}
		if r == '\\' && i+1 < len(rs) {
			i++
			r = rs[i]
		}
		if i+2 < len(rs) && rs[i+1] == '-' && rs[i+2] != ']' {
			lo, hi := r, rs[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			parts = append(parts, fmt.Sprintf(`\x{%x}-\x{%x}`, lo, hi))
			i += 2
			continue
		}
		parts = append(parts, fmt.Sprintf(`\x{%x}`, r))
	}
	return "", 0, false
}

func buildClass(parts []string, negate bool) string {
	if len(parts) == 0 {
		// "[]" não casa nada; "[^]" casa qualquer caractere
		if negate {
			return `.`
		}
		return `[^\x{0}-\x{10ffff}]`
	}
	if negate {
		return `[^` + strings.Join(parts, "") + `]`
	}
	return `[` + strings.Join(parts, "") + `]`
}
