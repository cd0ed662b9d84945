package macro

import (
	"strings"

	orerrors "github.com/elementastro/orrery/errors"
)

// expandStringDepth scans s for ${...} tokens and replaces them with
// their expansions, respecting depth as a cycle guard.
func (e *Engine) expandStringDepth(s string, stack []string, depth int) (string, error) {
	if depth > maxExpansionDepth {
		return "", orerrors.New(orerrors.KindValidation, "MacroEngine.expand", orerrors.ErrCycleDetected)
	}

	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end, content, err := extractBraces(s, i+1)
			if err != nil {
				return "", orerrors.New(orerrors.KindValidation, "MacroEngine.expand", orerrors.ErrInvalidMacroArgs)
			}
			name, args, isCall, err := parseToken(content)
			if err != nil {
				return "", err
			}
			for _, frame := range stack {
				if frame == name {
					return "", orerrors.New(orerrors.KindValidation, "MacroEngine.expand", orerrors.ErrCycleDetected)
				}
			}
			val, err := e.evalMacro(name, args, isCall, append(append([]string{}, stack...), name), depth+1)
			if err != nil {
				return "", err
			}
			b.WriteString(val)
			i = end + 1
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String(), nil
}

// extractBraces locates the closing '}' matching the '{' at s[open],
// respecting nested braces introduced by ${...} tokens inside
// arguments. Returns the index of the closing brace and the content
// between them (exclusive of the braces themselves).
func extractBraces(s string, open int) (int, string, error) {
	if open >= len(s) || s[open] != '{' {
		return 0, "", orerrors.ErrInvalidMacroArgs
	}
	depth := 1
	i := open + 1
	for i < len(s) {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, s[open+1 : i], nil
			}
		}
		i++
	}
	return 0, "", orerrors.ErrInvalidMacroArgs
}

// parseToken splits "name" or "name(arg1, arg2, ...)" into its name
// and trimmed argument list.
func parseToken(content string) (name string, args []string, isCall bool, err error) {
	idx := strings.IndexByte(content, '(')
	if idx < 0 {
		name = strings.TrimSpace(content)
		if name == "" {
			return "", nil, false, orerrors.New(orerrors.KindValidation, "MacroEngine.expand", orerrors.ErrInvalidMacroArgs)
		}
		return name, nil, false, nil
	}
	if content[len(content)-1] != ')' {
		return "", nil, false, orerrors.New(orerrors.KindValidation, "MacroEngine.expand", orerrors.ErrInvalidMacroArgs)
	}
	name = strings.TrimSpace(content[:idx])
	if name == "" {
		return "", nil, false, orerrors.New(orerrors.KindValidation, "MacroEngine.expand", orerrors.ErrInvalidMacroArgs)
	}
	argsStr := content[idx+1 : len(content)-1]
	args, err = splitArgs(argsStr)
	if err != nil {
		return "", nil, false, err
	}
	return name, args, true, nil
}

// splitArgs splits a comma-separated argument list at top level only,
// leaving nested ${...} or (...) groups intact, and trims whitespace
// from each argument. A trailing comma is malformed.
func splitArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var args []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{', '(':
			depth++
		case '}', ')':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	last := strings.TrimSpace(s[start:])
	if last == "" {
		return nil, orerrors.New(orerrors.KindValidation, "MacroEngine.expand", orerrors.ErrInvalidMacroArgs)
	}
	args = append(args, last)
	return args, nil
}

func (e *Engine) evalMacro(name string, rawArgs []string, isCall bool, stack []string, depth int) (string, error) {
	e.mu.RLock()
	ent, ok := e.macros[name]
	e.mu.RUnlock()
	if !ok {
		return "", orerrors.New(orerrors.KindValidation, "MacroEngine.expand", orerrors.ErrUndefinedMacro)
	}

	args := make([]string, len(rawArgs))
	for i, a := range rawArgs {
		expanded, err := e.expandStringDepth(a, stack, depth)
		if err != nil {
			return "", err
		}
		args[i] = expanded
	}

	if ent.isStr {
		return e.expandStringDepth(ent.str, stack, depth)
	}
	if !isCall {
		args = nil
	}
	out, err := ent.value(args)
	if err != nil {
		return "", err
	}
	return e.expandStringDepth(out, stack, depth)
}
