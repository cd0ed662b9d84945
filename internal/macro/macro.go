// Package macro implements the MacroEngine: expansion of
// ${macro_name(arg1, arg2, ...)} and ${name} tokens embedded in the
// string leaves of a JSON document. Macros are either literal string
// substitutions or Go functions of []string -> string; a bounded,
// insertion-ordered LRU caches token -> expansion results until the
// macro table changes.
package macro

import (
	"container/list"
	"encoding/json"
	"strings"
	"sync"
	"time"

	orerrors "github.com/elementastro/orrery/errors"
)

// Func is a callable macro: it receives the already-expanded, trimmed
// argument list and returns the substitution text.
type Func func(args []string) (string, error)

// DefaultCacheCapacity is the default bound on the expansion cache
// (spec's "LRU bounded to N entries (default 1,000)").
const DefaultCacheCapacity = 1000

// maxExpansionDepth bounds recursive expansion of a macro's own
// substitution value; exceeding it is treated as a cycle.
const maxExpansionDepth = 32

type entry struct {
	value Func
	isStr bool // true when the macro is a literal string, not a callable
	str   string
}

// Engine is the MacroEngine. The zero value is not usable; construct
// with New.
type Engine struct {
	mu            sync.RWMutex
	macros        map[string]entry
	cacheCapacity int
	cache         map[string]*list.Element
	cacheOrder    *list.List

	statsMu   sync.Mutex
	hits      uint64
	misses    uint64
	evalCount uint64
	evalTotal time.Duration
}

type cacheRecord struct {
	key   string
	value string
}

// New constructs an Engine with the built-in macros registered and the
// given cache capacity (DefaultCacheCapacity if capacity <= 0).
func New(capacity int) *Engine {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	e := &Engine{
		macros:        make(map[string]entry),
		cacheCapacity: capacity,
		cache:         make(map[string]*list.Element),
		cacheOrder:    list.New(),
	}
	registerBuiltins(e)
	return e
}

// AddMacro registers a literal-string macro. Empty name fails with
// InvalidArgument-shaped validation error.
func (e *Engine) AddMacro(name, value string) error {
	if name == "" {
		return orerrors.New(orerrors.KindValidation, "MacroEngine.addMacro", orerrors.ErrEmptyMacroName)
	}
	e.mu.Lock()
	e.macros[name] = entry{isStr: true, str: value}
	e.mu.Unlock()
	e.invalidateCache()
	return nil
}

// AddMacroFunc registers a callable macro.
func (e *Engine) AddMacroFunc(name string, fn Func) error {
	if name == "" {
		return orerrors.New(orerrors.KindValidation, "MacroEngine.addMacro", orerrors.ErrEmptyMacroName)
	}
	e.mu.Lock()
	e.macros[name] = entry{isStr: false, value: fn}
	e.mu.Unlock()
	e.invalidateCache()
	return nil
}

// RemoveMacro unregisters a macro. Fails UndefinedMacro if absent.
func (e *Engine) RemoveMacro(name string) error {
	e.mu.Lock()
	_, ok := e.macros[name]
	if ok {
		delete(e.macros, name)
	}
	e.mu.Unlock()
	if !ok {
		return orerrors.New(orerrors.KindValidation, "MacroEngine.removeMacro", orerrors.ErrUndefinedMacro)
	}
	e.invalidateCache()
	return nil
}

// Names returns every registered macro name, built-in and user-added
// alike, in no particular order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.macros))
	for name := range e.macros {
		out = append(out, name)
	}
	return out
}

func (e *Engine) invalidateCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*list.Element)
	e.cacheOrder = list.New()
}

// Stats summarizes cache and evaluation behavior.
type Stats struct {
	CacheHits    uint64
	CacheMisses  uint64
	EvalCount    uint64
	AvgEvalTime  time.Duration
}

func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s := Stats{CacheHits: e.hits, CacheMisses: e.misses, EvalCount: e.evalCount}
	if e.evalCount > 0 {
		s.AvgEvalTime = e.evalTotal / time.Duration(e.evalCount)
	}
	return s
}

// ProcessJson walks every string leaf of doc, replacing recognized
// ${...} tokens in place, and returns the result. No partial document
// is returned when a substitution fails: on error the caller receives
// the pre-expansion doc unchanged alongside the error.
func (e *Engine) ProcessJson(doc []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return doc, orerrors.New(orerrors.KindValidation, "MacroEngine.processJson", err)
	}
	out, err := e.expandNode(v, nil)
	if err != nil {
		return doc, err
	}
	result, err := json.Marshal(out)
	if err != nil {
		return doc, orerrors.New(orerrors.KindValidation, "MacroEngine.processJson", err)
	}
	return result, nil
}

// ProcessJsonWithJsonMacros first scans doc for object keys whose value
// is a single bare macro token (e.g. "filterName": "${filter}") and
// registers those as one-shot macros scoped to this call, then runs
// ProcessJson. The one-shot registrations are written into the macro
// table for the duration of the call and removed afterwards, restoring
// any macro they shadowed; the expansion cache is invalidated on entry
// and on exit. Other callers of the same Engine can see the one-shot
// macros while the call runs.
func (e *Engine) ProcessJsonWithJsonMacros(doc []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return doc, orerrors.New(orerrors.KindValidation, "MacroEngine.processJsonWithJsonMacros", err)
	}

	scoped := make(map[string]entry)
	collectJsonMacros(v, scoped)
	if len(scoped) == 0 {
		return e.ProcessJson(doc)
	}

	e.mu.Lock()
	saved := make(map[string]entry, len(scoped))
	for name, ent := range scoped {
		if prev, ok := e.macros[name]; ok {
			saved[name] = prev
		}
		e.macros[name] = ent
	}
	e.mu.Unlock()
	e.invalidateCache()

	defer func() {
		e.mu.Lock()
		for name := range scoped {
			if prev, ok := saved[name]; ok {
				e.macros[name] = prev
			} else {
				delete(e.macros, name)
			}
		}
		e.mu.Unlock()
		e.invalidateCache()
	}()

	out, err := e.expandNode(v, nil)
	if err != nil {
		return doc, err
	}
	result, err := json.Marshal(out)
	if err != nil {
		return doc, orerrors.New(orerrors.KindValidation, "MacroEngine.processJsonWithJsonMacros", err)
	}
	return result, nil
}

func collectJsonMacros(node interface{}, scoped map[string]entry) {
	obj, ok := node.(map[string]interface{})
	if !ok {
		if arr, ok := node.([]interface{}); ok {
			for _, el := range arr {
				collectJsonMacros(el, scoped)
			}
		}
		return
	}
	for key, val := range obj {
		if s, ok := val.(string); ok {
			if _, ok := bareMacroName(s); ok {
				// Store the token itself (not the bare name) so that
				// expanding the new macro re-triggers a lookup of
				// whatever it references, rather than inserting the
				// referenced name as a literal.
				scoped[key] = entry{isStr: true, str: s}
			}
		}
		collectJsonMacros(val, scoped)
	}
}

// bareMacroName reports whether s is exactly a single "${name}" token
// (no surrounding text, no call arguments) and returns name.
func bareMacroName(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := s[2 : len(s)-1]
	if inner == "" || strings.ContainsAny(inner, "(){}") {
		return "", false
	}
	return inner, true
}

func (e *Engine) expandNode(node interface{}, stack []string) (interface{}, error) {
	switch v := node.(type) {
	case string:
		return e.expandString(v, stack)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			exp, err := e.expandNode(val, stack)
			if err != nil {
				return nil, err
			}
			out[k] = exp
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			exp, err := e.expandNode(val, stack)
			if err != nil {
				return nil, err
			}
			out[i] = exp
		}
		return out, nil
	default:
		return node, nil
	}
}

func (e *Engine) expandString(s string, stack []string) (string, error) {
	if cached, ok := e.cacheGet(s); ok {
		return cached, nil
	}
	start := time.Now()
	result, err := e.expandStringDepth(s, stack, 0)
	e.recordEval(time.Since(start))
	if err != nil {
		return "", err
	}
	e.cachePut(s, result)
	return result, nil
}

func (e *Engine) recordEval(d time.Duration) {
	e.statsMu.Lock()
	e.evalCount++
	e.evalTotal += d
	e.statsMu.Unlock()
}

func (e *Engine) cacheGet(key string) (string, bool) {
	e.mu.Lock()
	el, ok := e.cache[key]
	if ok {
		e.cacheOrder.MoveToFront(el)
	}
	e.mu.Unlock()
	e.statsMu.Lock()
	if ok {
		e.hits++
	} else {
		e.misses++
	}
	e.statsMu.Unlock()
	if !ok {
		return "", false
	}
	return el.Value.(*cacheRecord).value, true
}

func (e *Engine) cachePut(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.cache[key]; ok {
		el.Value.(*cacheRecord).value = value
		e.cacheOrder.MoveToFront(el)
		return
	}
	el := e.cacheOrder.PushFront(&cacheRecord{key: key, value: value})
	e.cache[key] = el
	for e.cacheOrder.Len() > e.cacheCapacity {
		back := e.cacheOrder.Back()
		if back == nil {
			break
		}
		rec := back.Value.(*cacheRecord)
		delete(e.cache, rec.key)
		e.cacheOrder.Remove(back)
	}
}

func registerBuiltins(e *Engine) {
	_ = e.AddMacroFunc("uppercase", func(args []string) (string, error) {
		if len(args) != 1 {
			return "", orerrors.New(orerrors.KindValidation, "macro.uppercase", orerrors.ErrInvalidMacroArgs)
		}
		return strings.ToUpper(args[0]), nil
	})
	_ = e.AddMacroFunc("tolower", func(args []string) (string, error) {
		if len(args) != 1 {
			return "", orerrors.New(orerrors.KindValidation, "macro.tolower", orerrors.ErrInvalidMacroArgs)
		}
		return strings.ToLower(args[0]), nil
	})
	_ = e.AddMacroFunc("concat", func(args []string) (string, error) {
		if len(args) == 0 {
			return "", orerrors.New(orerrors.KindValidation, "macro.concat", orerrors.ErrInvalidMacroArgs)
		}
		var b strings.Builder
		for i, a := range args {
			if i > 0 && !adjoinsPunctuation(args[i-1], a) {
				b.WriteByte(' ')
			}
			b.WriteString(a)
		}
		return b.String(), nil
	})
	_ = e.AddMacroFunc("if", func(args []string) (string, error) {
		if len(args) != 3 {
			return "", orerrors.New(orerrors.KindValidation, "macro.if", orerrors.ErrInvalidMacroArgs)
		}
		if args[0] == "true" {
			return args[1], nil
		}
		return args[2], nil
	})
	_ = e.AddMacroFunc("length", func(args []string) (string, error) {
		if len(args) != 1 {
			return "", orerrors.New(orerrors.KindValidation, "macro.length", orerrors.ErrInvalidMacroArgs)
		}
		return itoa(len(args[0])), nil
	})
	_ = e.AddMacroFunc("equals", func(args []string) (string, error) {
		if len(args) != 2 {
			return "", orerrors.New(orerrors.KindValidation, "macro.equals", orerrors.ErrInvalidMacroArgs)
		}
		if args[0] == args[1] {
			return "true", nil
		}
		return "false", nil
	})
	_ = e.AddMacroFunc("repeat", func(args []string) (string, error) {
		if len(args) != 2 {
			return "", orerrors.New(orerrors.KindValidation, "macro.repeat", orerrors.ErrInvalidMacroArgs)
		}
		n, err := atoiNonNegative(args[1])
		if err != nil {
			return "", orerrors.New(orerrors.KindValidation, "macro.repeat", orerrors.ErrInvalidMacroArgs)
		}
		return strings.Repeat(args[0], n), nil
	})
}

// adjoinsPunctuation reports whether b begins with punctuation that
// should not be preceded by a space when concatenated after a (the
// spec's "joins with spaces except adjacent punctuation").
func adjoinsPunctuation(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	switch b[0] {
	case '.', ',', '!', '?', ':', ';', ')':
		return true
	}
	return a[len(a)-1] == '('
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func atoiNonNegative(s string) (int, error) {
	if s == "" {
		return 0, orerrors.ErrInvalidMacroArgs
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, orerrors.ErrInvalidMacroArgs
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
