package macro

import (
	"encoding/json"
	"errors"
	"testing"

	orerrors "github.com/elementastro/orrery/errors"
)

func TestProcessJsonBareNameMacro(t *testing.T) {
	e := New(0)
	if err := e.AddMacro("filter", "Ha"); err != nil {
		t.Fatalf("addMacro: %v", err)
	}
	doc := []byte(`{"filterName":"${filter}"}`)
	out, err := e.ProcessJson(doc)
	if err != nil {
		t.Fatalf("processJson: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if v["filterName"] != "Ha" {
		t.Fatalf("got %q, want Ha", v["filterName"])
	}
}

func TestProcessJsonBuiltinMacros(t *testing.T) {
	e := New(0)
	doc := []byte(`{"name":"${uppercase(m42)}","count":"${length(hello)}","flag":"${if(true,yes,no)}"}`)
	out, err := e.ProcessJson(doc)
	if err != nil {
		t.Fatalf("processJson: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v["name"] != "M42" {
		t.Fatalf("uppercase: got %q", v["name"])
	}
	if v["count"] != "5" {
		t.Fatalf("length: got %q", v["count"])
	}
	if v["flag"] != "yes" {
		t.Fatalf("if: got %q", v["flag"])
	}
}

func TestProcessJsonUndefinedMacro(t *testing.T) {
	e := New(0)
	_, err := e.ProcessJson([]byte(`{"x":"${nope}"}`))
	if !errors.Is(err, orerrors.ErrUndefinedMacro) {
		t.Fatalf("expected ErrUndefinedMacro, got %v", err)
	}
}

func TestProcessJsonMalformedToken(t *testing.T) {
	e := New(0)
	_, err := e.ProcessJson([]byte(`{"x":"${uppercase(a,)}"}`))
	if !errors.Is(err, orerrors.ErrInvalidMacroArgs) {
		t.Fatalf("expected ErrInvalidMacroArgs for trailing comma, got %v", err)
	}

	_, err = e.ProcessJson([]byte(`{"x":"${uppercase(a)"}`))
	if !errors.Is(err, orerrors.ErrInvalidMacroArgs) {
		t.Fatalf("expected ErrInvalidMacroArgs for unbalanced braces, got %v", err)
	}
}

func TestProcessJsonWithJsonMacrosScopedRegistration(t *testing.T) {
	e := New(0)
	if err := e.AddMacro("oiii", "Oiii"); err != nil {
		t.Fatalf("addMacro: %v", err)
	}
	doc := []byte(`{"filter":"${oiii}","frames":["${uppercase(${filter})}"]}`)
	out, err := e.ProcessJsonWithJsonMacros(doc)
	if err != nil {
		t.Fatalf("processJsonWithJsonMacros: %v", err)
	}
	var v map[string]interface{}
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	frames := v["frames"].([]interface{})
	if frames[0] != "OIII" {
		t.Fatalf("expected scoped macro expansion to OIII, got %v", frames[0])
	}

	// the scoped "filter" registration must not leak into the persistent table
	if _, err := e.ProcessJson([]byte(`{"x":"${filter}"}`)); !errors.Is(err, orerrors.ErrUndefinedMacro) {
		t.Fatalf("expected filter to remain undefined outside the scoped call, got %v", err)
	}
}

func TestRemoveMacroUndefined(t *testing.T) {
	e := New(0)
	if err := e.RemoveMacro("does-not-exist"); !errors.Is(err, orerrors.ErrUndefinedMacro) {
		t.Fatalf("expected ErrUndefinedMacro, got %v", err)
	}
}

func TestAddMacroEmptyName(t *testing.T) {
	e := New(0)
	if err := e.AddMacro("", "x"); !errors.Is(err, orerrors.ErrEmptyMacroName) {
		t.Fatalf("expected ErrEmptyMacroName, got %v", err)
	}
}

func TestCacheInvalidatedOnMacroChange(t *testing.T) {
	e := New(4)
	if err := e.AddMacro("greeting", "hello"); err != nil {
		t.Fatalf("addMacro: %v", err)
	}
	if _, err := e.ProcessJson([]byte(`{"x":"${greeting}"}`)); err != nil {
		t.Fatalf("processJson: %v", err)
	}
	if s := e.Stats(); s.CacheHits != 0 || s.CacheMisses != 1 {
		t.Fatalf("expected a single miss after first evaluation, got %+v", s)
	}
	if _, err := e.ProcessJson([]byte(`{"x":"${greeting}"}`)); err != nil {
		t.Fatalf("processJson: %v", err)
	}
	if s := e.Stats(); s.CacheHits != 1 {
		t.Fatalf("expected a cache hit on repeat evaluation, got %+v", s)
	}

	if err := e.AddMacro("greeting", "hi"); err != nil {
		t.Fatalf("addMacro update: %v", err)
	}
	if _, err := e.ProcessJson([]byte(`{"x":"${greeting}"}`)); err != nil {
		t.Fatalf("processJson: %v", err)
	}
	if s := e.Stats(); s.CacheMisses != 2 {
		t.Fatalf("expected cache invalidation to force a miss, got %+v", s)
	}
}

func TestConcatJoinsWithSpacesExceptPunctuation(t *testing.T) {
	e := New(0)
	out, err := e.ProcessJson([]byte(`{"x":"${concat(Hello,world,!)}"}`))
	if err != nil {
		t.Fatalf("processJson: %v", err)
	}
	var v map[string]string
	_ = json.Unmarshal(out, &v)
	if v["x"] != "Hello world!" {
		t.Fatalf("got %q", v["x"])
	}
}

func TestRepeat(t *testing.T) {
	e := New(0)
	out, err := e.ProcessJson([]byte(`{"x":"${repeat(ab,3)}"}`))
	if err != nil {
		t.Fatalf("processJson: %v", err)
	}
	var v map[string]string
	_ = json.Unmarshal(out, &v)
	if v["x"] != "ababab" {
		t.Fatalf("got %q", v["x"])
	}
}
