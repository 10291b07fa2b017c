package router

import "testing"

func TestCompilePatternRejectsNonTerminalPath(t *testing.T) {
	_, err := CompilePattern("/files/<path:rest>/extra")
	if err == nil {
		t.Fatal("expected compile error for non-terminal path placeholder")
	}
}

func TestPathCapture(t *testing.T) {
	p, err := CompilePattern("/files/<path:rest>")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	params, ok := p.Match("/files/a/b/c.txt")
	if !ok {
		t.Fatal("expected match")
	}
	if params["rest"] != "a/b/c.txt" {
		t.Fatalf("expected rest=a/b/c.txt, got %q", params["rest"])
	}
}

func TestFastPathLiteralMatch(t *testing.T) {
	p, err := CompilePattern("/index.html")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !p.fastPath {
		t.Fatal("expected fast path for pattern with no placeholders")
	}
	if _, ok := p.Match("/index.html"); !ok {
		t.Fatal("expected match")
	}
	if _, ok := p.Match("/other.html"); ok {
		t.Fatal("expected no match")
	}
}

func TestTypedPlaceholder(t *testing.T) {
	p, err := CompilePattern("/users/<int:id>/<name>")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	params, ok := p.Match("/users/42/bob")
	if !ok {
		t.Fatal("expected match")
	}
	if params["id"] != "42" || params["name"] != "bob" {
		t.Fatalf("unexpected params: %+v", params)
	}
}

func TestSegmentCountMismatch(t *testing.T) {
	p, _ := CompilePattern("/a/<name>")
	if _, ok := p.Match("/a/b/c"); ok {
		t.Fatal("expected no match for extra segment without path placeholder")
	}
}
