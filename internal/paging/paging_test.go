package paging

import (
	"errors"
	"testing"
)

func TestClampPageSize(t *testing.T) {
	tests := []struct{ in, want int }{
		{-5, DefaultPageSize},
		{0, DefaultPageSize},
		{1, 1},
		{2048, 2048},
		{5000, MaxPageSize},
	}
	for _, tt := range tests {
		if got := ClampPageSize(tt.in); got != tt.want {
			t.Errorf("ClampPageSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	p, err := New("secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	scope := Scope("proj", "pre", "")
	tok, err := p.Encode(Cursor{CreatedAt: 42, ID: "abc"}, scope)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if tok == "" {
		t.Fatal("empty token")
	}
	c, err := p.Decode(tok, scope)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.CreatedAt != 42 || c.ID != "abc" {
		t.Errorf("cursor = %+v", c)
	}
}

func TestEmptyTokenIsFirstPage(t *testing.T) {
	p, _ := New("secret")
	c, err := p.Decode("", Scope())
	if err != nil || c != nil {
		t.Fatalf("Decode(\"\") = %v, %v; want nil, nil", c, err)
	}
}

func TestRejectsGarbageAndTampering(t *testing.T) {
	p, _ := New("secret")
	scope := Scope("a")
	tok, _ := p.Encode(Cursor{CreatedAt: 1, ID: "x"}, scope)

	tampered := tok[:len(tok)-2] + "xx"
	if tok[len(tok)-2:] == "xx" {
		tampered = tok[:len(tok)-2] + "yy"
	}

	other, _ := New("other-secret")
	foreign, _ := other.Encode(Cursor{CreatedAt: 1, ID: "x"}, scope)

	for name, bad := range map[string]string{
		"garbage":  "not-a-token",
		"tampered": tampered,
		"foreign":  foreign,
	} {
		if _, err := p.Decode(bad, scope); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestRejectsScopeMismatch(t *testing.T) {
	p, _ := New("secret")
	tok, _ := p.Encode(Cursor{CreatedAt: 1, ID: "x"}, Scope("a"))
	if _, err := p.Decode(tok, Scope("b")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestRandomKeyWhenSecretEmpty(t *testing.T) {
	a, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, _ := New("")
	tok, _ := a.Encode(Cursor{CreatedAt: 1, ID: "x"}, "s")
	if _, err := b.Decode(tok, "s"); err == nil {
		t.Fatal("token from one random key accepted by another")
	}
}
