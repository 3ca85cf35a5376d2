package validate

import (
	"strings"
	"testing"
)

func TestPrice(t *testing.T) {
	cases := map[float64]bool{
		10:      true,
		0.01:    true,
		19.99:   true,
		0:       false,
		-5:      false,
		1.005:   false,
		1234.5:  true,
		0.00001: false,
	}
	for p, want := range cases {
		if got := Price(p); got != want {
			t.Errorf("Price(%v) = %v, want %v", p, got, want)
		}
	}
}

func TestImages(t *testing.T) {
	if _, ok := Images(nil); ok {
		t.Fatal("no images must fail")
	}
	ten := make([]string, 10)
	for i := range ten {
		ten[i] = "https://img.example/a.jpg"
	}
	if _, ok := Images(ten); ok {
		t.Fatal("ten images must fail")
	}
	if _, ok := Images(ten[:9]); !ok {
		t.Fatal("nine images must pass")
	}
	if _, ok := Images([]string{"ftp://x/y.jpg"}); ok {
		t.Fatal("non-http scheme must fail")
	}
	if _, ok := Images([]string{"/relative.jpg"}); ok {
		t.Fatal("relative url must fail")
	}
}

func TestTitleAndText(t *testing.T) {
	if _, ok := Title("  "); ok {
		t.Fatal("blank title must fail")
	}
	if _, ok := Title(strings.Repeat("é", MaxTitle)); !ok {
		t.Fatal("title length is counted in characters")
	}
	if _, ok := Title(strings.Repeat("a", MaxTitle+1)); ok {
		t.Fatal("101 char title must fail")
	}
	if _, ok := Text("", MaxFlagText); !ok {
		t.Fatal("empty optional text must pass")
	}
	if _, ok := Required("", MaxFlagText); ok {
		t.Fatal("empty required text must fail")
	}
	if _, ok := Required(strings.Repeat("x", MaxFlagText+1), MaxFlagText); ok {
		t.Fatal("501 chars must fail")
	}
}

func TestDescriptionStripsMarkup(t *testing.T) {
	got, ok := Description(`  Mint <b>condition</b><script>alert(1)</script>, Tom's  `)
	if !ok {
		t.Fatal("description should pass")
	}
	if want := "Mint condition, Tom's"; got != want {
		t.Fatalf("Description = %q, want %q", got, want)
	}
	if _, ok := Description(strings.Repeat("x", MaxDescription+1)); ok {
		t.Fatal("overlong description must fail")
	}
}
