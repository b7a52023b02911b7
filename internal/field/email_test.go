package field

import (
	"strings"
	"testing"
)

func TestEmailExtract(t *testing.T) {
	e := Email{}
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"spoken symbols", "jane at gmail dot com", "jane@gmail.com", true},
		{"inside a sentence", "my email is jane dot smith at gmail dot com thanks", "jane.smith@gmail.com", true},
		{"already written", "you can use jane.smith@gmail.com", "jane.smith@gmail.com", true},
		{"underscore and digits", "jane99 underscore work at outlook dot com dot au", "jane99_work@outlook.com.au", true},
		{"uppercase folds", "Jane At GMAIL Dot Com", "jane@gmail.com", true},
		{"nothing there", "i don't have one sorry", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := e.Extract(tc.in)
			if got != tc.want || ok != tc.ok {
				t.Errorf("Extract(%q) = %q, %v, want %q, %v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestEmailValidate(t *testing.T) {
	e := Email{}
	if err := e.Validate("jane@gmail.com"); err != nil {
		t.Errorf("Validate(valid) = %v, want nil", err)
	}
	for _, raw := range []string{"jane@gmail", "jane gmail.com", "jane..x@gmail.com", ""} {
		if err := e.Validate(raw); err == nil {
			t.Errorf("Validate(%q) = nil, want error", raw)
		}
	}
}

func TestEmailConfirmSpeaksSymbols(t *testing.T) {
	e := Email{}
	got := e.Confirm("jane.smith@gmail.com")
	if !strings.Contains(got, "jane dot smith at gmail dot com") {
		t.Errorf("Confirm read-back = %q, want spoken symbols", got)
	}
}

func TestEmailExtractCorrection(t *testing.T) {
	e := Email{}
	got, ok := e.ExtractCorrection("no, it's jane at outlook dot com")
	if !ok || got != "jane@outlook.com" {
		t.Errorf("ExtractCorrection = %q, %v, want %q, true", got, ok, "jane@outlook.com")
	}
	if _, ok := e.ExtractCorrection("no that's wrong"); ok {
		t.Errorf("ExtractCorrection(bare denial) ok = true, want false")
	}
}
