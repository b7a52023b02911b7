package field

import (
	"strings"
	"testing"
)

func TestPhoneExtract(t *testing.T) {
	p := Phone{}
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"spoken mobile", "oh four one two three four five six seven eight", "0412345678", true},
		{"double expands", "oh four double two three four five six seven eight", "0422345678", true},
		{"grouped digits", "it's 0412 345 678", "0412345678", true},
		{"landline", "02 9123 4567", "0291234567", true},
		{"business number", "call us on 1300 123 456", "1300123456", true},
		{"international", "+61 412 345 678", "+61412345678", true},
		{"wrong length still captured", "0412 345", "0412345", true},
		{"no number", "i'll have to find it", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := p.Extract(tc.in)
			if got != tc.want || ok != tc.ok {
				t.Errorf("Extract(%q) = %q, %v, want %q, %v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestPhoneValidate(t *testing.T) {
	p := Phone{}
	for _, raw := range []string{"0412345678", "0412 345 678", "+61412345678", "0291234567", "1800123456"} {
		if err := p.Validate(raw); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", raw, err)
		}
	}
	for _, raw := range []string{"0412345", "0512345678", "12345678901", "1234567890", ""} {
		if err := p.Validate(raw); err == nil {
			t.Errorf("Validate(%q) = nil, want error", raw)
		}
	}
}

func TestPhoneNormalize(t *testing.T) {
	p := Phone{}
	cases := []struct{ in, want string }{
		{"0412345678", "+61412345678"},
		{"0412 345 678", "+61412345678"},
		{"+61412345678", "+61412345678"},
		{"0291234567", "+61291234567"},
		{"1300123456", "1300123456"},
	}
	for _, tc := range cases {
		if got := p.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPhoneConfirmGroupsDigits(t *testing.T) {
	p := Phone{}
	got := p.Confirm("0412345678")
	if !strings.Contains(got, "0412 345 678") {
		t.Errorf("Confirm = %q, want grouped mobile read-back", got)
	}
	got = p.Confirm("0291234567")
	if !strings.Contains(got, "02 9123 4567") {
		t.Errorf("Confirm = %q, want grouped landline read-back", got)
	}
}
