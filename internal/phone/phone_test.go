package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"55 1234 5678", "+525512345678"},
		{"+52 55 1234 5678", "+525512345678"},
		{"(555) 123-4567", "+525551234567"},
		{"15512345678", "+525512345678"},
		{"525512345678", "+525512345678"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsValid(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
	}{
		{"5512345678", true},
		{"+525512345678", true},
		{"55 1234 5678", true},
		{"123", false},
		{"", false},
		{"+5255123456789", false}, // 11 subscriber digits
	}
	for _, tc := range cases {
		if got := IsValid(tc.in); got != tc.valid {
			t.Fatalf("IsValid(%q) = %v, want %v", tc.in, got, tc.valid)
		}
	}
}
