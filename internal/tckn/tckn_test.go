package tckn

import (
	"reflect"
	"testing"
)

func TestValidateKnownValues(t *testing.T) {
	valid := []string{"10000000146", "33058600656"}
	for _, s := range valid {
		if !Validate(s) {
			t.Errorf("Validate(%q) = false, want true", s)
		}
	}

	invalid := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"too short", "1000000014"},
		{"too long", "100000001460"},
		{"leading zero", "01000000146"},
		{"letter inside", "1000000014a"},
		{"wrong d10", "10000000156"},
		{"wrong d11", "10000000147"},
		{"all zeros", "00000000000"},
	}
	for _, tc := range invalid {
		if Validate(tc.in) {
			t.Errorf("%s: Validate(%q) = true, want false", tc.name, tc.in)
		}
	}
}

func TestValidateTrimsWhitespace(t *testing.T) {
	if !Validate("  10000000146\n") {
		t.Error("surrounding whitespace should not fail validation")
	}
	if Validate("100 00000146") {
		t.Error("interior whitespace is not a digit")
	}
}

func TestCompleteConstructsValidIDs(t *testing.T) {
	prefixes := []string{
		"100000001", "330586006", "123456789", "987654321",
		"111111111", "902345678", "555000111", "649218307",
	}
	for _, p := range prefixes {
		id, ok := Complete(p)
		if !ok {
			t.Fatalf("Complete(%q) rejected a 9-digit prefix", p)
		}
		if len(id) != Length || id[:9] != p {
			t.Fatalf("Complete(%q) = %q, want prefix preserved and length %d", p, id, Length)
		}
		if !Validate(id) {
			t.Errorf("Complete(%q) = %q does not validate", p, id)
		}
	}

	if _, ok := Complete("012345678"); ok {
		t.Error("prefix with leading zero must be rejected")
	}
	if _, ok := Complete("12345678"); ok {
		t.Error("8-digit prefix must be rejected")
	}
}

func TestValidateRejectsSingleDigitMutations(t *testing.T) {
	const id = "10000000146"
	for i := 0; i < len(id); i++ {
		mutated := []byte(id)
		mutated[i] = '0' + byte((int(id[i]-'0')+1)%10)
		if Validate(string(mutated)) {
			t.Errorf("mutation at position %d (%s) should not validate", i, mutated)
		}
	}
}

func TestExtractCandidates(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "contiguous run",
			text: "TC KIMLIK NO\n10000000146",
			want: []string{"10000000146"},
		},
		{
			name: "grouped with spaces",
			text: "TC: 330 586 00656",
			want: []string{"33058600656"},
		},
		{
			name: "grouped with punctuation",
			text: "330.586-00656",
			want: []string{"33058600656"},
		},
		{
			name: "letters break grouping",
			text: "330 586 X 00656",
			want: nil,
		},
		{
			name: "window inside longer run",
			text: "910000000146",
			want: []string{"10000000146"},
		},
		{
			name: "two ids keep order",
			text: "first 10000000146 then 33058600656",
			want: []string{"10000000146", "33058600656"},
		},
		{
			name: "duplicates collapse",
			text: "10000000146 and again 10000000146",
			want: []string{"10000000146"},
		},
		{
			name: "invalid checksum ignored",
			text: "10000000147",
			want: nil,
		},
		{
			name: "no digits",
			text: "SURNAME YILMAZ",
			want: nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractCandidates(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ExtractCandidates(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
