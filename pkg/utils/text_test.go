package utils

import "testing"

func TestNormalizeSpace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Hello  World  ", "Hello World"},
		{"one\ttwo\nthree", "one two three"},
		{"", ""},
		{"single", "single"},
	}

	for _, tt := range tests {
		if got := NormalizeSpace(tt.in); got != tt.want {
			t.Errorf("NormalizeSpace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFoldText(t *testing.T) {
	if got := FoldText("  Hello  WORLD "); got != "hello world" {
		t.Errorf("FoldText() = %q, want %q", got, "hello world")
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The quick, brown fox! A 42nd try.")
	want := []string{"the", "quick", "brown", "fox", "42nd", "try"}

	if len(tokens) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("Tokenize()[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestChecksum64Stable(t *testing.T) {
	a := Checksum64("some snippet")
	b := Checksum64("some snippet")
	c := Checksum64("other snippet")

	if a != b {
		t.Error("Checksum64 not stable for identical input")
	}
	if a == c {
		t.Error("Checksum64 collision between different inputs")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("hello", 10); got != "hello" {
		t.Errorf("TruncateRunes short = %q", got)
	}
	if got := TruncateRunes("hello world", 5); got != "hello..." {
		t.Errorf("TruncateRunes long = %q", got)
	}
	if got := TruncateRunes("hello", 0); got != "" {
		t.Errorf("TruncateRunes zero = %q", got)
	}
}

func TestExtractJSONBlock(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "fenced json",
			in:   "Here is the plan:\n```json\n{\"tasks\": []}\n```",
			want: `{"tasks": []}`,
		},
		{
			name: "nested objects",
			in:   `prefix {"a": {"b": 1}, "c": "}"} suffix`,
			want: `{"a": {"b": 1}, "c": "}"}`,
		},
		{
			name: "escaped quote in string",
			in:   `{"text": "she said \"hi\" twice"}`,
			want: `{"text": "she said \"hi\" twice"}`,
		},
		{name: "no object", in: "plain prose", wantErr: true},
		{name: "unterminated", in: `{"a": 1`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONBlock(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractJSONBlock() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ExtractJSONBlock() = %q, want %q", got, tt.want)
			}
		})
	}
}
