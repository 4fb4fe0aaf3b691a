package jsonutil

import (
	"errors"
	"testing"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"unterminated", "```json\n{\"a\":1}", `{"a":1}`},
		{"single line", "```", "```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"object in prose", `Here you go: {"caption":"hi"} hope that helps!`, `{"caption":"hi"}`},
		{"array first", `[{"a":1}] and {"b":2}`, `[{"a":1}]`},
		{"brace in string", `{"caption":"smile :} today"}`, `{"caption":"smile :} today"}`},
		{"escaped quote", `{"q":"say \"}\" loud"} trailing }`, `{"q":"say \"}\" loud"}`},
		{"nested", `x {"a":{"b":[1,{"c":2}]}} y`, `{"a":{"b":[1,{"c":2}]}}`},
		{"skips stray bracket", `see [note} then {"ok":true}`, `{"ok":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	for _, in := range []string{"", "no json here", `{"open": true`} {
		if _, err := ExtractJSON(in); !errors.Is(err, ErrNoJSON) {
			t.Errorf("ExtractJSON(%q) err = %v, want ErrNoJSON", in, err)
		}
	}
}

func TestParseJSON(t *testing.T) {
	type caption struct {
		Caption  string   `json:"caption"`
		Hashtags []string `json:"hashtags"`
	}
	raw := "```json\n{\"caption\":\"Fresh drop\",\"hashtags\":[\"#new\",\"#style\"]}\n```"
	got, err := ParseJSON[caption](raw)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if got.Caption != "Fresh drop" || len(got.Hashtags) != 2 {
		t.Errorf("got %+v", got)
	}

	if _, err := ParseJSON[caption]("nothing"); !errors.Is(err, ErrNoJSON) {
		t.Errorf("err = %v, want ErrNoJSON", err)
	}
	if _, err := ParseJSON[caption](`{"caption": 5}`); err == nil {
		t.Error("expected type error")
	}
}
