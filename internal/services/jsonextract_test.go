package services

import (
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain object", `{"a":1}`, `{"a":1}`, false},
		{"fenced object", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose around object", "Aqui está o resultado:\n{\"title\":\"TRF\"}\nBoa sorte!", `{"title":"TRF"}`, false},
		{"prose around array", `Tópicos: ["A", "B"] fim`, `["A", "B"]`, false},
		{"array of objects", `Resposta: [{"id":"1"},{"id":"2"}]`, `[{"id":"1"},{"id":"2"}]`, false},
		{"object containing array", `ok {"items":[1,2]} done`, `{"items":[1,2]}`, false},
		{"empty", "   ", "", true},
		{"no json", "desculpe, não encontrei", "", true},
		{"broken json", `{"title": "TRF",`, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractJSON(tc.raw)
			if tc.wantErr {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("expected ParseError, got %v", err)
				}
				if pe.Raw != tc.raw {
					t.Errorf("expected raw text to be kept on the error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeJSON_TypeMismatch(t *testing.T) {
	var out []string
	err := DecodeJSON("enhance_topics", `{"a":1}`, &out)

	var pe *ParseError
	if !errors.As(err, &pe) || pe.Op != "enhance_topics" {
		t.Fatalf("expected ParseError for enhance_topics, got %v", err)
	}
}

func TestIsContentError(t *testing.T) {
	if !IsContentError(&GenerationError{Op: "x", Reason: "y"}) {
		t.Error("GenerationError should be a content error")
	}
	if !IsContentError(&ServiceUnavailableError{Op: "x", Err: errors.New("down")}) {
		t.Error("ServiceUnavailableError should be a content error")
	}
	if IsContentError(errors.New("other")) {
		t.Error("plain errors are not content errors")
	}
}

func TestDecodeList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"bare array", `["A","B"]`, []string{"A", "B"}},
		{"wrapped array", `{"topics":["A","B"]}`, []string{"A", "B"}},
		{"fenced wrapped array", "```json\n{\"items\": [\"C\"]}\n```", []string{"C"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got []string
			if err := DecodeList("test", tc.raw, &got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}
