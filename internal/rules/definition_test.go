package rules

import (
	"encoding/json"
	"testing"
)

func TestParseDefinition_KeywordCheck(t *testing.T) {
	raw := json.RawMessage(`{"type":"keyword_check","keywords":["hello","hi"],"speaker":"agent","time_window":{"start":0,"end":30}}`)

	def, err := ParseDefinition(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := def.(KeywordCheck)
	if !ok {
		t.Fatalf("expected KeywordCheck, got %T", def)
	}
	if len(d.Keywords) != 2 || d.Speaker != "agent" {
		t.Errorf("unexpected decode: %+v", d)
	}
	if d.Window == nil || d.Window.Start == nil || *d.Window.Start != 0 || d.Window.End == nil || *d.Window.End != 30 {
		t.Errorf("unexpected window: %+v", d.Window)
	}
}

func TestParseDefinition_WindowBoundsOptional(t *testing.T) {
	raw := json.RawMessage(`{"type":"keyword_check","keywords":["bye"],"time_window":{"start":-20}}`)

	def, err := ParseDefinition(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := def.(KeywordCheck)
	if d.Window.End != nil {
		t.Errorf("absent end should decode to nil, got %v", *d.Window.End)
	}
	if *d.Window.Start != -20 {
		t.Errorf("negative start should survive decoding, got %v", *d.Window.Start)
	}
}

func TestParseDefinition_ProhibitedWords(t *testing.T) {
	raw := json.RawMessage(`{"type":"prohibited_words","words":["guarantee"]}`)

	def, err := ParseDefinition(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := def.(ProhibitedWords)
	if !ok {
		t.Fatalf("expected ProhibitedWords, got %T", def)
	}
	if d.Speaker != "" {
		t.Errorf("absent speaker should decode empty, got %q", d.Speaker)
	}
}

func TestParseDefinition_SentimentResponse(t *testing.T) {
	raw := json.RawMessage(`{"type":"sentiment_response","trigger_sentiment":"negative","required_keywords":["sorry"],"speaker":"agent"}`)

	def, err := ParseDefinition(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := def.(SentimentResponse); !ok {
		t.Fatalf("expected SentimentResponse, got %T", def)
	}
}

func TestParseDefinition_Rejections(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing type":      `{"keywords":["hi"]}`,
		"unknown type":      `{"type":"regex_match","pattern":".*"}`,
		"missing keywords":  `{"type":"keyword_check"}`,
		"empty keywords":    `{"type":"keyword_check","keywords":[]}`,
		"missing words":     `{"type":"prohibited_words"}`,
		"missing trigger":   `{"type":"sentiment_response","required_keywords":["ok"]}`,
		"non-string window": `{"type":"keyword_check","keywords":["hi"],"time_window":{"start":"soon"}}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseDefinition(json.RawMessage(raw)); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}
