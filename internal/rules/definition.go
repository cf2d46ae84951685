package rules

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Rule definition variants, discriminated by the "type" field of the JSON
// definition document.
const (
	TypeKeywordCheck      = "keyword_check"
	TypeProhibitedWords   = "prohibited_words"
	TypeSentimentResponse = "sentiment_response"
)

// definitionSchema structurally validates a rule definition before decoding.
// Definitions come from the configuration table, which is writable by an
// external admin surface; a bad document must be skippable, not a crash.
const definitionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type"],
	"oneOf": [
		{
			"properties": {
				"type": {"const": "keyword_check"},
				"keywords": {"type": "array", "items": {"type": "string"}, "minItems": 1},
				"speaker": {"type": "string"},
				"time_window": {
					"type": "object",
					"properties": {
						"start": {"type": "number"},
						"end": {"type": "number"}
					}
				}
			},
			"required": ["type", "keywords"]
		},
		{
			"properties": {
				"type": {"const": "prohibited_words"},
				"words": {"type": "array", "items": {"type": "string"}, "minItems": 1},
				"speaker": {"type": "string"}
			},
			"required": ["type", "words"]
		},
		{
			"properties": {
				"type": {"const": "sentiment_response"},
				"trigger_sentiment": {"type": "string"},
				"required_keywords": {"type": "array", "items": {"type": "string"}, "minItems": 1},
				"speaker": {"type": "string"}
			},
			"required": ["type", "trigger_sentiment", "required_keywords"]
		}
	]
}`

var compiledSchema = jsonschema.MustCompileString("rule_definition.schema.json", definitionSchema)

// Definition is the decoded, type-checked form of a rule definition.
type Definition interface {
	definitionType() string
}

// TimeWindow restricts a keyword check to a slice of the call. A negative
// bound is an offset from the end of the call; a nil or zero End means
// through end of call.
type TimeWindow struct {
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

// KeywordCheck requires at least one of Keywords to appear in the selected
// segments.
type KeywordCheck struct {
	Keywords []string    `json:"keywords"`
	Speaker  string      `json:"speaker"`
	Window   *TimeWindow `json:"time_window"`
}

func (KeywordCheck) definitionType() string { return TypeKeywordCheck }

// ProhibitedWords forbids any of Words from appearing in the selected
// segments.
type ProhibitedWords struct {
	Words   []string `json:"words"`
	Speaker string   `json:"speaker"`
}

func (ProhibitedWords) definitionType() string { return TypeProhibitedWords }

// SentimentResponse requires a qualifying response shortly after every
// occurrence of the trigger sentiment.
type SentimentResponse struct {
	TriggerSentiment string   `json:"trigger_sentiment"`
	RequiredKeywords []string `json:"required_keywords"`
	Speaker          string   `json:"speaker"`
}

func (SentimentResponse) definitionType() string { return TypeSentimentResponse }

// ParseDefinition validates a raw definition document against the schema and
// decodes it into its variant.
func ParseDefinition(raw json.RawMessage) (Definition, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("definition is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("definition failed schema validation: %w", err)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case TypeKeywordCheck:
		var d KeywordCheck
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeProhibitedWords:
		var d ProhibitedWords
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case TypeSentimentResponse:
		var d SentimentResponse
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", head.Type)
	}
}
