// Package sse decodes OpenAI-style chat-completion Server-Sent Events into
// incremental content deltas.
package sse

import (
	"encoding/json"
	"errors"
	"strings"
)

// DoneSentinel terminates a chat-completion stream.
const DoneSentinel = "[DONE]"

// ErrMalformedFrame is reported when a data line can never become valid JSON.
var ErrMalformedFrame = errors.New("sse: malformed data frame")

// errIncomplete marks a payload that is a truncated prefix of a JSON value.
var errIncomplete = errors.New("sse: incomplete data frame")

// FrameKind classifies a parsed data payload.
type FrameKind int

const (
	FrameUnrecognized FrameKind = iota
	FrameDelta
	FrameDone
)

// Frame is the typed form of one `data:` payload.
type Frame struct {
	Kind    FrameKind
	Content string
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// ParseData parses the text after the `data:` prefix.
// Valid JSON of an unexpected shape, or a chunk without content, is
// FrameUnrecognized rather than an error.
func ParseData(payload string) (Frame, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Frame{Kind: FrameUnrecognized}, nil
	}
	if payload == DoneSentinel {
		return Frame{Kind: FrameDone}, nil
	}

	var chunk completionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			if syntaxErr.Error() == "unexpected end of JSON input" {
				return Frame{}, errIncomplete
			}
			return Frame{}, ErrMalformedFrame
		}
		// 合法 JSON 但结构不符
		return Frame{Kind: FrameUnrecognized}, nil
	}

	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil || *chunk.Choices[0].Delta.Content == "" {
		return Frame{Kind: FrameUnrecognized}, nil
	}
	return Frame{Kind: FrameDelta, Content: *chunk.Choices[0].Delta.Content}, nil
}
