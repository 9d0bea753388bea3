package domain

import "encoding/json"

// TranscriptCursor is the persisted incremental-read position (§3.5).
type TranscriptCursor struct {
	File   string
	Offset int64
}

// ContentBlock is one element of an assistant/tool message's array content.
type ContentBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

// RawContent holds a transcript message's content, which is either a bare
// string or an array of content blocks (§4.6). UnmarshalJSON distinguishes
// the two wire shapes.
type RawContent struct {
	Str    string
	Blocks []ContentBlock
	IsStr  bool
}

// UnmarshalJSON accepts either a bare JSON string or an array of content blocks.
func (rc *RawContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		rc.Str = s
		rc.IsStr = true
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	rc.Blocks = blocks
	rc.IsStr = false
	return nil
}

// transcriptWireMessage mirrors the {content: ...} wrapper under "message".
type transcriptWireMessage struct {
	Content RawContent `json:"content"`
}

// transcriptWireRecord mirrors one JSONL line: {type, message:{content}} (§4.6).
type transcriptWireRecord struct {
	Type    string                 `json:"type"`
	Message transcriptWireMessage `json:"message"`
}

// TranscriptMessage is one parsed JSONL line from a conversation log (§4.6).
type TranscriptMessage struct {
	Type    string // "user" | "assistant"
	Content RawContent
}

// ParseTranscriptLine decodes one JSONL line into a TranscriptMessage.
func ParseTranscriptLine(line []byte) (TranscriptMessage, error) {
	var rec transcriptWireRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return TranscriptMessage{}, err
	}
	return TranscriptMessage{Type: rec.Type, Content: rec.Message.Content}, nil
}
