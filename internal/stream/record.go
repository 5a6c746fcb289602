// Package stream consumes the agent's newline-delimited JSON event stream,
// folds it into a SessionState and prints live progress lines.
package stream

import (
	"bytes"
	"encoding/json"
)

// Record types emitted by the agent.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"
)

// Content item types inside an assistant message.
const (
	ContentToolUse = "tool_use"
	ContentText    = "text"
)

// Record is one line of the stream. Fields that a record type does not
// carry are left at their zero value.
type Record struct {
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Message   *Message `json:"message,omitempty"`

	// Populated on result records only.
	Usage        *Usage     `json:"usage,omitempty"`
	TotalCostUSD float64    `json:"total_cost_usd,omitempty"`
	ModelUsage   ModelUsage `json:"modelUsage,omitempty"`
	IsError      bool       `json:"is_error,omitempty"`
	NumTurns     int        `json:"num_turns,omitempty"`
}

// Message is the body of an assistant turn.
type Message struct {
	Model   string        `json:"model,omitempty"`
	Content []ContentItem `json:"content,omitempty"`
}

// ContentItem is a tool invocation or a text fragment.
type ContentItem struct {
	Type  string          `json:"type"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	Text  string          `json:"text,omitempty"`
}

// Usage holds the token counters of a result record.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

// ModelUsageEntry is one model's entry in a result record's modelUsage map.
type ModelUsageEntry struct {
	Model         string
	ContextWindow int64
}

// ModelUsage keeps the modelUsage object in document order, so "the first
// model" is well defined.
type ModelUsage []ModelUsageEntry

// UnmarshalJSON decodes the object key by key. Shapes it does not
// understand decode to nothing rather than failing the whole record.
func (m *ModelUsage) UnmarshalJSON(data []byte) error {
	*m = nil
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil
		}
		var entry struct {
			ContextWindow int64 `json:"contextWindow"`
		}
		_ = json.Unmarshal(raw, &entry)
		*m = append(*m, ModelUsageEntry{Model: key, ContextWindow: entry.ContextWindow})
	}
	return nil
}

// MarshalJSON writes the entries back as an object in the same order.
func (m ModelUsage) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Model)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteString(`:{"contextWindow":`)
		val, err := json.Marshal(e.ContextWindow)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses one line. ok is false for blank lines, anything that is
// not a JSON object, and objects without a type or session id; such lines
// carry no event. Each field is decoded on its own, so a field of an
// unexpected type is dropped without losing the rest of the record.
func Decode(line []byte) (rec Record, ok bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Record{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Record{}, false
	}
	decodeField(fields, "type", &rec.Type)
	decodeField(fields, "session_id", &rec.SessionID)
	if rec.Type == "" && rec.SessionID == "" {
		return Record{}, false
	}
	decodeField(fields, "subtype", &rec.Subtype)
	decodeField(fields, "is_error", &rec.IsError)
	decodeField(fields, "total_cost_usd", &rec.TotalCostUSD)
	decodeField(fields, "modelUsage", &rec.ModelUsage)
	rec.NumTurns = int(decodeInt(fields["num_turns"]))
	if raw, found := fields["message"]; found {
		rec.Message = decodeMessage(raw)
	}
	if raw, found := fields["usage"]; found {
		rec.Usage = decodeUsage(raw)
	}
	return rec, true
}

// decodeField unmarshals fields[key] into dst, leaving dst untouched when
// the key is absent or holds another type.
func decodeField(fields map[string]json.RawMessage, key string, dst any) {
	raw, found := fields[key]
	if !found {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

// decodeInt reads a JSON number as an integer, truncating fractions.
// Anything else is 0.
func decodeInt(raw json.RawMessage) int64 {
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return int64(n)
}

func decodeMessage(raw json.RawMessage) *Message {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	msg := &Message{}
	decodeField(fields, "model", &msg.Model)
	var items []json.RawMessage
	decodeField(fields, "content", &items)
	for _, itemRaw := range items {
		var item map[string]json.RawMessage
		if err := json.Unmarshal(itemRaw, &item); err != nil {
			continue
		}
		var ci ContentItem
		decodeField(item, "type", &ci.Type)
		decodeField(item, "name", &ci.Name)
		decodeField(item, "text", &ci.Text)
		ci.Input = item["input"]
		msg.Content = append(msg.Content, ci)
	}
	return msg
}

func decodeUsage(raw json.RawMessage) *Usage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return &Usage{
		InputTokens:              decodeInt(fields["input_tokens"]),
		OutputTokens:             decodeInt(fields["output_tokens"]),
		CacheReadInputTokens:     decodeInt(fields["cache_read_input_tokens"]),
		CacheCreationInputTokens: decodeInt(fields["cache_creation_input_tokens"]),
	}
}

// inputString returns the string value of key in a tool input object.
func inputString(input json.RawMessage, key string) string {
	if len(input) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}
