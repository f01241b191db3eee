package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Content is the tagged-union payload of a Memory. Its concrete shape is
// determined by the owning Memory's Type; implementers are a sealed set of
// variants below, never an untyped map.
type Content interface {
	// contentType returns the MemoryType this variant implements. Unexported
	// so Content cannot be implemented outside this package.
	contentType() MemoryType

	// Project derives the canonical text string used for embedding and for
	// the lexical index (see the Semantic component's textual projection).
	Project() string
}

// FactContent is the Content shape for MemoryType TypeFact.
type FactContent struct {
	Statement  string   `json:"statement"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (FactContent) contentType() MemoryType { return TypeFact }
func (c FactContent) Project() string       { return c.Statement }

// EntityContent is the Content shape for MemoryType TypeEntity.
type EntityContent struct {
	Name       string                 `json:"name"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

func (EntityContent) contentType() MemoryType { return TypeEntity }
func (c EntityContent) Project() string {
	var b strings.Builder
	b.WriteString(c.Name)
	for _, k := range sortedKeys(c.Attributes) {
		fmt.Fprintf(&b, " %s=%v", k, c.Attributes[k])
	}
	return b.String()
}

// ConversationMessage is one turn of a ConversationContent.
type ConversationMessage struct {
	Role string `json:"role"` // "user" | "assistant" | "system"
	Text string `json:"text"`
	TS   string `json:"ts,omitempty"`
}

// ConversationContent is the Content shape for MemoryType TypeConversation.
type ConversationContent struct {
	Messages []ConversationMessage `json:"messages"`
}

func (ConversationContent) contentType() MemoryType { return TypeConversation }
func (c ConversationContent) Project() string {
	var b strings.Builder
	for i, m := range c.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Text)
	}
	return b.String()
}

// ReflectionContent is the Content shape for MemoryType TypeReflection.
type ReflectionContent struct {
	Body string   `json:"body"`
	Refs []string `json:"refs,omitempty"`
}

func (ReflectionContent) contentType() MemoryType { return TypeReflection }
func (c ReflectionContent) Project() string       { return c.Body }

// CodeContent is the Content shape for MemoryType TypeCode.
type CodeContent struct {
	Language    string `json:"language"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

func (CodeContent) contentType() MemoryType { return TypeCode }
func (c CodeContent) Project() string {
	return fmt.Sprintf("[%s]\n%s", c.Language, c.Code)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion-order doesn't matter for Go maps; a stable projection string
	// requires a deterministic order, so sort lexically.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// DecodeContent unmarshals a raw JSON object into the Content variant
// matching t, rejecting unknown fields. This is the runtime counterpart of
// each type's JSON Schema described in the external tool interface.
func DecodeContent(t MemoryType, raw json.RawMessage) (Content, error) {
	dec := func(v interface{}) error {
		d := json.NewDecoder(bytes.NewReader(raw))
		d.DisallowUnknownFields()
		return d.Decode(v)
	}

	switch t {
	case TypeFact:
		var c FactContent
		if err := dec(&c); err != nil {
			return nil, fmt.Errorf("%w: fact content: %v", ErrInvalidContent, err)
		}
		if strings.TrimSpace(c.Statement) == "" {
			return nil, fmt.Errorf("%w: fact.statement is required", ErrInvalidContent)
		}
		if c.Confidence != nil && (*c.Confidence < 0 || *c.Confidence > 1) {
			return nil, fmt.Errorf("%w: fact.confidence must be in [0,1]", ErrInvalidContent)
		}
		return c, nil

	case TypeEntity:
		var c EntityContent
		if err := dec(&c); err != nil {
			return nil, fmt.Errorf("%w: entity content: %v", ErrInvalidContent, err)
		}
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: entity.name is required", ErrInvalidContent)
		}
		return c, nil

	case TypeConversation:
		var c ConversationContent
		if err := dec(&c); err != nil {
			return nil, fmt.Errorf("%w: conversation content: %v", ErrInvalidContent, err)
		}
		if len(c.Messages) == 0 {
			return nil, fmt.Errorf("%w: conversation.messages must be non-empty", ErrInvalidContent)
		}
		for _, m := range c.Messages {
			if m.Role != "user" && m.Role != "assistant" && m.Role != "system" {
				return nil, fmt.Errorf("%w: conversation message role %q is not one of user|assistant|system", ErrInvalidContent, m.Role)
			}
		}
		return c, nil

	case TypeReflection:
		var c ReflectionContent
		if err := dec(&c); err != nil {
			return nil, fmt.Errorf("%w: reflection content: %v", ErrInvalidContent, err)
		}
		if strings.TrimSpace(c.Body) == "" {
			return nil, fmt.Errorf("%w: reflection.body is required", ErrInvalidContent)
		}
		return c, nil

	case TypeCode:
		var c CodeContent
		if err := dec(&c); err != nil {
			return nil, fmt.Errorf("%w: code content: %v", ErrInvalidContent, err)
		}
		if strings.TrimSpace(c.Language) == "" || strings.TrimSpace(c.Code) == "" {
			return nil, fmt.Errorf("%w: code.language and code.code are required", ErrInvalidContent)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("%w: unknown memory type %q", ErrInvalidContent, t)
	}
}
