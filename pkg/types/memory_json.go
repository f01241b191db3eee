package types

import "encoding/json"

// memoryWire is the on-the-wire JSON shape of a Memory: identical to Memory
// except Content is carried as a raw JSON object decoded against Type.
type memoryWire struct {
	ID             string          `json:"id"`
	Type           MemoryType      `json:"type"`
	Content        json.RawMessage `json:"content"`
	Importance     float64         `json:"importance"`
	CreatedAt      jsonTime        `json:"created_at"`
	UpdatedAt      jsonTime        `json:"updated_at"`
	LastAccessedAt *jsonTime       `json:"last_accessed_at,omitempty"`
	AccessCount    int             `json:"access_count"`
	Tier           Tier            `json:"tier"`
	EmbeddingRef   *string         `json:"embedding_ref,omitempty"`
	EmbeddingModel string          `json:"embedding_model,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Source         string          `json:"source,omitempty"`
}

// MarshalJSON implements json.Marshaler, flattening the Content variant into
// a plain JSON object the way the external tool interface documents it.
func (m Memory) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	var err error
	if m.Content != nil {
		raw, err = json.Marshal(m.Content)
		if err != nil {
			return nil, err
		}
	}
	w := memoryWire{
		ID:             m.ID,
		Type:           m.Type,
		Content:        raw,
		Importance:     m.Importance,
		CreatedAt:      jsonTime(m.CreatedAt),
		UpdatedAt:      jsonTime(m.UpdatedAt),
		AccessCount:    m.AccessCount,
		Tier:           m.Tier,
		EmbeddingRef:   m.EmbeddingRef,
		EmbeddingModel: m.EmbeddingModel,
		Tags:           m.Tags,
		Source:         m.Source,
	}
	if m.LastAccessedAt != nil {
		t := jsonTime(*m.LastAccessedAt)
		w.LastAccessedAt = &t
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler, dispatching Content decoding on
// Type via DecodeContent.
func (m *Memory) UnmarshalJSON(data []byte) error {
	var w memoryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.ID = w.ID
	m.Type = w.Type
	m.Importance = w.Importance
	m.CreatedAt = w.CreatedAt.Time()
	m.UpdatedAt = w.UpdatedAt.Time()
	m.AccessCount = w.AccessCount
	m.Tier = w.Tier
	m.EmbeddingRef = w.EmbeddingRef
	m.EmbeddingModel = w.EmbeddingModel
	m.Tags = w.Tags
	m.Source = w.Source
	if w.LastAccessedAt != nil {
		t := w.LastAccessedAt.Time()
		m.LastAccessedAt = &t
	}
	if len(w.Content) > 0 {
		content, err := DecodeContent(w.Type, w.Content)
		if err != nil {
			return err
		}
		m.Content = content
	}
	return nil
}
