package state

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes the retained items as a plain JSON array.
func (b Bounded[T]) MarshalJSON() ([]byte, error) {
	if b.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(b.items)
}

// UnmarshalJSON restores the buffer from a JSON array, trimming to the
// receiver's existing capacity. Decode into a buffer constructed with
// NewBounded so the capacity is in place before decoding.
func (b *Bounded[T]) UnmarshalJSON(data []byte) error {
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	b.Replace(items)
	return nil
}

// ToMap converts the State to a generic key/value representation for
// persistence or cross-process transfer. The result round-trips through
// FromMap without loss.
func (s *State) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode state map: %w", err)
	}
	return m, nil
}

// FromMap reconstructs a State from a generic mapping. Unknown keys are
// ignored; missing keys take the documented defaults from New. Buffers are
// trimmed to the given caps on the way in.
func FromMap(m map[string]any, caps Caps) (*State, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode state map: %w", err)
	}
	return Decode(raw, caps)
}

// Decode reconstructs a State from its JSON encoding.
func Decode(raw []byte, caps Caps) (*State, error) {
	s := New(caps)
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if s.Mode != ModeTask {
		s.Mode = ModeChat
	}
	if s.ReturnAfterWeb == "" {
		s.ReturnAfterWeb = DefaultReturnAfterWeb
	}
	return s, nil
}

// Encode serializes the State to JSON for storage.
func (s *State) Encode() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return raw, nil
}
