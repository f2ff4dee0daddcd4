package codec

import "encoding/json"

// rawWire mirrors Wire but defers decoding of Value until the Kind is
// known, so a Wire round-tripped through JSON (as happens across the
// subprocess transport) rebuilds the same typed Value shapes that
// Encode produced in-process, rather than generic map[string]any /
// []any soup.
type rawWire struct {
	Kind  string          `json:"k"`
	Value json.RawMessage `json:"v,omitempty"`
}

// MarshalJSON implements json.Marshaler explicitly so Wire's nested
// Value (which may itself contain []Wire, map[string]Wire, etc) is
// marshaled through the normal struct tags without special-casing.
func (w Wire) MarshalJSON() ([]byte, error) {
	type alias Wire
	return json.Marshal(alias(w))
}

// UnmarshalJSON implements json.Unmarshaler, reconstructing Value into
// the concrete shape Decode expects for the given Kind.
func (w *Wire) UnmarshalJSON(data []byte) error {
	var raw rawWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.Kind = raw.Kind
	if len(raw.Value) == 0 {
		return nil
	}

	switch raw.Kind {
	case KindArray, KindSet:
		var v []Wire
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return err
		}
		w.Value = v
	case KindObject:
		var v map[string]Wire
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return err
		}
		w.Value = v
	case KindMap:
		var v [][2]Wire
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return err
		}
		w.Value = v
	case KindError:
		var v map[string]any
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return err
		}
		w.Value = v
	default:
		var v any
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return err
		}
		w.Value = v
	}
	return nil
}
