package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UsageCount is a single name/count pair
type UsageCount struct {
	Name  string
	Count int
}

// UsageCounts is an insertion-ordered counter kept sorted descending by count.
// Equal counts keep their prior relative order. The zero value is ready to use.
type UsageCounts struct {
	entries []UsageCount
	index   map[string]int
}

// Increment adds one to name (starting at 1) and returns the new count.
// The incremented entry moves ahead of every entry with a strictly lower count,
// which is what a stable descending sort would produce after the update.
func (u *UsageCounts) Increment(name string) int {
	if u.index == nil {
		u.index = make(map[string]int)
	}

	i, ok := u.index[name]
	if !ok {
		// Every existing count is >= 1, so a new entry stays last.
		u.entries = append(u.entries, UsageCount{Name: name, Count: 1})
		u.index[name] = len(u.entries) - 1
		return 1
	}

	u.entries[i].Count++
	for i > 0 && u.entries[i-1].Count < u.entries[i].Count {
		u.entries[i-1], u.entries[i] = u.entries[i], u.entries[i-1]
		u.index[u.entries[i].Name] = i
		u.index[u.entries[i-1].Name] = i - 1
		i--
	}
	return u.entries[i].Count
}

// Get returns the count for name (0 when absent)
func (u UsageCounts) Get(name string) int {
	if i, ok := u.index[name]; ok {
		return u.entries[i].Count
	}
	return 0
}

// Len returns the number of distinct names
func (u UsageCounts) Len() int {
	return len(u.entries)
}

// Entries returns a copy of the ordered entries
func (u UsageCounts) Entries() []UsageCount {
	out := make([]UsageCount, len(u.entries))
	copy(out, u.entries)
	return out
}

// Names returns the names in order
func (u UsageCounts) Names() []string {
	names := make([]string, len(u.entries))
	for i, e := range u.entries {
		names[i] = e.Name
	}
	return names
}

// Clone returns an independent copy
func (u UsageCounts) Clone() UsageCounts {
	clone := UsageCounts{
		entries: u.Entries(),
		index:   make(map[string]int, len(u.entries)),
	}
	for i, e := range clone.entries {
		clone.index[e.Name] = i
	}
	return clone
}

// MarshalJSON renders the counts as a JSON object in order
func (u UsageCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range u.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		fmt.Fprintf(&buf, "%d", e.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping the key order of the document
func (u *UsageCounts) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("usage counts: expected object, got %v", tok)
	}

	u.entries = nil
	u.index = make(map[string]int)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("usage counts: expected string key, got %v", keyTok)
		}
		var count int
		if err := dec.Decode(&count); err != nil {
			return fmt.Errorf("usage counts: value for %q: %w", key, err)
		}
		if _, dup := u.index[key]; dup {
			return fmt.Errorf("usage counts: duplicate key %q", key)
		}
		u.entries = append(u.entries, UsageCount{Name: key, Count: count})
		u.index[key] = len(u.entries) - 1
	}
	_, err = dec.Token()
	return err
}
