package frontmatter

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	timestampLayout = "2006-01-02T15:04:05Z"
	dateLayout      = "2006-01-02"
)

// Metadata is an ordered YAML mapping. Keys keep the position they had when
// first set; new keys are appended. Values are kept as yaml.Nodes so fields the
// engine never interprets are re-emitted exactly as they were read.
type Metadata struct {
	entries []entry
	index   map[string]int
}

type entry struct {
	key   *yaml.Node
	value *yaml.Node
}

// NewMetadata returns an empty mapping.
func NewMetadata() *Metadata {
	return &Metadata{index: make(map[string]int)}
}

func metadataFromMapping(node *yaml.Node) *Metadata {
	m := NewMetadata()
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if pos, ok := m.index[k.Value]; ok {
			m.entries[pos].value = v
			continue
		}
		m.index[k.Value] = len(m.entries)
		m.entries = append(m.entries, entry{key: k, value: v})
	}
	return m
}

// Len returns the number of keys.
func (m *Metadata) Len() int {
	return len(m.entries)
}

// Keys returns the keys in emission order.
func (m *Metadata) Keys() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.key.Value
	}
	return out
}

// Has reports whether key is present (even with a null value).
func (m *Metadata) Has(key string) bool {
	_, ok := m.index[key]
	return ok
}

// Node returns the raw node stored under key, or nil.
func (m *Metadata) Node(key string) *yaml.Node {
	pos, ok := m.index[key]
	if !ok {
		return nil
	}
	return m.entries[pos].value
}

// Value decodes the value under key into its plain Go form (string, int,
// float64, bool, []any, map[string]any). Timestamps decode as strings.
func (m *Metadata) Value(key string) (any, bool) {
	n := m.Node(key)
	if n == nil {
		return nil, false
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// String returns the scalar value under key. Nulls and non-scalars report false.
func (m *Metadata) String(key string) (string, bool) {
	n := m.Node(key)
	if n == nil || n.Kind != yaml.ScalarNode || n.ShortTag() == "!!null" {
		return "", false
	}
	return n.Value, true
}

// Int returns the integer value under key.
func (m *Metadata) Int(key string) (int, bool) {
	n := m.Node(key)
	if n == nil || n.Kind != yaml.ScalarNode {
		return 0, false
	}
	var v int
	if err := n.Decode(&v); err != nil {
		return 0, false
	}
	return v, true
}

// Strings returns the scalar items of a sequence under key. A lone scalar is
// treated as a one-element list and null as an empty one.
func (m *Metadata) Strings(key string) []string {
	n := m.Node(key)
	if n == nil {
		return nil
	}
	switch n.Kind {
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind == yaml.ScalarNode {
				out = append(out, item.Value)
			}
		}
		return out
	case yaml.ScalarNode:
		if n.ShortTag() == "!!null" {
			return nil
		}
		return []string{n.Value}
	default:
		return nil
	}
}

// Set encodes v and stores it under key.
func (m *Metadata) Set(key string, v any) error {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return fmt.Errorf("frontmatter: encode %s: %w", key, err)
	}
	m.SetNode(key, &n)
	return nil
}

// SetNode stores node under key, keeping the key's existing position.
func (m *Metadata) SetNode(key string, node *yaml.Node) {
	if pos, ok := m.index[key]; ok {
		m.entries[pos].value = node
		return
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, entry{
		key:   &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value: node,
	})
}

// SetTimestamp stores t as a UTC second-precision timestamp with a Z suffix.
func (m *Metadata) SetTimestamp(key string, t time.Time) {
	m.SetNode(key, timestampNode(FormatTimestamp(t)))
}

// SetDate stores a YYYY-MM-DD date scalar. Values that are not dates are
// stored as plain strings.
func (m *Metadata) SetDate(key, date string) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		m.SetNode(key, stringNode(date))
		return
	}
	m.SetNode(key, timestampNode(date))
}

// PrependString inserts value at the front of the list under key, converting
// a missing, null, or scalar value into a list first.
func (m *Metadata) PrependString(key, value string) {
	seq := m.sequence(key)
	seq.Content = append([]*yaml.Node{stringNode(value)}, seq.Content...)
}

// AppendString adds value at the end of the list under key.
func (m *Metadata) AppendString(key, value string) {
	seq := m.sequence(key)
	seq.Content = append(seq.Content, stringNode(value))
}

func (m *Metadata) sequence(key string) *yaml.Node {
	n := m.Node(key)
	if n != nil && n.Kind == yaml.SequenceNode {
		return n
	}
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	if n != nil && n.Kind == yaml.ScalarNode && n.ShortTag() != "!!null" {
		seq.Content = append(seq.Content, n)
	}
	m.SetNode(key, seq)
	return seq
}

// Map decodes the whole mapping. Key order is lost.
func (m *Metadata) Map() (map[string]any, error) {
	out := make(map[string]any, len(m.entries))
	for _, e := range m.entries {
		var v any
		if err := e.value.Decode(&v); err != nil {
			return nil, fmt.Errorf("frontmatter: decode %s: %w", e.key.Value, err)
		}
		out[e.key.Value] = v
	}
	return out, nil
}

func (m *Metadata) mapping() *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range m.entries {
		node.Content = append(node.Content, e.key, e.value)
	}
	return node
}

// FormatTimestamp renders t as 2006-01-02T15:04:05Z in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timestampLayout)
}

// FormatDate renders the UTC date portion of t.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func timestampNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!timestamp", Value: value}
}

func stringNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}
