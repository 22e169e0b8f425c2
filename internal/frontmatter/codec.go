// Package frontmatter splits Markdown documents into a YAML metadata block and
// a body, and renders them back in the same convention.
package frontmatter

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synaptic-algos/ST-KnowledgeVault/internal/apperr"
)

const delimiter = "---"

// Document is a decoded Markdown file.
type Document struct {
	// Meta is never nil; it is empty when the file has no metadata block.
	Meta *Metadata
	// Body is the text after the block with leading blank lines removed.
	Body string
	// HasMeta reports whether the file started with a metadata block.
	HasMeta bool
}

// Decode separates the metadata block (between leading --- lines) from the
// body. Text that does not open with --- is all body. An opening delimiter
// without a closing one is the only structural error.
func Decode(raw []byte) (*Document, error) {
	text := string(raw)
	first, rest, _ := strings.Cut(text, "\n")
	if strings.TrimSpace(first) != delimiter {
		return &Document{Meta: NewMetadata(), Body: text}, nil
	}

	var block strings.Builder
	remaining := rest
	closed := false
	for remaining != "" {
		var line string
		line, remaining, _ = strings.Cut(remaining, "\n")
		if strings.TrimSpace(line) == delimiter {
			closed = true
			break
		}
		block.WriteString(strings.TrimSuffix(line, "\r"))
		block.WriteByte('\n')
	}
	if !closed {
		return nil, fmt.Errorf("frontmatter: block not closed with %q: %w", delimiter, apperr.ErrMalformedDocument)
	}

	meta, err := decodeBlock([]byte(block.String()))
	if err != nil {
		return nil, err
	}
	return &Document{
		Meta:    meta,
		Body:    strings.TrimLeft(remaining, "\r\n"),
		HasMeta: true,
	}, nil
}

func decodeBlock(block []byte) (*Metadata, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(block, &root); err != nil {
		return nil, fmt.Errorf("frontmatter: parse block: %v: %w", err, apperr.ErrMalformedDocument)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return NewMetadata(), nil
	}
	node := root.Content[0]
	switch {
	case node.Kind == yaml.MappingNode:
		return metadataFromMapping(node), nil
	case node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null":
		return NewMetadata(), nil
	default:
		return nil, fmt.Errorf("frontmatter: block is not a mapping: %w", apperr.ErrMalformedDocument)
	}
}

// Encode renders meta between --- delimiters, one blank line, then body with
// a single trailing newline. Timestamps are written in UTC with a Z suffix;
// meta itself is not modified.
func Encode(meta *Metadata, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(delimiter + "\n")

	if meta != nil && meta.Len() > 0 {
		mapping := Normalize(meta.mapping())

		var out bytes.Buffer
		enc := yaml.NewEncoder(&out)
		enc.SetIndent(2)
		if err := enc.Encode(mapping); err != nil {
			return nil, fmt.Errorf("frontmatter: encode block: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("frontmatter: encode block: %w", err)
		}
		buf.Write(out.Bytes())
	}
	buf.WriteString(delimiter + "\n")

	if trimmed := strings.TrimRight(body, " \t\r\n"); trimmed != "" {
		buf.WriteString("\n")
		buf.WriteString(trimmed)
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// Normalize returns a deep copy of n with timestamps rendered the way Encode
// writes them. Comparing normalised nodes makes a value read back from disk
// equal to the value that was written.
func Normalize(n *yaml.Node) *yaml.Node {
	c := cloneNode(n)
	if c != nil {
		normalizeTimestamps(c)
	}
	return c
}

// cloneNode copies n and its children. Alias targets are shared.
func cloneNode(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	c := *n
	if len(n.Content) > 0 {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			c.Content[i] = cloneNode(child)
		}
	}
	return &c
}

// normalizeTimestamps rewrites plain timestamp scalars that carry a time
// component into UTC second precision. Date-only values are left alone.
func normalizeTimestamps(n *yaml.Node) {
	switch n.Kind {
	case yaml.MappingNode, yaml.SequenceNode, yaml.DocumentNode:
		for _, c := range n.Content {
			normalizeTimestamps(c)
		}
	case yaml.ScalarNode:
		if n.ShortTag() != "!!timestamp" || !strings.ContainsAny(n.Value, "Tt ") {
			return
		}
		var t time.Time
		if err := n.Decode(&t); err != nil {
			return
		}
		n.Value = FormatTimestamp(t)
	}
}
