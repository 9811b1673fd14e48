// Package dcconfig parses the `<tag>value</tag>` configuration string every
// dcxfer daemon receives as its second positional argument, and the wire
// grammar C4 uses for control frames.
package dcconfig

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Tags is an ordered multimap of tag name to raw string value. Unknown tags
// are preserved (callers ignore what they don't need, per spec §6), and a
// repeated tag keeps every occurrence in order.
type Tags struct {
	order  []string
	values map[string][]string
}

// Parse scans s for `<tag>value</tag>` pairs. It tolerates any surrounding
// whitespace and does not require a wrapping root element, matching the
// config-string and control-frame grammar of spec.md §6.
func Parse(s string) (*Tags, error) {
	t := &Tags{values: map[string][]string{}}

	dec := xml.NewDecoder(strings.NewReader("<root>" + s + "</root>"))
	var cur string
	var buf strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dcconfig: parse config string: %w", err)
		}

		switch tk := tok.(type) {
		case xml.StartElement:
			if tk.Name.Local == "root" {
				continue
			}
			cur = tk.Name.Local
			buf.Reset()
		case xml.CharData:
			if cur != "" {
				buf.Write(tk)
			}
		case xml.EndElement:
			if tk.Name.Local == "root" {
				continue
			}
			if cur != "" {
				t.add(cur, buf.String())
				cur = ""
			}
		}
	}

	return t, nil
}

func (t *Tags) add(name, value string) {
	if _, ok := t.values[name]; !ok {
		t.order = append(t.order, name)
	}
	t.values[name] = append(t.values[name], value)
}

// Get returns the first value of name, or "" with ok=false if absent.
func (t *Tags) Get(name string) (string, bool) {
	vs, ok := t.values[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// GetDefault returns the first value of name, or def if absent.
func (t *Tags) GetDefault(name, def string) string {
	if v, ok := t.Get(name); ok {
		return v
	}
	return def
}

// All returns every value seen for name, in document order.
func (t *Tags) All(name string) []string {
	return t.values[name]
}

// Require returns the first value of name or an error naming the missing
// field, for the "Fatal startup" error kind of spec.md §7.
func (t *Tags) Require(name string) (string, error) {
	v, ok := t.Get(name)
	if !ok {
		return "", fmt.Errorf("dcconfig: missing required tag %q", name)
	}
	return v, nil
}

// Validate checks that every tag in required is present, collecting every
// missing one into a single error instead of failing on the first. Callers
// run this before touching any collaborator (DB, filesystem, socket) so a
// misconfigured daemon fails fast with a field list, per spec.md §7's
// "Fatal startup" error kind.
func (t *Tags) Validate(required ...string) error {
	var missing []string
	for _, name := range required {
		if _, ok := t.Get(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("dcconfig: missing required tags: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Encode renders tags back into the `<tag>value</tag>` wire grammar, in the
// order given, for building C4 control frames.
func Encode(pairs ...[2]string) string {
	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "<%s>%s</%s>", p[0], p[1], p[0])
	}
	return b.String()
}
