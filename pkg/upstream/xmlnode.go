package upstream

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// AnyNamespace matches an element or attribute in any namespace.
const AnyNamespace = "*"

// Node is a generic XML element. Upstream schemas drift between releases
// (elements move between namespaces, values move between elements and
// attributes), so responses are decoded into a tree and read through
// candidate lists instead of fixed structs.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []*Node    `xml:",any"`
}

// ParseTree decodes body into a Node tree.
func ParseTree(body []byte) (*Node, error) {
	root := new(Node)
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = false
	// embedded documents keep their original declaration after decoding
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	if err := decoder.Decode(root); err != nil {
		return nil, err
	}
	return root, nil
}

func matches(name xml.Name, space, local string) bool {
	if name.Local != local {
		return false
	}
	return space == AnyNamespace || name.Space == space
}

// Is reports whether the element has the given name.
func (n *Node) Is(space, local string) bool {
	return n != nil && matches(n.XMLName, space, local)
}

// Value returns the trimmed character data of the element.
func (n *Node) Value() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text)
}

// Child returns the first direct child with the given name.
func (n *Node) Child(space, local string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if matches(c.XMLName, space, local) {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns all direct children with the given name.
func (n *Node) ChildrenNamed(space, local string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if matches(c.XMLName, space, local) {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the first descendant with the given name, depth first.
func (n *Node) Find(space, local string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if matches(c.XMLName, space, local) {
			return c
		}
		if found := c.Find(space, local); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns every descendant with the given name in document order.
func (n *Node) FindAll(space, local string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if matches(c.XMLName, space, local) {
			out = append(out, c)
		}
		out = append(out, c.FindAll(space, local)...)
	}
	return out
}

// Attr returns the value of the attribute with the given name.
func (n *Node) Attr(space, local string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attrs {
		if matches(a.Name, space, local) {
			return a.Value, true
		}
	}
	return "", false
}

// Step is one element name in a Field path.
type Step struct {
	Space string
	Local string
}

// Field is one place a logical value may live, relative to a node: a path of
// child elements, optionally ending in an attribute of the last element.
type Field struct {
	Path []Step
	Attr *Step
}

// Elem is a field held in the character data of a direct child.
func Elem(space, local string) Field {
	return Field{Path: []Step{{space, local}}}
}

// AttrOf is a field held in an attribute of the node itself.
func AttrOf(space, local string) Field {
	return Field{Attr: &Step{space, local}}
}

// Under prefixes the field with a parent element.
func (f Field) Under(space, local string) Field {
	path := make([]Step, 0, len(f.Path)+1)
	path = append(path, Step{space, local})
	path = append(path, f.Path...)
	return Field{Path: path, Attr: f.Attr}
}

// Lookup resolves the field against n.
func (f Field) Lookup(n *Node) (string, bool) {
	cur := n
	for _, s := range f.Path {
		cur = cur.Child(s.Space, s.Local)
		if cur == nil {
			return "", false
		}
	}
	if f.Attr != nil {
		v, ok := cur.Attr(f.Attr.Space, f.Attr.Local)
		return strings.TrimSpace(v), ok
	}
	return cur.Value(), cur != nil
}

// Candidates is an ordered list of places a logical value may live.
type Candidates []Field

// First returns the first present, non-empty value.
func (c Candidates) First(n *Node) string {
	for _, f := range c {
		if v, ok := f.Lookup(n); ok && v != "" {
			return v
		}
	}
	return ""
}

// In returns the candidates with every element name tried in each of the
// given namespaces, in order. Attributes are kept as they are.
func In(local string, spaces ...string) Candidates {
	out := make(Candidates, 0, len(spaces))
	for _, s := range spaces {
		out = append(out, Elem(s, local))
	}
	return out
}

// Or concatenates candidate lists, preserving priority.
func Or(lists ...Candidates) Candidates {
	var out Candidates
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// LocalType strips the namespace prefix from an xsi:type style value.
func LocalType(v string) string {
	if i := strings.LastIndexByte(v, ':'); i >= 0 {
		return v[i+1:]
	}
	return v
}
