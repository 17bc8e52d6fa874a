package sim

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/fxamacker/cbor/v2"
)

// descriptorVersion is written into every descriptor.
const descriptorVersion = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: equal descriptors have equal bytes and
	// therefore equal clip IDs.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sim: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("sim: CBOR decoder initialization failed: " + err.Error())
	}
}

// descriptor is the stored form of a clip.
type descriptor struct {
	Version int    `cbor:"v"`
	Name    string `cbor:"name"`
	Created int64  `cbor:"created"`
	Pool    string `cbor:"pool"`
	Nonce   string `cbor:"nonce,omitempty"`

	// Retention is in seconds, or one of the native sentinels.
	Retention      int64    `cbor:"retention"`
	RetentionClass string   `cbor:"rclass,omitempty"`
	EBR            *ebr     `cbor:"ebr,omitempty"`
	Holds          []string `cbor:"holds,omitempty"`

	Description []attr `cbor:"desc,omitempty"`
	Top         *node  `cbor:"top"`
}

type ebr struct {
	Period int64  `cbor:"period"`
	Class  string `cbor:"class,omitempty"`
	Event  int64  `cbor:"event,omitempty"`
}

type attr struct {
	Name  string `cbor:"n"`
	Value string `cbor:"v"`
}

// node is a tag.
type node struct {
	Name     string   `cbor:"name"`
	Attrs    []attr   `cbor:"attrs,omitempty"`
	Blob     *blobRef `cbor:"blob,omitempty"`
	Children []*node  `cbor:"children,omitempty"`

	parent   *node
	segments map[int64][]byte
}

// blobRef locates a tag's blob. Small blobs are embedded.
type blobRef struct {
	Addr string `cbor:"addr,omitempty"`
	Size int64  `cbor:"size"`
	Data []byte `cbor:"data,omitempty"`
}

func encodeDescriptor(d *descriptor) ([]byte, error) {
	return encMode.Marshal(d)
}

func decodeDescriptor(data []byte) (*descriptor, error) {
	var d descriptor
	if err := decMode.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("sim: decoding clip descriptor: %w", err)
	}
	if d.Top == nil {
		d.Top = &node{Name: topTagName}
	}
	d.Top.link(nil)
	return &d, nil
}

// topTagName names the root tag of every clip.
const topTagName = "ecs_top"

// link sets parent pointers below n.
func (n *node) link(parent *node) {
	n.parent = parent
	for _, c := range n.Children {
		c.link(n)
	}
}

func (n *node) index() int {
	if n.parent == nil {
		return -1
	}
	return slices.Index(n.parent.Children, n)
}

func (n *node) nextSibling() *node {
	i := n.index()
	if i < 0 || i+1 >= len(n.parent.Children) {
		return nil
	}
	return n.parent.Children[i+1]
}

func (n *node) prevSibling() *node {
	i := n.index()
	if i <= 0 {
		return nil
	}
	return n.parent.Children[i-1]
}

func (n *node) firstChild() *node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[0]
}

func (n *node) addChild(c *node) {
	c.parent = n
	n.Children = append(n.Children, c)
}

func (n *node) detach() {
	if i := n.index(); i >= 0 {
		n.parent.Children = slices.Delete(n.parent.Children, i, i+1)
	}
	n.parent = nil
}

// contains reports whether m is n or below it.
func (n *node) contains(m *node) bool {
	for ; m != nil; m = m.parent {
		if m == n {
			return true
		}
	}
	return false
}

// clone copies n. Children and blob references are copied only when asked.
func (n *node) clone(children, blob bool) *node {
	c := &node{Name: n.Name, Attrs: slices.Clone(n.Attrs)}
	if blob && n.Blob != nil {
		b := *n.Blob
		b.Data = slices.Clone(n.Blob.Data)
		c.Blob = &b
	}
	if children {
		for _, child := range n.Children {
			c.addChild(child.clone(true, blob))
		}
	}
	return c
}

// walk visits n and its descendants in pre-order.
func (n *node) walk(fn func(*node)) {
	fn(n)
	for _, c := range n.Children {
		c.walk(fn)
	}
}

func getAttr(attrs []attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func setAttr(attrs []attr, name, value string) []attr {
	for i := range attrs {
		if attrs[i].Name == name {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, attr{Name: name, Value: value})
}

func removeAttr(attrs []attr, name string) ([]attr, bool) {
	i := slices.IndexFunc(attrs, func(a attr) bool { return a.Name == name })
	if i < 0 {
		return attrs, false
	}
	return slices.Delete(attrs, i, i+1), true
}
