// Package streamtree maintains a hierarchical index of stream names built
// incrementally as streams are discovered. Names are dot-separated paths;
// interior segments become grouping nodes, the final segment becomes a leaf
// carrying the stream metadata.
package streamtree

import (
	"errors"
	"fmt"
	"strings"

	"streamnav/navigation"
	"streamnav/store"
)

// ErrDuplicateStream is returned when metadata is attached to a full path
// that already carries a leaf. Silent overwrite would corrupt stream
// identity, so this fails loudly instead.
var ErrDuplicateStream = errors.New("stream already present at path")

// Node is one tree node. A node either carries stream metadata (leaf) or
// groups child nodes; grouping nodes created while walking a path may later
// receive their metadata when the stream with that exact name is declared.
//
// Mutation is confined to the owning dispatcher goroutine. Read-only queries
// may run from any goroutine and tolerate observing a tree mid-growth: a
// child is linked into its parent only after it is fully initialized.
type Node struct {
	name     string
	fullPath string
	meta     *store.StreamMetadata
	children []*Node
	expanded bool
}

// Name returns the leaf segment of the node.
func (n *Node) Name() string { return n.name }

// FullPath returns the dot-joined ancestry of the node.
func (n *Node) FullPath() string { return n.fullPath }

// Metadata returns the stream metadata, nil for grouping nodes.
func (n *Node) Metadata() *store.StreamMetadata { return n.meta }

// Expanded reports whether the node has been marked expanded by a Select.
func (n *Node) Expanded() bool { return n.expanded }

// Children returns the current child list in insertion order.
func (n *Node) Children() []*Node { return n.children }

func (n *Node) child(name string) *Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Coverage returns the wall-clock interval spanned by the subtree: the
// union of descendant leaf message intervals, excluding empty ones. A
// subtree with no known interval yields navigation.Empty.
func (n *Node) Coverage() navigation.Interval {
	return n.coverage((*store.StreamMetadata).MessageInterval)
}

// OriginatingCoverage is Coverage over logical time.
func (n *Node) OriginatingCoverage() navigation.Interval {
	return n.coverage((*store.StreamMetadata).OriginatingInterval)
}

func (n *Node) coverage(extent func(*store.StreamMetadata) navigation.Interval) navigation.Interval {
	out := navigation.Empty
	if n.meta != nil {
		out = out.Union(extent(n.meta))
	}
	for _, c := range n.children {
		out = out.Union(c.coverage(extent))
	}
	return out
}

// Tree is the stream-name index for one partition. It is exclusively owned
// by the partition-level consumer.
type Tree struct {
	root *Node
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{root: &Node{}}
}

// Root returns the (unnamed) root node.
func (t *Tree) Root() *Node { return t.root }

// Add walks the stream's dot-separated name, creating grouping nodes as
// needed, and attaches the metadata at the final segment. A grouping node
// already present at the final segment receives the metadata in place;
// attaching to an already-populated leaf is a contract violation and
// returns ErrDuplicateStream.
func (t *Tree) Add(meta *store.StreamMetadata) (*Node, error) {
	if meta == nil || meta.Name == "" {
		return nil, fmt.Errorf("stream metadata with a non-empty name is required")
	}

	node := t.root
	segments := strings.Split(meta.Name, ".")
	for i, segment := range segments {
		existing := node.child(segment)
		if existing == nil {
			child := &Node{
				name:     segment,
				fullPath: strings.Join(segments[:i+1], "."),
			}
			if i == len(segments)-1 {
				child.meta = meta
			}
			// Link only after the child is fully built, so concurrent
			// readers never observe a partially-constructed node.
			node.children = append(node.children, child)
			node = child
			continue
		}
		node = existing
		if i == len(segments)-1 {
			if node.meta != nil {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateStream, meta.Name)
			}
			node.meta = meta
		}
	}
	return node, nil
}

// Select finds the node with the exact full path, or nil. As a side effect
// every ancestor of a found node is marked expanded, a reveal-in-tree hint
// callers may rely on.
func (t *Tree) Select(fullPath string) *Node {
	if fullPath == "" {
		return nil
	}
	node := t.root
	var ancestors []*Node
	for _, segment := range strings.Split(fullPath, ".") {
		next := node.child(segment)
		if next == nil {
			return nil
		}
		ancestors = append(ancestors, node)
		node = next
	}
	for _, a := range ancestors {
		a.expanded = true
	}
	return node
}

// Walk visits every node depth-first in insertion order, root excluded.
func (t *Tree) Walk(visit func(*Node)) {
	var walk func(*Node)
	walk = func(n *Node) {
		for _, c := range n.children {
			visit(c)
			walk(c)
		}
	}
	walk(t.root)
}
