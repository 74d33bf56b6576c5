/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package nametree

import "fmt"

// Tree is a red-black tree keyed by canonical DNS name (CompareNames).
// All operations except the per-step traversal (Next/Prev, amortised
// O(1)) run in O(log n). Duplicate keys are rejected by Insert.
//
// The denial chain needs ordered predecessor/successor traversal, which
// rules out a plain map or a radix tree without threaded leaves; the
// node owns its value inline so there is exactly one allocation per
// name.
type Tree[V any] struct {
	root *Node[V]
	size int
}

// Node is one entry of a Tree. The zero value is never returned to
// callers; all accessors return either a valid *Node or nil.
type Node[V any] struct {
	Name   string
	Value  V
	left   *Node[V]
	right  *Node[V]
	parent *Node[V]
	red    bool
}

// New returns an empty ordered tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{}
}

// Size returns the number of entries in the tree.
func (t *Tree[V]) Size() int { return t.size }

// Find looks up name and returns its node, or (nil, false) if absent.
func (t *Tree[V]) Find(name string) (*Node[V], bool) {
	n := t.root
	for n != nil {
		switch c := CompareNames(name, n.Name); {
		case c == 0:
			return n, true
		case c < 0:
			n = n.left
		default:
			n = n.right
		}
	}
	return nil, false
}

// First returns the canonically smallest entry, or nil if the tree is empty.
func (t *Tree[V]) First() *Node[V] {
	n := t.root
	if n == nil {
		return nil
	}
	for n.left != nil {
		n = n.left
	}
	return n
}

// Last returns the canonically largest entry, or nil if the tree is empty.
func (t *Tree[V]) Last() *Node[V] {
	n := t.root
	if n == nil {
		return nil
	}
	for n.right != nil {
		n = n.right
	}
	return n
}

// Next returns the canonical successor of n, or nil if n is the last entry.
func (n *Node[V]) Next() *Node[V] {
	if n == nil {
		return nil
	}
	if n.right != nil {
		m := n.right
		for m.left != nil {
			m = m.left
		}
		return m
	}
	cur, p := n, n.parent
	for p != nil && cur == p.right {
		cur = p
		p = p.parent
	}
	return p
}

// Prev returns the canonical predecessor of n, or nil if n is the first entry.
func (n *Node[V]) Prev() *Node[V] {
	if n == nil {
		return nil
	}
	if n.left != nil {
		m := n.left
		for m.right != nil {
			m = m.right
		}
		return m
	}
	cur, p := n, n.parent
	for p != nil && cur == p.left {
		cur = p
		p = p.parent
	}
	return p
}

// Insert adds name/value. It is an error to insert a name already present.
func (t *Tree[V]) Insert(name string, value V) (*Node[V], error) {
	var parent *Node[V]
	cur := t.root
	for cur != nil {
		c := CompareNames(name, cur.Name)
		switch {
		case c == 0:
			return nil, fmt.Errorf("nametree: duplicate key %q", name)
		case c < 0:
			parent = cur
			cur = cur.left
		default:
			parent = cur
			cur = cur.right
		}
	}

	n := &Node[V]{Name: name, Value: value, parent: parent, red: true}
	switch {
	case parent == nil:
		t.root = n
	case CompareNames(name, parent.Name) < 0:
		parent.left = n
	default:
		parent.right = n
	}
	t.size++
	t.insertFixup(n)
	return n, nil
}

// Delete removes name from the tree. It is a no-op if absent.
func (t *Tree[V]) Delete(name string) {
	n, ok := t.Find(name)
	if !ok {
		return
	}
	t.deleteNode(n)
	t.size--
}

func isRed[V any](n *Node[V]) bool {
	return n != nil && n.red
}

func (t *Tree[V]) rotateLeft(x *Node[V]) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == nil:
		t.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *Tree[V]) rotateRight(x *Node[V]) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	switch {
	case x.parent == nil:
		t.root = y
	case x == x.parent.right:
		x.parent.right = y
	default:
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (t *Tree[V]) insertFixup(z *Node[V]) {
	for isRed(z.parent) {
		gp := z.parent.parent
		if z.parent == gp.left {
			y := gp.right
			if isRed(y) {
				z.parent.red = false
				y.red = false
				gp.red = true
				z = gp
				continue
			}
			if z == z.parent.right {
				z = z.parent
				t.rotateLeft(z)
			}
			z.parent.red = false
			gp = z.parent.parent
			gp.red = true
			t.rotateRight(gp)
		} else {
			y := gp.left
			if isRed(y) {
				z.parent.red = false
				y.red = false
				gp.red = true
				z = gp
				continue
			}
			if z == z.parent.left {
				z = z.parent
				t.rotateRight(z)
			}
			z.parent.red = false
			gp = z.parent.parent
			gp.red = true
			t.rotateLeft(gp)
		}
	}
	t.root.red = false
}

func (t *Tree[V]) transplant(u, v *Node[V]) {
	switch {
	case u.parent == nil:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

func (t *Tree[V]) deleteNode(z *Node[V]) {
	y := z
	yOrigRed := y.red
	var x, xParent *Node[V]

	switch {
	case z.left == nil:
		x = z.right
		xParent = z.parent
		t.transplant(z, z.right)
	case z.right == nil:
		x = z.left
		xParent = z.parent
		t.transplant(z, z.left)
	default:
		y = z.right
		for y.left != nil {
			y = y.left
		}
		yOrigRed = y.red
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.red = z.red
	}

	if !yOrigRed {
		t.deleteFixup(x, xParent)
	}
}

func (t *Tree[V]) deleteFixup(x, parent *Node[V]) {
	for x != t.root && !isRed(x) {
		if parent == nil {
			break
		}
		if x == parent.left {
			w := parent.right
			if isRed(w) {
				w.red = false
				parent.red = true
				t.rotateLeft(parent)
				w = parent.right
			}
			if !isRed(w.left) && !isRed(w.right) {
				w.red = true
				x = parent
				parent = x.parent
				continue
			}
			if !isRed(w.right) {
				if w.left != nil {
					w.left.red = false
				}
				w.red = true
				t.rotateRight(w)
				w = parent.right
			}
			w.red = parent.red
			parent.red = false
			if w.right != nil {
				w.right.red = false
			}
			t.rotateLeft(parent)
			x = t.root
		} else {
			w := parent.left
			if isRed(w) {
				w.red = false
				parent.red = true
				t.rotateRight(parent)
				w = parent.left
			}
			if !isRed(w.right) && !isRed(w.left) {
				w.red = true
				x = parent
				parent = x.parent
				continue
			}
			if !isRed(w.left) {
				if w.right != nil {
					w.right.red = false
				}
				w.red = true
				t.rotateLeft(w)
				w = parent.left
			}
			w.red = parent.red
			parent.red = false
			if w.left != nil {
				w.left.red = false
			}
			t.rotateRight(parent)
			x = t.root
		}
	}
	if x != nil {
		x.red = false
	}
}

// Do calls f for every entry in canonical order. f must not mutate the
// tree's structure (insert/delete); mutating a node's Value is safe.
func (t *Tree[V]) Do(f func(n *Node[V])) {
	for n := t.First(); n != nil; n = n.Next() {
		f(n)
	}
}
