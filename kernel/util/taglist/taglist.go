// Package taglist implements the doubly linked tag list. The list links
// tags embedded in other objects, so membership costs no allocation and
// removal is O(1) through the tag's own pointers.
package taglist

import (
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/irq"
	"github.com/Zhuagenborn/Tiny-x86-OS/kernel/kfmt"
)

// Tag is a list node embedded in an object.
type Tag struct {
	prev, next *Tag
	owner      interface{}
}

// Init binds the tag to the object that embeds it.
func (t *Tag) Init(owner interface{}) {
	t.owner = owner
	t.prev = nil
	t.next = nil
}

// Owner returns the object the tag is embedded in.
func (t *Tag) Owner() interface{} {
	return t.owner
}

// Detach removes the tag from whatever list holds it.
func (t *Tag) Detach() {
	if t.prev == nil || t.next == nil {
		kfmt.Panicf("taglist", "the tag is not linked")
	}

	guard := irq.NewGuard()
	t.prev.next = t.next
	t.next.prev = t.prev
	t.prev = nil
	t.next = nil
	guard.Leave()
}

// Visitor inspects one tag during Find. Returning true stops the scan.
type Visitor func(*Tag) bool

// List is a doubly linked list of tags with sentinel head and tail.
type List struct {
	head, tail Tag
}

// Init empties the list.
func (l *List) Init() {
	l.head.next = &l.tail
	l.tail.prev = &l.head
}

func (l *List) lazyInit() {
	if l.head.next == nil {
		l.Init()
	}
}

func insertBefore(before, tag *Tag) {
	guard := irq.NewGuard()
	before.prev.next = tag
	tag.prev = before.prev
	tag.next = before
	before.prev = tag
	guard.Leave()
}

// PushFront links a tag at the beginning of the list.
func (l *List) PushFront(tag *Tag) {
	l.lazyInit()
	insertBefore(l.head.next, tag)
}

// PushBack links a tag at the end of the list.
func (l *List) PushBack(tag *Tag) {
	l.lazyInit()
	insertBefore(&l.tail, tag)
}

// Pop detaches and returns the first tag.
func (l *List) Pop() *Tag {
	if l.IsEmpty() {
		kfmt.Panicf("taglist", "the list is empty")
	}

	top := l.head.next
	top.Detach()
	return top
}

// Contains reports whether the tag is linked into this list.
func (l *List) Contains(tag *Tag) bool {
	l.lazyInit()
	for curr := l.head.next; curr != &l.tail; curr = curr.next {
		if curr == tag {
			return true
		}
	}

	return false
}

// Find returns the first tag the visitor accepts, or nil.
func (l *List) Find(visit Visitor) *Tag {
	l.lazyInit()
	for curr := l.head.next; curr != &l.tail; curr = curr.next {
		if visit(curr) {
			return curr
		}
	}

	return nil
}

// Size walks the list and returns the number of linked tags.
func (l *List) Size() uint32 {
	l.lazyInit()
	n := uint32(0)
	for curr := l.head.next; curr != &l.tail; curr = curr.next {
		n++
	}

	return n
}

// IsEmpty reports whether the list has no tags.
func (l *List) IsEmpty() bool {
	l.lazyInit()
	return l.head.next == &l.tail
}
