package haze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapInternStable(t *testing.T) {
	h := NewObjectHeap()

	a := h.Intern(1, 0, "foo")
	b := h.Intern(1, 0, "foo")
	assert.Equal(t, a.Handle, b.Handle, "same entity must keep its handle")

	c := h.Intern(1, 0, "bar")
	d := h.Intern(2, 0, "foo")
	e := h.Intern(1, a.Handle, "foo")
	handles := map[uint32]bool{a.Handle: true, c.Handle: true, d.Handle: true, e.Handle: true}
	assert.Len(t, handles, 4, "distinct entities must get distinct handles")
}

func TestHeapClearRestartsCounter(t *testing.T) {
	h := NewObjectHeap()

	first := h.Intern(1, 0, "foo")
	h.Intern(1, 0, "bar")
	require.Equal(t, uint32(1), first.Handle)

	h.Clear()
	assert.Equal(t, 0, h.Count())

	again := h.Intern(1, 0, "other")
	assert.Equal(t, uint32(1), again.Handle, "counter restarts after Clear")
}

func TestHeapNoReuseWithinSession(t *testing.T) {
	h := NewObjectHeap()

	a := h.Intern(1, 0, "foo")
	h.Remove(a)

	b := h.Intern(1, 0, "foo")
	assert.NotEqual(t, a.Handle, b.Handle, "freed handles are not reissued")
	assert.Nil(t, h.Get(a.Handle))
}

func TestHeapResolve(t *testing.T) {
	h := NewObjectHeap()

	dir := h.Intern(1, 0, "photos")
	sub := h.Intern(1, dir.Handle, "2024")
	file := h.Intern(1, sub.Handle, "img.jpg")

	p, err := h.Resolve(file)
	require.NoError(t, err)
	assert.Equal(t, "photos/2024/img.jpg", p)

	p, err = h.Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, "photos", p)
}

func TestHeapRenameKeepsHandle(t *testing.T) {
	h := NewObjectHeap()

	obj := h.Intern(1, 0, "old.txt")
	handle := obj.Handle
	h.Rename(obj, "new.txt")

	assert.Equal(t, handle, h.Intern(1, 0, "new.txt").Handle)
	assert.NotEqual(t, handle, h.Intern(1, 0, "old.txt").Handle)
}

func TestHeapReparent(t *testing.T) {
	h := NewObjectHeap()

	dir := h.Intern(1, 0, "dst")
	obj := h.Intern(1, 0, "file.bin")
	child := h.Intern(1, obj.Handle, "nested")

	h.Reparent(obj, 1, dir.Handle)

	p, err := h.Resolve(obj)
	require.NoError(t, err)
	assert.Equal(t, "dst/file.bin", p)

	// Children follow, since paths resolve through parent handles.
	p, err = h.Resolve(child)
	require.NoError(t, err)
	assert.Equal(t, "dst/file.bin/nested", p)
}

func TestHeapRemoveSubtree(t *testing.T) {
	h := NewObjectHeap()

	root := h.Intern(1, 0, "top")
	mid := h.Intern(1, root.Handle, "mid")
	leaf := h.Intern(1, mid.Handle, "leaf")
	other := h.Intern(1, 0, "other")

	h.RemoveSubtree(root)

	assert.Nil(t, h.Get(root.Handle))
	assert.Nil(t, h.Get(mid.Handle))
	assert.Nil(t, h.Get(leaf.Handle))
	assert.NotNil(t, h.Get(other.Handle))
}
