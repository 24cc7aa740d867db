package haze

import (
	"fmt"
	"path"

	"github.com/ITotalJustice/libhaze/ptp"
)

// Object is one entry in the handle heap: a file or directory observed
// under a storage, addressed by its parent handle and base name.
type Object struct {
	Handle    uint32
	StorageID uint32
	ParentID  uint32 // 0 means storage root
	Name      string

	// Info caches the last ObjectInfo reported to the host.
	Info *ptp.ObjectInfo
}

type objectKey struct {
	storage uint32
	parent  uint32
	name    string
}

// ObjectHeap assigns stable numeric handles to filesystem entities for
// the lifetime of one session. Handles start at 1 and are never reused
// within a session; Clear resets everything on session close.
type ObjectHeap struct {
	objects map[uint32]*Object
	index   map[objectKey]uint32
	next    uint32
}

func NewObjectHeap() *ObjectHeap {
	h := &ObjectHeap{}
	h.Clear()
	return h
}

// Clear drops all entries and restarts the handle counter.
func (h *ObjectHeap) Clear() {
	h.objects = make(map[uint32]*Object)
	h.index = make(map[objectKey]uint32)
	h.next = 1
}

func (h *ObjectHeap) Count() int { return len(h.objects) }

// Intern returns the existing handle for (storage, parent, name) or
// allocates a new one.
func (h *ObjectHeap) Intern(storage, parent uint32, name string) *Object {
	key := objectKey{storage: storage, parent: parent, name: name}
	if handle, ok := h.index[key]; ok {
		return h.objects[handle]
	}
	obj := &Object{
		Handle:    h.next,
		StorageID: storage,
		ParentID:  parent,
		Name:      name,
	}
	h.next++
	h.objects[obj.Handle] = obj
	h.index[key] = obj.Handle
	return obj
}

// Get resolves a handle, or nil if it was never issued or has been
// dropped.
func (h *ObjectHeap) Get(handle uint32) *Object {
	return h.objects[handle]
}

func (h *ObjectHeap) key(obj *Object) objectKey {
	return objectKey{storage: obj.StorageID, parent: obj.ParentID, name: obj.Name}
}

// Remove drops one entry. The handle is not reissued.
func (h *ObjectHeap) Remove(obj *Object) {
	delete(h.index, h.key(obj))
	delete(h.objects, obj.Handle)
}

// RemoveSubtree drops obj and every entry beneath it. Membership is
// decided before anything is removed, so ancestor chains stay intact
// while scanning.
func (h *ObjectHeap) RemoveSubtree(obj *Object) {
	var doomed []*Object
	for _, o := range h.objects {
		if o != obj && h.isBeneath(o, obj.Handle) {
			doomed = append(doomed, o)
		}
	}
	for _, o := range doomed {
		h.Remove(o)
	}
	h.Remove(obj)
}

func (h *ObjectHeap) isBeneath(o *Object, ancestor uint32) bool {
	for depth := 0; depth < maxPathDepth; depth++ {
		if o.ParentID == ancestor {
			return true
		}
		if o.ParentID == 0 {
			return false
		}
		parent := h.objects[o.ParentID]
		if parent == nil {
			return false
		}
		o = parent
	}
	return false
}

// Rename changes the entry's base name, keeping its handle.
func (h *ObjectHeap) Rename(obj *Object, name string) {
	delete(h.index, h.key(obj))
	obj.Name = name
	obj.Info = nil
	h.index[h.key(obj)] = obj.Handle
}

// Reparent moves the entry under a new parent handle and storage,
// keeping its handle. Entries beneath it follow automatically since
// paths resolve through parent handles.
func (h *ObjectHeap) Reparent(obj *Object, storage, parent uint32) {
	delete(h.index, h.key(obj))
	obj.StorageID = storage
	obj.ParentID = parent
	obj.Info = nil
	h.index[h.key(obj)] = obj.Handle
}

const maxPathDepth = 4096

// Resolve reconstructs the path of obj relative to its storage root by
// walking parent handles.
func (h *ObjectHeap) Resolve(obj *Object) (string, error) {
	parts := []string{obj.Name}
	cur := obj
	for depth := 0; cur.ParentID != 0; depth++ {
		if depth >= maxPathDepth {
			return "", fmt.Errorf("heap: path depth exceeded resolving handle %d", obj.Handle)
		}
		parent := h.objects[cur.ParentID]
		if parent == nil {
			return "", fmt.Errorf("heap: dangling parent %d for handle %d", cur.ParentID, cur.Handle)
		}
		parts = append([]string{parent.Name}, parts...)
		cur = parent
	}
	return path.Join(parts...), nil
}
