// Package vrm is the virtual reference manager.
//
// It owns the per-object reachability records kept in the store: the
// virtual-data refcount (vom.rc.<baseRef>), the export status
// (vom.es.<baseRef>) and the recognizer links written by weak collections
// (vom.ir.<vref>|<collectionID>). From these and the local reference
// tracker it answers whether an object is reachable or recognizable, and it
// runs the delete cascade when the GC scan decides an object is dead.
//
// Objects are reachable while any of these pillars holds:
//
//	local         a registered in-process Ref
//	exported      the kernel holds a reachable reference (status "r")
//	virtual data  refcount > 0
//
// They stay recognizable while reachable, while the kernel still
// recognizes the export (status "s"), or while some weak collection keys
// on them.
package vrm
