package syncer

import (
	"github.com/unkn0wn-root/tabkeep/entity"
)

// Plan is the outcome of reconciling one list collection.
type Plan[T entity.Entity] struct {
	Merged  []T  // new local collection
	Changed bool // Merged differs from the local input
	Pulled  int  // entities taken from remote
	Create  []T  // local-only, to upload
	Update  []T  // local strictly newer than remote, to push
}

// Merge reconciles local and remote by id with last-write-wins on Modified.
// Remote wins only when strictly newer; ties keep local. Local order is kept
// and remote-only entities are appended in remote order.
func Merge[T entity.Entity](local, remote []T) Plan[T] {
	byID := make(map[string]T, len(remote))
	for _, r := range remote {
		byID[r.EntityID()] = r
	}

	p := Plan[T]{Merged: make([]T, 0, len(local)+len(remote))}
	seen := make(map[string]struct{}, len(local))
	for _, l := range local {
		id := l.EntityID()
		seen[id] = struct{}{}
		r, ok := byID[id]
		switch {
		case !ok:
			p.Merged = append(p.Merged, l)
			p.Create = append(p.Create, l)
		case r.Modified().After(l.Modified()):
			p.Merged = append(p.Merged, r)
			p.Pulled++
			p.Changed = true
		case l.Modified().After(r.Modified()):
			p.Merged = append(p.Merged, l)
			p.Update = append(p.Update, l)
		default:
			p.Merged = append(p.Merged, l)
		}
	}
	for _, r := range remote {
		id := r.EntityID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p.Merged = append(p.Merged, byID[id])
		p.Pulled++
		p.Changed = true
	}
	return p
}

// SingletonPlan is the outcome of reconciling a one-per-user aggregate.
type SingletonPlan[T entity.Entity] struct {
	Value   T
	Has     bool // Value is set
	Changed bool // Value must be written locally
	Create  bool // push Value with create
	Update  bool // push Value with update
}

// MergeSingleton reconciles a whole aggregate by Modified, ignoring ids. When
// the remote holds several, the newest counts. A newer local aggregate whose
// id the remote does not know is pushed with create.
func MergeSingleton[T entity.Entity](local T, hasLocal bool, remote []T) SingletonPlan[T] {
	var r T
	hasRemote := false
	for _, v := range remote {
		if !hasRemote || v.Modified().After(r.Modified()) {
			r, hasRemote = v, true
		}
	}

	switch {
	case !hasLocal && !hasRemote:
		return SingletonPlan[T]{}
	case !hasLocal:
		return SingletonPlan[T]{Value: r, Has: true, Changed: true}
	case !hasRemote:
		return SingletonPlan[T]{Value: local, Has: true, Create: true}
	case r.Modified().After(local.Modified()):
		return SingletonPlan[T]{Value: r, Has: true, Changed: true}
	case local.Modified().After(r.Modified()):
		known := false
		for _, v := range remote {
			if v.EntityID() == local.EntityID() {
				known = true
				break
			}
		}
		return SingletonPlan[T]{Value: local, Has: true, Update: known, Create: !known}
	default:
		return SingletonPlan[T]{Value: local, Has: true}
	}
}
