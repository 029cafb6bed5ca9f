package importer

import (
	"github.com/leapstack-labs/stardialect/pkg/module"
)

// Activate makes finder the only dialect finder of metaPath and puts it
// first. Finders are matched by type, so calling Activate again, with the
// same or a new finder, still leaves exactly one.
func Activate(metaPath *module.MetaPath, finder *Finder) {
	metaPath.RemoveFunc(func(f module.Finder) bool {
		_, ok := f.(*Finder)
		return ok
	})
	metaPath.InsertFront(finder)
}
