// Package stringid provides a stable, process-independent hash used
// to look up task groups and named threads by name without retaining
// the name itself on the hot path.
package stringid

import "hash/fnv"

// ID is a stable 64-bit hash of a name. Two calls to Of with the same
// string always produce the same ID, including across processes and
// Go versions, since it is defined entirely in terms of FNV-1a.
type ID uint64

// None is the ID of the empty string. It is not treated specially by
// this package, but callers commonly reserve it to mean "no name".
const None ID = 14695981039346656037 // fnv.New64a().Sum64() of ""

// Of hashes name into a stable ID using FNV-1a, the same non-cryptographic
// hash the original C++ implementation of this scheduler uses for its
// string ids.
func Of(name string) ID {
	h := fnv.New64a()
	// hash.Hash.Write never returns an error for an in-memory FNV state.
	_, _ = h.Write([]byte(name))
	return ID(h.Sum64())
}
