// Package task defines task descriptors and the immutable store a
// submission run reads them from.
//
// A [Descriptor] pairs a unique task id with an opaque payload that only
// the remote batch service interprets. The [Store] captures a collection
// of descriptors once, in deterministic order, and is read-only for the
// lifetime of a run: windows over the store can be submitted from many
// goroutines without synchronization.
package task
