// Package columnar is the shared buffer layout behind the arrow and frame
// destinations.
//
// # Overview
//
// A Store is allocated once per run with the exact row count reported by the
// count pass. Partitions then write into it without locks: each holds a
// Writer over a disjoint row range, and validity is tracked per row so that
// no two writers ever touch the same byte.
//
// # Usage Example
//
//	store, err := columnar.NewStore(schema, 7)
//	if err != nil {
//		return err
//	}
//	w := store.Writer(0, 4, &lifecycle)
//	_ = w.PutU64(0, 0, 1)
//	_ = w.PutNull(0, 1)
//
// # Thread Safety
//
// Writers over disjoint ranges may be used concurrently. Readers must wait
// until every writer has returned; the destinations enforce this by only
// exposing the store after Finalize.
package columnar
