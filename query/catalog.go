// Package query compiles a declarative predicate language into
// index-driven execution plans. Compilation resolves dotted paths
// against class descriptors once; planning happens on every execution
// against the catalog's current index state, chaining per-field
// indices backward across object references so that multi-hop
// predicates never scan when an indexable path exists.
package query

import (
	"iter"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andyglick/perst/classes"
	"github.com/andyglick/perst/indexes"
	"github.com/andyglick/perst/keys"
)

// Catalog is what the planner and executor need from the catalog
// layer; *perst.Database implements it.
type Catalog interface {
	// IndexOf returns the managed index on the given field of the
	// class, or nil if the field is not indexed.
	IndexOf(class *classes.Class, fieldNdx int) *indexes.FieldIndex
	// ScanClass iterates the live records of a class in ref order.
	ScanClass(class *classes.Class) iter.Seq[classes.Record]
	// Resolve maps a ref to its live record.
	Resolve(ref keys.Ref) (classes.Record, bool)
	// Listener returns the current plan-event listener, or nil.
	Listener() Listener
}

// Listener is notified, synchronously during Execute, whenever a plan
// resorts to a sequential scan or an explicit sort. A predicate fully
// served by chained indices in the requested order reports nothing.
type Listener interface {
	OnSequentialScan(predicate string)
	OnSort(predicate string)
}

var QueryCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "perst",
	Subsystem: "query",
	Name:      "executions",
}, []string{"class"})

var SeqScanCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "perst",
	Subsystem: "query",
	Name:      "seqscans",
}, []string{"class"})

var SortCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "perst",
	Subsystem: "query",
	Name:      "sorts",
}, []string{"class"})
