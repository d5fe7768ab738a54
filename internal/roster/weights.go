package roster

import "slices"

// Weights captures the source and target weights of one roster transition.
type Weights struct {
	source *Roster // source is the roster that votes and signs
	target *Roster // target is the roster being constructed for

	numTargetInSource int // numTargetInSource counts target nodes also in source
}

// NewWeights builds the transition weights from source to target.
func NewWeights(source, target *Roster) *Weights {
	n := 0
	for _, id := range target.NodeIDs() {
		if source.Contains(id) {
			n++
		}
	}

	return &Weights{source: source, target: target, numTargetInSource: n}
}

// Source returns the source roster.
func (w *Weights) Source() *Roster { return w.source }

// Target returns the target roster.
func (w *Weights) Target() *Roster { return w.target }

// SourceWeightOf returns the node's weight in the source roster.
func (w *Weights) SourceWeightOf(nodeID uint64) uint64 {
	return w.source.WeightOf(nodeID)
}

// TargetWeightOf returns the node's weight in the target roster.
func (w *Weights) TargetWeightOf(nodeID uint64) uint64 {
	return w.target.WeightOf(nodeID)
}

// SourceNodeIDs returns the source node ids ascending.
func (w *Weights) SourceNodeIDs() []uint64 {
	return w.source.NodeIDs()
}

// TargetNodeIDs returns the target node ids ascending.
func (w *Weights) TargetNodeIDs() []uint64 {
	return w.target.NodeIDs()
}

// TotalSourceWeight returns the source roster's total weight.
func (w *Weights) TotalSourceWeight() uint64 {
	return w.source.TotalWeight()
}

// TotalTargetWeight returns the target roster's total weight.
func (w *Weights) TotalTargetWeight() uint64 {
	return w.target.TotalWeight()
}

// SourceWeightThreshold is at least one third of the source weight.
func (w *Weights) SourceWeightThreshold() uint64 {
	return AtLeastOneThirdOfTotal(w.source.TotalWeight())
}

// TargetWeightThreshold is more than two thirds of the target weight.
func (w *Weights) TargetWeightThreshold() uint64 {
	return MoreThanTwoThirdsOfTotal(w.target.TotalWeight())
}

// NumTargetNodesInSource counts target nodes that are also source nodes.
func (w *Weights) NumTargetNodesInSource() int {
	return w.numTargetInSource
}

// TargetRosterSize returns the number of target nodes.
func (w *Weights) TargetRosterSize() int {
	return w.target.Size()
}

// TargetIncludes reports whether the node is in the target roster.
func (w *Weights) TargetIncludes(nodeID uint64) bool {
	return w.target.Contains(nodeID)
}

// SourceIncludes reports whether the node is in the source roster.
func (w *Weights) SourceIncludes(nodeID uint64) bool {
	return w.source.Contains(nodeID)
}

// NextSourceNodeAfter returns the smallest source id strictly greater than after.
func (w *Weights) NextSourceNodeAfter(after uint64) (uint64, bool) {
	ids := w.source.NodeIDs()

	i, found := slices.BinarySearch(ids, after)
	if found {
		i++
	}

	if i >= len(ids) {
		return 0, false
	}

	return ids[i], true
}

// FirstSourceNode returns the smallest source id.
func (w *Weights) FirstSourceNode() uint64 {
	return w.source.entries[0].NodeID
}

// SourceNodesHaveTargetThreshold reports whether the target nodes that are
// also source nodes hold the target threshold on their own. When they do
// not, a construction can never gather enough keys from existing nodes.
func (w *Weights) SourceNodesHaveTargetThreshold() bool {
	var sum uint64
	for _, e := range w.target.entries {
		if w.source.Contains(e.NodeID) {
			sum += e.Weight
		}
	}

	return sum >= w.TargetWeightThreshold()
}
