package proxy

// PipelineResponseHeap orders out-of-order backend replies by their
// originating request's sequence number, so the session can hold a
// reply that arrived early until its turn comes (spec.md §4.6
// "Request-list FIFO flush" / §5 "Per client" ordering guarantee).
type PipelineResponseHeap []*PipelineResponse

func (h PipelineResponseHeap) Len() int            { return len(h) }
func (h PipelineResponseHeap) Less(i, j int) bool  { return h[i].ctx.seq < h[j].ctx.seq }
func (h PipelineResponseHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *PipelineResponseHeap) Push(x interface{}) { *h = append(*h, x.(*PipelineResponse)) }
func (h *PipelineResponseHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Top returns the lowest-seq element without removing it, or nil if empty.
func (h PipelineResponseHeap) Top() *PipelineResponse {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
