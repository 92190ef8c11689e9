package proxy

import (
	"container/heap"
	"testing"
)

func TestPipelineResponseHeapOrdersBySeq(t *testing.T) {
	h := &PipelineResponseHeap{}
	heap.Init(h)
	for _, seq := range []int64{5, 1, 3} {
		heap.Push(h, &PipelineResponse{ctx: &PipelineRequest{seq: seq}})
	}
	var got []int64
	for h.Len() > 0 {
		got = append(got, heap.Pop(h).(*PipelineResponse).ctx.seq)
	}
	want := []int64{1, 3, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got order %v, want %v", got, want)
		}
	}
}

func TestPipelineResponseHeapTopDoesNotRemove(t *testing.T) {
	h := &PipelineResponseHeap{}
	heap.Init(h)
	heap.Push(h, &PipelineResponse{ctx: &PipelineRequest{seq: 2}})
	if top := h.Top(); top == nil || top.ctx.seq != 2 {
		t.Fatalf("unexpected top: %+v", top)
	}
	if h.Len() != 1 {
		t.Fatalf("Top must not remove, len=%d", h.Len())
	}
}

func TestPipelineResponseHeapTopEmpty(t *testing.T) {
	h := PipelineResponseHeap{}
	if top := h.Top(); top != nil {
		t.Fatalf("expected nil top on empty heap, got %+v", top)
	}
}
