package command

import "testing"

func TestQueueSubmitAssignsArrivalSeq(t *testing.T) {
	q := NewQueue(4)
	c1, err := q.Submit(Command{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	c2, err := q.Submit(Command{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if c1.ArrivalSeq != 0 || c2.ArrivalSeq != 1 {
		t.Fatalf("arrival seqs = %d, %d; want 0, 1", c1.ArrivalSeq, c2.ArrivalSeq)
	}
}

func TestQueueSubmitFullRejects(t *testing.T) {
	q := NewQueue(1)
	if _, err := q.Submit(Command{}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if _, err := q.Submit(Command{}); err != ErrQueueFull {
		t.Fatalf("second Submit = %v; want ErrQueueFull", err)
	}
}

func TestQueueDrainEmptiesAndResets(t *testing.T) {
	q := NewQueue(4)
	_, _ = q.Submit(Command{})
	_, _ = q.Submit(Command{})
	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain returned %d commands; want 2", len(drained))
	}
	if q.Len() != 0 {
		t.Fatalf("Len() after Drain = %d; want 0", q.Len())
	}
}

func TestQueueCloseRejectsFurtherSubmit(t *testing.T) {
	q := NewQueue(4)
	q.Close()
	_, err := q.Submit(Command{})
	if err == nil || !ErrClosed(err) {
		t.Fatalf("Submit after Close = %v; want closed sentinel", err)
	}
}

func TestQueueEvictForAdmissionDropsOldestFirst(t *testing.T) {
	q := NewQueue(2)
	first, _ := q.Submit(Command{})
	_, _ = q.Submit(Command{})
	dropped, ok := q.EvictForAdmission(DropOldestFirst)
	if !ok {
		t.Fatalf("EvictForAdmission reported no eviction on a full queue")
	}
	if dropped.ArrivalSeq != first.ArrivalSeq {
		t.Fatalf("dropped arrival_seq = %d; want oldest (%d)", dropped.ArrivalSeq, first.ArrivalSeq)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() after eviction = %d; want 1", q.Len())
	}
}

func TestQueueEvictForAdmissionDropsLowestPriorityFirst(t *testing.T) {
	q := NewQueue(2)
	_, _ = q.Submit(Command{PriorityClass: 1})
	worst, _ := q.Submit(Command{PriorityClass: 9})
	dropped, ok := q.EvictForAdmission(DropLowestPriorityFirst)
	if !ok {
		t.Fatalf("EvictForAdmission reported no eviction on a full queue")
	}
	if dropped.ArrivalSeq != worst.ArrivalSeq {
		t.Fatalf("dropped arrival_seq = %d; want highest-priority-number command (%d)", dropped.ArrivalSeq, worst.ArrivalSeq)
	}
}
