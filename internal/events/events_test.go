package events

import (
	"sync"
	"testing"
)

func TestMulti(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, b, Discard}.Notify(Event{Type: SchemaChanged, SchemaID: 1})

	if a.Count(SchemaChanged) != 1 || b.Count(SchemaChanged) != 1 {
		t.Errorf("counts = %d, %d, want 1, 1", a.Count(SchemaChanged), b.Count(SchemaChanged))
	}
	if a.Count(InstanceCreated) != 0 {
		t.Error("unexpected instance_created event")
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	r := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Notify(Event{Type: InstanceCreated})
		}()
	}
	wg.Wait()
	if got := len(r.Events()); got != 50 {
		t.Errorf("recorded %d events, want 50", got)
	}
}
