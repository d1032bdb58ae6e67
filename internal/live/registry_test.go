package live

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_add_get_remove(t *testing.T) {
	env := newTestService(t)
	_, o := env.svc.Open("m1", testAuthor)

	reg := NewRegistry()
	reg.Add("a", o, time.Unix(10, 0))

	if got, ok := reg.Get("a"); !ok || got != o {
		t.Fatalf("expected stored session, got %v %v", got, ok)
	}
	if _, ok := reg.Get("b"); ok {
		t.Error("unknown id should not be found")
	}
	if n := reg.ActiveSessionCount(); n != 1 {
		t.Errorf("expected 1 session, got %d", n)
	}
	if _, ok := reg.Remove("a"); !ok {
		t.Error("Remove should report the stored session")
	}
	if _, ok := reg.Remove("a"); ok {
		t.Error("second Remove should find nothing")
	}
	if n := reg.ActiveSessionCount(); n != 0 {
		t.Errorf("expected empty registry, got %d", n)
	}
}

func TestRegistry_IDs_oldest_first(t *testing.T) {
	env := newTestService(t)
	_, o := env.svc.Open("m1", testAuthor)

	reg := NewRegistry()
	reg.Add("c", o, time.Unix(30, 0))
	reg.Add("a", o, time.Unix(10, 0))
	reg.Add("b", o, time.Unix(30, 0))

	want := []SessionID{"a", "b", "c"}
	if diff := cmp.Diff(want, reg.IDs()); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_concurrent(t *testing.T) {
	env := newTestService(t)
	_, o := env.svc.Open("m1", testAuthor)
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := SessionID(fmt.Sprintf("s%d", i))
			for j := 0; j < 50; j++ {
				reg.Add(id, o, time.Now())
				reg.Get(id)
				reg.IDs()
				reg.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	if n := reg.ActiveSessionCount(); n != 0 {
		t.Errorf("expected empty registry, got %d", n)
	}
}
