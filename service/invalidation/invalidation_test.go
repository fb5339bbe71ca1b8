package invalidation

import (
	"reflect"
	"testing"
	"time"

	"github.com/KAsare1/Fintrack-server/cache"
	"github.com/KAsare1/Fintrack-server/service/ws"
)

type recorder struct {
	userID uint
	events []ws.Event
}

func (r *recorder) Publish(userID uint, e ws.Event) {
	r.userID = userID
	r.events = append(r.events, e)
}

func TestChangedInvalidatesDependents(t *testing.T) {
	c := cache.New(time.Minute, 0)
	c.Set(Key(1, Transactions, "page=1"), 1)
	c.Set(Key(1, Dashboard, "2026-01"), 2)
	c.Set(Key(1, Budgets, "2026-01"), 3)
	c.Set(Key(1, Goals, "all"), 4)
	c.Set(Key(2, Dashboard, "2026-01"), 5)

	rec := &recorder{}
	New(c, rec).Changed(1, Transactions)

	for _, k := range []string{Key(1, Transactions, "page=1"), Key(1, Dashboard, "2026-01"), Key(1, Budgets, "2026-01")} {
		if _, ok := c.Get(k); ok {
			t.Errorf("%s should be invalidated", k)
		}
	}
	for _, k := range []string{Key(1, Goals, "all"), Key(2, Dashboard, "2026-01")} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should survive", k)
		}
	}

	if rec.userID != 1 || len(rec.events) != 1 {
		t.Fatalf("published %+v to %d", rec.events, rec.userID)
	}
	want := []string{Budgets, Categories, Dashboard, Transactions}
	if !reflect.DeepEqual(rec.events[0].Resources, want) {
		t.Fatalf("resources = %v, want %v", rec.events[0].Resources, want)
	}
}

func TestForgetUser(t *testing.T) {
	c := cache.New(time.Minute, 0)
	c.Set(Key(3, Goals, "all"), 1)
	c.Set(Key(33, Goals, "all"), 1)
	New(c, nil).ForgetUser(3)
	if c.Stats().Size != 1 {
		t.Fatalf("size = %d, want 1", c.Stats().Size)
	}
}
