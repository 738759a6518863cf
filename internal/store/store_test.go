package store

import (
	"sync/atomic"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/models"
)

func remote(name, id string) models.RemoteInstance {
	inst := models.RemoteInstance{ObjectMeta: metav1.ObjectMeta{Name: name}}
	if id != "" {
		inst.Labels = map[string]string{models.LabelWorkspaceID: id}
	}
	return inst
}

func ids(list []models.WorkspaceInstance) []string {
	out := make([]string, len(list))
	for i, inst := range list {
		out[i] = inst.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSetWorkspacesReplacesContent(t *testing.T) {
	s := New()
	s.SetWorkspaces([]models.RemoteInstance{remote("a", "a"), remote("b", "b"), remote("c", "c")})
	s.SetWorkspaces([]models.RemoteInstance{remote("c", "c"), remote("d", "d")})

	if got := ids(s.GetAll()); !equal(got, []string{"c", "d"}) {
		t.Fatalf("GetAll ids = %v, want [c d]", got)
	}
	if _, err := s.Get("a"); !failure.IsNotFound(err) {
		t.Errorf("Get(a) after removal: expected not found, got %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestSetWorkspacesNotifiesOncePerCall(t *testing.T) {
	s := New()
	var calls atomic.Int32
	s.Subscribe(func() { calls.Add(1) })

	list := []models.RemoteInstance{remote("a", "a"), remote("b", "b"), remote("c", "c")}
	s.SetWorkspaces(list)
	first := ids(s.GetAll())
	s.SetWorkspaces(list)
	second := ids(s.GetAll())

	if calls.Load() != 2 {
		t.Errorf("notifications = %d, want 2", calls.Load())
	}
	if !equal(first, second) {
		t.Errorf("repeated SetWorkspaces changed content: %v vs %v", first, second)
	}
}

func TestSetWorkspacesDropsInstancesWithoutID(t *testing.T) {
	s := New()
	s.SetWorkspaces([]models.RemoteInstance{remote("a", "a"), remote("orphan", ""), remote("blank", "  ")})

	if got := ids(s.GetAll()); !equal(got, []string{"a"}) {
		t.Fatalf("GetAll ids = %v, want [a]", got)
	}
	for _, id := range []string{"orphan", "", "blank", "  "} {
		if _, err := s.Get(id); !failure.IsNotFound(err) {
			t.Errorf("Get(%q): expected not found, got %v", id, err)
		}
	}
}

func TestSetWorkspacesDuplicateLastWins(t *testing.T) {
	s := New()
	first := remote("first", "dup")
	second := remote("second", "dup")
	s.SetWorkspaces([]models.RemoteInstance{first, remote("x", "x"), second})

	if got := ids(s.GetAll()); !equal(got, []string{"dup", "x"}) {
		t.Fatalf("GetAll ids = %v", got)
	}
	inst, err := s.Get("dup")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if inst.Raw.Name != "second" {
		t.Errorf("duplicate kept %q, want second", inst.Raw.Name)
	}
}

func TestSetWorkspaceUpsert(t *testing.T) {
	s := New()
	var calls atomic.Int32
	s.Subscribe(func() { calls.Add(1) })

	inst, err := models.NewWorkspaceInstance(remote("new", "new"))
	if err != nil {
		t.Fatalf("NewWorkspaceInstance: %v", err)
	}
	if err := s.SetWorkspace("new", inst); err != nil {
		t.Fatalf("SetWorkspace: %v", err)
	}
	if err := s.SetWorkspace("new", inst); err != nil {
		t.Fatalf("SetWorkspace again: %v", err)
	}
	if s.Len() != 1 || calls.Load() != 2 {
		t.Errorf("Len = %d, notifications = %d", s.Len(), calls.Load())
	}
}

func TestSetWorkspaceValidation(t *testing.T) {
	s := New()
	var calls atomic.Int32
	s.Subscribe(func() { calls.Add(1) })

	inst, _ := models.NewWorkspaceInstance(remote("a", "a"))
	if err := s.SetWorkspace("", inst); !failure.IsValidation(err) {
		t.Errorf("blank id: expected validation failure, got %v", err)
	}
	if err := s.SetWorkspace("b", inst); !failure.IsValidation(err) {
		t.Errorf("mismatched id: expected validation failure, got %v", err)
	}
	if s.Len() != 0 || calls.Load() != 0 {
		t.Errorf("rejected upsert mutated store: len=%d notifications=%d", s.Len(), calls.Load())
	}
}

func TestDelete(t *testing.T) {
	s := New()
	s.SetWorkspaces([]models.RemoteInstance{remote("a", "a"), remote("b", "b")})
	var calls atomic.Int32
	s.Subscribe(func() { calls.Add(1) })

	if !s.Delete("a") {
		t.Fatalf("Delete(a) = false")
	}
	if s.Delete("a") {
		t.Errorf("second Delete(a) = true")
	}
	if got := ids(s.GetAll()); !equal(got, []string{"b"}) {
		t.Errorf("GetAll ids = %v", got)
	}
	if calls.Load() != 1 {
		t.Errorf("notifications = %d, want 1", calls.Load())
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	s := New()
	var a, b atomic.Int32
	unsubA := s.Subscribe(func() { a.Add(1) })
	s.Subscribe(func() { b.Add(1) })

	s.SetWorkspaces(nil)
	unsubA()
	unsubA()
	s.SetWorkspaces(nil)

	if a.Load() != 1 || b.Load() != 2 {
		t.Errorf("a=%d b=%d, want 1 and 2", a.Load(), b.Load())
	}
}

func TestNotificationSeesMutation(t *testing.T) {
	s := New()
	var seen int
	s.Subscribe(func() { seen = s.Len() })

	s.SetWorkspaces([]models.RemoteInstance{remote("a", "a"), remote("b", "b")})
	if seen != 2 {
		t.Errorf("listener saw %d instances, want 2", seen)
	}
}

func TestGetAllReturnsCopy(t *testing.T) {
	s := New()
	s.SetWorkspaces([]models.RemoteInstance{remote("a", "a")})
	all := s.GetAll()
	all[0].ID = "mutated"

	if _, err := s.Get("a"); err != nil {
		t.Errorf("store affected by caller mutation: %v", err)
	}
}
