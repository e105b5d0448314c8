package members

import (
	"testing"

	"backend-skitrip/internal/presence"
)

func member(id string, a presence.Activity) View {
	return View{ID: id, Name: id, Status: Status{Activity: a, LocationLabel: LocationLabel(a)}, IsSOS: a == presence.ActivitySOS}
}

func TestFirstSOS(t *testing.T) {
	if _, ok := FirstSOS([]View{member("a", presence.ActivityActive)}); ok {
		t.Fatalf("expected no alert")
	}
	v, ok := FirstSOS([]View{member("a", presence.ActivityActive), member("b", presence.ActivitySOS), member("c", presence.ActivitySOS)})
	if !ok || v.ID != "b" {
		t.Fatalf("expected first flagged member, got %+v", v)
	}
}

// Dismissing hides the alert; it does not resolve it.
func TestDismissDoesNotResolve(t *testing.T) {
	m := NewSOSMonitor()
	var raised []string
	cleared := 0
	m.OnRaise(func(v View) { raised = append(raised, v.ID) })
	m.OnClear(func() { cleared++ })

	calm := []View{member("a", presence.ActivityActive)}
	alarm := []View{member("a", presence.ActivityActive), member("b", presence.ActivitySOS)}

	m.Update(calm)
	if _, ok := m.Alert(); ok || m.Active() {
		t.Fatalf("expected no alert")
	}

	m.Update(alarm)
	if v, ok := m.Alert(); !ok || v.ID != "b" {
		t.Fatalf("expected alert for b")
	}
	// a repeated delivery while visible does not raise twice
	m.Update(alarm)
	if len(raised) != 1 {
		t.Fatalf("expected one raise, got %v", raised)
	}

	m.Dismiss()
	if _, ok := m.Alert(); ok {
		t.Fatalf("expected dismissed alert to be hidden")
	}
	if !m.Active() {
		t.Fatalf("dismiss must not clear the condition")
	}

	m.Update(alarm)
	if v, ok := m.Alert(); !ok || v.ID != "b" {
		t.Fatalf("expected alert to reappear for the same member set")
	}
	if len(raised) != 2 {
		t.Fatalf("expected re-raise after dismissal, got %v", raised)
	}

	m.Update(calm)
	if _, ok := m.Alert(); ok || m.Active() {
		t.Fatalf("expected alert cleared once nobody is flagged")
	}
	if cleared != 1 {
		t.Fatalf("expected one clear, got %d", cleared)
	}

	m.Dismiss()
	m.Update(alarm)
	if _, ok := m.Alert(); !ok {
		t.Fatalf("dismiss with no alert must not suppress the next one")
	}
}
