package members

import "sync"

// FirstSOS returns the first member flagged SOS, in list order.
func FirstSOS(views []View) (View, bool) {
	for _, v := range views {
		if v.IsSOS {
			return v, true
		}
	}
	return View{}, false
}

// SOSMonitor turns member lists into the blocking group alert. Dismiss only
// hides the alert on screen; the next Update re-raises it while any member
// is still flagged.
type SOSMonitor struct {
	mu        sync.Mutex
	alert     *View
	dismissed bool
	onRaise   func(View)
	onClear   func()
}

func NewSOSMonitor() *SOSMonitor {
	return &SOSMonitor{}
}

// OnRaise is called whenever an alert becomes visible.
func (m *SOSMonitor) OnRaise(fn func(View)) {
	m.mu.Lock()
	m.onRaise = fn
	m.mu.Unlock()
}

// OnClear is called when no member is flagged anymore.
func (m *SOSMonitor) OnClear(fn func()) {
	m.mu.Lock()
	m.onClear = fn
	m.mu.Unlock()
}

// Update recomputes the alert from a fresh member list.
func (m *SOSMonitor) Update(views []View) {
	v, ok := FirstSOS(views)

	m.mu.Lock()
	var raise func(View)
	var cleared func()
	switch {
	case ok:
		if m.alert == nil || m.dismissed || m.alert.ID != v.ID {
			raise = m.onRaise
		}
		m.alert = &v
		m.dismissed = false
	case m.alert != nil:
		m.alert = nil
		m.dismissed = false
		cleared = m.onClear
	}
	m.mu.Unlock()

	if raise != nil {
		raise(v)
	}
	if cleared != nil {
		cleared()
	}
}

// Dismiss hides the visible alert.
func (m *SOSMonitor) Dismiss() {
	m.mu.Lock()
	if m.alert != nil {
		m.dismissed = true
	}
	m.mu.Unlock()
}

// Alert returns the alert to display, if any.
func (m *SOSMonitor) Alert() (View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alert == nil || m.dismissed {
		return View{}, false
	}
	return *m.alert, true
}

// Active reports whether some member is flagged, dismissed or not.
func (m *SOSMonitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alert != nil
}
