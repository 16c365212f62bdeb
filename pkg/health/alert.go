package health

// AlertGate decides whether the user may be shown a "service stopped"
// alert. At most one alert is shown per RUNNING session; the lifetime
// count records how often one was shown.
//
// The gate shares the Machine's lock and persistence queue, so gate and
// state writes are persisted in the order they were made.
type AlertGate struct {
	m *Machine
}

// CanShowStoppedAlert reports whether the state is Running and no alert
// has been shown since the last Reset.
func (g *AlertGate) CanShowStoppedAlert() bool {
	g.m.mu.RLock()
	defer g.m.mu.RUnlock()
	return g.m.state.IsRunning() && !g.m.shown
}

// MarkShown records that an alert was shown. It only takes effect while
// Running and returns false otherwise.
func (g *AlertGate) MarkShown() bool {
	m := g.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.IsRunning() {
		m.warn("stopped alert marked while not running", "state", m.state.String())
		return false
	}
	m.shown = true
	m.count++
	m.enqueue(m.gateValues(), nil)
	return true
}

// Reset clears the shown flag. Called on user restart and app open.
func (g *AlertGate) Reset() {
	m := g.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shown = false
	m.enqueue(m.gateValues(), nil)
}

// Shown reports whether an alert has been shown this session.
func (g *AlertGate) Shown() bool {
	g.m.mu.RLock()
	defer g.m.mu.RUnlock()
	return g.m.shown
}

// StoppedCount returns how many alerts have been shown in total.
func (g *AlertGate) StoppedCount() int64 {
	g.m.mu.RLock()
	defer g.m.mu.RUnlock()
	return g.m.count
}
