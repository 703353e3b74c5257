package control

import "time"

// State is the compiler panel as both peers see it, plus the attention
// alerts raised by the remote peer.
type State struct {
	CompilerOpen  bool
	Tab           string
	LanguageID    int
	LanguageLabel string
	Output        string
	Running       bool

	HiddenAlerts int
	BlurAlerts   int
	LastAlert    time.Time
}

// Apply folds m into the state. Local and remote messages go through the
// same path so both sides converge.
func (s *State) Apply(m Message, now time.Time) {
	switch v := m.(type) {
	case Toggle:
		s.CompilerOpen = v.Open
	case Tab:
		s.Tab = v.Tab
	case Language:
		s.LanguageID = v.LanguageID
		s.LanguageLabel = v.Label
	case Output:
		s.Output = v.Output
	case Running:
		s.Running = v.Running
	case Hidden:
		s.HiddenAlerts++
		s.LastAlert = now
	case Blur:
		s.BlurAlerts++
		s.LastAlert = now
	}
}

// Local reports whether m only describes the sender. Attention alerts are
// never applied to the sender's own state.
func Local(m Message) bool {
	switch m.(type) {
	case Hidden, Blur:
		return false
	}
	return true
}
