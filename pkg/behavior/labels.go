// Package behavior classifies per-frame facial geometry into a behavior
// label using an ordered list of deterministic rules that falls back to a
// trained multi-class model.
package behavior

import (
	"fmt"
	"strconv"
	"strings"
)

// Label is a behavior class. Values match the trained model's class order
// and must not be renumbered.
type Label int

const (
	Normal       Label = 0
	LookingLeft  Label = 1
	LookingRight Label = 2
	HeadDown     Label = 3
	Talking      Label = 4
)

// NumLabels is the number of defined labels.
const NumLabels = 5

var labelNames = [NumLabels]string{"NORMAL", "LOOKING_LEFT", "LOOKING_RIGHT", "HEAD_DOWN", "TALKING"}

var labelMessages = [NumLabels]string{"Normal", "Looking Left", "Looking Right", "Head Down", "Talking"}

// AllLabels returns every label in class order.
func AllLabels() []Label {
	return []Label{Normal, LookingLeft, LookingRight, HeadDown, Talking}
}

// Valid reports whether l is a defined label.
func (l Label) Valid() bool {
	return l >= 0 && l < NumLabels
}

// String returns the upper-case constant name, e.g. "HEAD_DOWN".
func (l Label) String() string {
	if !l.Valid() {
		return "UNKNOWN(" + strconv.Itoa(int(l)) + ")"
	}
	return labelNames[l]
}

// Message returns the human readable name shown to proctors.
func (l Label) Message() string {
	if !l.Valid() {
		return "Unknown"
	}
	return labelMessages[l]
}

// IsViolation reports whether the label counts toward a violation.
func (l Label) IsViolation() bool {
	return l != Normal
}

// ParseLabel accepts a constant name ("HEAD_DOWN", case-insensitive), a
// message ("Head Down") or the integer value ("3").
func ParseLabel(s string) (Label, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		l := Label(n)
		if !l.Valid() {
			return 0, fmt.Errorf("behavior: unknown label %d", n)
		}
		return l, nil
	}
	for i := 0; i < NumLabels; i++ {
		if strings.EqualFold(s, labelNames[i]) || strings.EqualFold(s, labelMessages[i]) {
			return Label(i), nil
		}
	}
	return 0, fmt.Errorf("behavior: unknown label %q", s)
}
