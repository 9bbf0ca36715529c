package violation

import (
	"time"

	"github.com/teslashibe/go-proctor/pkg/behavior"
)

type entry struct {
	label behavior.Label
	at    time.Time
}

// labelRing is a fixed-capacity FIFO of timestamped labels.
type labelRing struct {
	buf  []entry
	head int // index of the oldest entry
	n    int
}

func newLabelRing(capacity int) *labelRing {
	return &labelRing{buf: make([]entry, capacity)}
}

// push appends an entry, evicting the oldest when full.
func (r *labelRing) push(l behavior.Label, at time.Time) {
	e := entry{label: l, at: at}
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
}

func (r *labelRing) len() int { return r.n }

func (r *labelRing) full() bool { return r.n == len(r.buf) }

// at returns the i-th entry, oldest first.
func (r *labelRing) at(i int) entry {
	return r.buf[(r.head+i)%len(r.buf)]
}

// oldest returns the first entry. Only valid when len() > 0.
func (r *labelRing) oldest() entry {
	return r.at(0)
}

// last returns the newest label.
func (r *labelRing) last() (behavior.Label, bool) {
	if r.n == 0 {
		return behavior.Normal, false
	}
	return r.at(r.n - 1).label, true
}

// labels returns the labels oldest first.
func (r *labelRing) labels() []behavior.Label {
	out := make([]behavior.Label, r.n)
	for i := range out {
		out[i] = r.at(i).label
	}
	return out
}

func (r *labelRing) clear() {
	r.head = 0
	r.n = 0
}
