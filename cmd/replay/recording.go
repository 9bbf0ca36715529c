package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/teslashibe/go-proctor/pkg/landmarks"
	"github.com/teslashibe/go-proctor/pkg/protocol"
)

// maxLine bounds one JSONL record; 478 landmarks fit comfortably.
const maxLine = 1 << 20

var errTimeReversed = errors.New("timestamps must not decrease")

// record is one line of a landmark recording:
//
//	{"t": 0.033, "subject_id": "S1", "landmarks": [[x, y, z], ...]}
//
// t is seconds from the start of the recording. A missing or empty
// landmark list is a frame without a face; any other list must hold a full
// face mesh.
type record struct {
	T         float64      `json:"t"`
	SubjectID string       `json:"subject_id,omitempty"`
	Landmarks [][3]float64 `json:"landmarks,omitempty"`
}

// Offset returns t as a duration.
func (r record) Offset() time.Duration {
	return time.Duration(r.T * float64(time.Second))
}

func (r record) frame() protocol.FrameData {
	return protocol.FrameData{StudentID: r.SubjectID, Landmarks: r.Landmarks}
}

// Set returns the landmarks, nil for a no-face frame.
func (r record) Set() landmarks.Set {
	f := r.frame()
	return f.Set()
}

// readRecording parses a JSONL recording. Blank lines and lines starting with
// '#' are skipped. Records without a subject take defaultSubject. Per-subject
// timestamps must be non-decreasing.
func readRecording(r io.Reader, defaultSubject string) ([]record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	var out []record
	last := make(map[string]float64)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.T < 0 {
			return nil, fmt.Errorf("line %d: negative timestamp %v", line, rec.T)
		}
		if rec.SubjectID == "" {
			rec.SubjectID = defaultSubject
		}
		f := rec.frame()
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if prev, ok := last[rec.SubjectID]; ok && rec.T < prev {
			return nil, fmt.Errorf("line %d: subject %s: %w (%v after %v)", line, rec.SubjectID, errTimeReversed, rec.T, prev)
		}
		last[rec.SubjectID] = rec.T
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return out, nil
}
