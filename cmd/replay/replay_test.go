package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-proctor/pkg/behavior"
	"github.com/teslashibe/go-proctor/pkg/geometry"
	"github.com/teslashibe/go-proctor/pkg/landmarks"
	"github.com/teslashibe/go-proctor/pkg/protocol"
	"github.com/teslashibe/go-proctor/pkg/violation"
)

func TestReadRecording(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantLen   int
		wantErr   error
		errSubstr string
	}{
		{"empty", "", 0, nil, ""},
		{"comments and blanks", "# header\n\n{\"t\":0}\n", 1, nil, ""},
		{"two subjects", `{"t":0,"subject_id":"A"}` + "\n" + `{"t":0.5,"subject_id":"B"}` + "\n" + `{"t":0.2,"subject_id":"A"}`, 3, nil, ""},
		{"reversed", "{\"t\":1}\n{\"t\":0.5}\n", 0, errTimeReversed, "line 2"},
		{"negative", "{\"t\":-1}\n", 0, nil, "negative timestamp"},
		{"bad json", "{\"t\":0}\nnot json\n", 0, nil, "line 2"},
		{"short landmark list", "{\"t\":0}\n{\"t\":0.1,\"landmarks\":[[0,0,0],[1,1,1],[2,2,2]]}\n", 0, protocol.ErrBadFrame, "line 2"},
		{"full mesh", recordLine(t, record{T: 0.5, Landmarks: mesh(0)}), 1, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := readRecording(strings.NewReader(tt.input), "S1")
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.errSubstr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errSubstr) {
					t.Fatalf("error = %v, want it to contain %q", err, tt.errSubstr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(recs) != tt.wantLen {
				t.Errorf("got %d records, want %d", len(recs), tt.wantLen)
			}
		})
	}
}

// mesh returns a full face mesh whose first point carries the pitch.
func mesh(pitch float64) [][3]float64 {
	pts := make([][3]float64, landmarks.MeshSize)
	pts[0][0] = pitch
	return pts
}

func recordLine(t *testing.T, r record) string {
	t.Helper()
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(data) + "\n"
}

func TestRecord(t *testing.T) {
	first := mesh(0.1)
	first[0] = [3]float64{0.1, 0.2, 0.3}
	input := recordLine(t, record{T: 1.25, Landmarks: first}) + `{"t":1.5,"landmarks":[]}`
	recs, err := readRecording(strings.NewReader(input), "S9")
	if err != nil {
		t.Fatal(err)
	}
	if recs[0].SubjectID != "S9" {
		t.Errorf("default subject not applied: %q", recs[0].SubjectID)
	}
	if recs[0].Offset() != 1250*time.Millisecond {
		t.Errorf("Offset() = %v", recs[0].Offset())
	}
	if set := recs[0].Set(); len(set) != landmarks.MeshSize || set[0] != (landmarks.Point{X: 0.1, Y: 0.2, Z: 0.3}) {
		t.Errorf("Set() = %v", set)
	}
	if recs[1].Set() != nil {
		t.Error("empty landmarks should be a no-face frame")
	}
}

type pitchExtractor struct{}

// Extract reads the pitch from the first landmark's X.
func (pitchExtractor) Extract(set landmarks.Set) (geometry.Features, geometry.Gaze) {
	return geometry.Features{Pitch: set[0].X, EyeRatio: 0.5}, geometry.Gaze{}
}

func headDownRecording(subject string, frames int) []record {
	recs := make([]record, frames)
	for i := range recs {
		recs[i] = record{
			T:         float64(i) / 10,
			SubjectID: subject,
			Landmarks: mesh(30),
		}
	}
	return recs
}

func TestReplay_Timeline(t *testing.T) {
	c, err := behavior.NewClassifier(behavior.NewMockModel(behavior.Normal, 0.7, 0.05, 0.05, 0.2), behavior.DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	r := &replayer{
		extractor:  pitchExtractor{},
		classifier: c,
		vcfg:       violation.DefaultConfig(),
		opts:       options{exam: "MATH101", out: &out},
	}

	// 0.0s through 2.1s of sustained head-down, plus a no-face frame.
	recs := append([]record{{T: 0, SubjectID: "S2"}}, headDownRecording("S1", 22)...)
	sum, err := r.replay(context.Background(), recs)
	if err != nil {
		t.Fatalf("replay() error = %v", err)
	}

	if sum.frames != 23 || sum.noFace != 1 {
		t.Errorf("frames = %d noFace = %d", sum.frames, sum.noFace)
	}
	if len(sum.violations) != 1 {
		t.Fatalf("got %d violations, want 1", len(sum.violations))
	}
	v := sum.violations[0]
	if v.Label != behavior.HeadDown || v.SubjectID != "S1" || v.ExamCode != "MATH101" {
		t.Errorf("violation = %+v", v)
	}
	if got := v.EmittedAt.Sub(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)); got != 2*time.Second {
		t.Errorf("emitted at +%v, want +2s", got)
	}
	if !strings.Contains(out.String(), "2.000s S1") {
		t.Errorf("output should report the event at 2.0s:\n%s", out.String())
	}

	out.Reset()
	sum.print(&out)
	if !strings.Contains(out.String(), "23 frames") || !strings.Contains(out.String(), fmt.Sprintf("%-13s %d", "Head Down", 1)) {
		t.Errorf("summary:\n%s", out.String())
	}
}

func TestReplay_Cancelled(t *testing.T) {
	c, _ := behavior.NewClassifier(behavior.NewMockModel(behavior.Normal), behavior.DefaultThresholds())
	r := &replayer{
		extractor:  pitchExtractor{},
		classifier: c,
		vcfg:       violation.DefaultConfig(),
		opts:       options{out: &bytes.Buffer{}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.replay(ctx, headDownRecording("S1", 3)); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
