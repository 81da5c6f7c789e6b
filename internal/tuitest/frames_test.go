package tuitest

import (
	"bytes"
	"testing"
)

func TestParseFramesSplitsOnClear(t *testing.T) {
	raw := []byte("\x1b[2J\x1b[H\x1b[1mPage 1 of 2\x1b[0m   \r\n\x1b[2J\x1b[HPage 2 of 2\r\n\r\n")
	frames := parseFrames(raw)
	if len(frames) != 2 {
		t.Fatalf("frames = %d", len(frames))
	}
	if frames[0].Plain != "Page 1 of 2" || frames[1].Plain != "Page 2 of 2" {
		t.Fatalf("plain = %q, %q", frames[0].Plain, frames[1].Plain)
	}
	rec := &Recording{Raw: raw, Frames: frames}
	if f, ok := rec.LastFrameContaining("Page 1"); !ok || f.Index != 0 {
		t.Fatalf("LastFrameContaining = %+v %v", f, ok)
	}
	if !rec.Contains("Page 2 of 2") || rec.Contains("Page 3") {
		t.Fatal("Contains mismatch")
	}
}

func TestTerminalResponderAnswersQueriesInOrder(t *testing.T) {
	var out bytes.Buffer
	tr := newTerminalResponder(&out)
	tr.Process([]byte("\x1b]11;?\x07junk\x1b["))
	tr.Process([]byte("6n"))
	want := "\x1b]11;rgb:0000/0000/0000\x07\x1b[1;1R"
	if out.String() != want {
		t.Fatalf("replies = %q, want %q", out.String(), want)
	}
}
