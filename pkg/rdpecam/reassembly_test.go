package rdpecam

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildFramedRun(pts uint32, keyframe bool, payload []byte) []byte {
	header := make([]byte, ReassemblyHeaderLen)
	header[0] = ReassemblyVersion
	if keyframe {
		header[1] = KeyframeFlagBit
	}
	binary.LittleEndian.PutUint32(header[4:8], pts)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	return append(header, payload...)
}

func TestReassemblerSingleCompletePush(t *testing.T) {
	var gotPayload []byte
	var gotPTS uint32
	var gotKeyframe bool

	r := NewReassembler(1<<20, nil, func(payload []byte, pts uint32, keyframe bool) {
		gotPayload = append([]byte{}, payload...)
		gotPTS = pts
		gotKeyframe = keyframe
	})

	run := buildFramedRun(12345, true, []byte("Annex-B NAL unit"))
	r.Push(run)

	if !bytes.Equal(gotPayload, []byte("Annex-B NAL unit")) {
		t.Errorf("payload = %q, want %q", gotPayload, "Annex-B NAL unit")
	}
	if gotPTS != 12345 {
		t.Errorf("pts = %d, want 12345", gotPTS)
	}
	if !gotKeyframe {
		t.Error("keyframe = false, want true")
	}
}

func TestReassemblerByteAtATime(t *testing.T) {
	var frames [][]byte
	r := NewReassembler(1<<20, nil, func(payload []byte, _ uint32, _ bool) {
		frames = append(frames, append([]byte{}, payload...))
	})

	run := buildFramedRun(0, false, []byte("fragmented"))
	for _, b := range run {
		r.Push([]byte{b})
	}

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], []byte("fragmented")) {
		t.Errorf("frame = %q, want %q", frames[0], "fragmented")
	}
}

func TestReassemblerMultipleFramesInOnePush(t *testing.T) {
	var frames [][]byte
	r := NewReassembler(1<<20, nil, func(payload []byte, _ uint32, _ bool) {
		frames = append(frames, append([]byte{}, payload...))
	})

	run := append(buildFramedRun(1, true, []byte("first")), buildFramedRun(2, false, []byte("second"))...)
	r.Push(run)

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if string(frames[0]) != "first" || string(frames[1]) != "second" {
		t.Errorf("frames = %q, want [first second]", frames)
	}
}

func TestReassemblerCorruptVersionDiscardsRun(t *testing.T) {
	var frames [][]byte
	r := NewReassembler(1<<20, nil, func(payload []byte, _ uint32, _ bool) {
		frames = append(frames, payload)
	})

	run := buildFramedRun(0, false, []byte("payload"))
	run[0] = 0xFF // invalid version

	r.Push(run)
	if len(frames) != 0 {
		t.Error("onFrame called after corrupt header, want no call")
	}

	// Reassembler should resync cleanly on the next push.
	r.Push(buildFramedRun(0, false, []byte("clean")))
	if len(frames) != 1 || string(frames[0]) != "clean" {
		t.Errorf("post-corruption frames = %q, want [clean]", frames)
	}
}

func TestReassemblerOversizePayloadDiscards(t *testing.T) {
	var called bool
	r := NewReassembler(4, nil, func([]byte, uint32, bool) { called = true })

	r.Push(buildFramedRun(0, false, []byte("toolong")))
	if called {
		t.Error("onFrame called for oversize payload, want no call")
	}
}
