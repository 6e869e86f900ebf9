package transcribe

import "testing"

func ptr(f float64) *float64 { return &f }

// TestSegmentsFromWordsGroupsAtSentenceEnds checks punctuation grouping and the trailing group.
func TestSegmentsFromWordsGroupsAtSentenceEnds(t *testing.T) {
	words := []Word{
		{Text: "Hello", Start: 0, End: 0.4, Confidence: ptr(0.8), Speaker: "spk-0"},
		{Text: "there.", Start: 0.4, End: 0.9, Confidence: ptr(1.0), Speaker: "spk-0"},
		{Text: "Ready?", Start: 1.0, End: 1.5, Speaker: "spk-1"},
		{Text: "Go", Start: 2.0, End: 2.2, Speaker: "spk-1"},
		{Text: "now", Start: 2.2, End: 2.6, Speaker: "spk-0"},
	}

	segments := SegmentsFromWords(words)
	if len(segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(segments))
	}

	first := segments[0]
	if first.ID != 1 || first.Text != "Hello there." || first.Start != 0 || first.End != 0.9 {
		t.Fatalf("first = %+v", first)
	}
	if first.Confidence == nil || *first.Confidence != 0.9 {
		t.Fatalf("first confidence = %v, want 0.9", first.Confidence)
	}
	if segments[1].Text != "Ready?" || segments[1].Confidence != nil {
		t.Fatalf("second = %+v", segments[1])
	}
	last := segments[2]
	if last.ID != 3 || last.Text != "Go now" || last.Speaker != "spk-1" || last.End != 2.6 {
		t.Fatalf("trailing = %+v", last)
	}
}

// TestSegmentsFromWordsEmpty returns nothing for no words.
func TestSegmentsFromWordsEmpty(t *testing.T) {
	if got := SegmentsFromWords(nil); len(got) != 0 {
		t.Fatalf("segments = %+v, want none", got)
	}
}

// TestSingleSegmentPlaceholder checks the empty-text placeholder.
func TestSingleSegmentPlaceholder(t *testing.T) {
	segs := SingleSegment("   ", 3)
	if len(segs) != 1 || segs[0].Text != EmptyTranscriptText || segs[0].End != 3 || segs[0].ID != 1 {
		t.Fatalf("segments = %+v", segs)
	}
	if got := SingleSegment(" hi ", -1); got[0].Text != "hi" || got[0].End != 0 {
		t.Fatalf("segments = %+v", got)
	}
}
