package store

import (
	"errors"
	"testing"
	"time"
)

func TestFrameRepository_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Frames()

	frame := &Frame{
		Path:       "data/images/2024-03-09/14-05-07.123456.jpg",
		Sequence:   42,
		CapturedAt: time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC),
		Detections: []Detection{
			{Category: 0, Label: "person", Confidence: 0.91, X: 10, Y: 20, Width: 30, Height: 40},
			{Category: 2, Label: "car", Confidence: 0.6, X: 1, Y: 2, Width: 3, Height: 4},
		},
	}
	if err := repo.Create(frame); err != nil {
		t.Fatalf("failed to create frame: %v", err)
	}
	if frame.ID == "" {
		t.Fatal("Create should assign an ID")
	}

	got, err := repo.GetByID(frame.ID)
	if err != nil {
		t.Fatalf("failed to get frame: %v", err)
	}
	if got.Path != frame.Path {
		t.Errorf("Path = %q, want %q", got.Path, frame.Path)
	}
	if got.Sequence != 42 {
		t.Errorf("Sequence = %d, want 42", got.Sequence)
	}
	if !got.CapturedAt.Equal(frame.CapturedAt) {
		t.Errorf("CapturedAt = %v, want %v", got.CapturedAt, frame.CapturedAt)
	}
	if len(got.Detections) != 2 {
		t.Fatalf("len(Detections) = %d, want 2", len(got.Detections))
	}
	if got.Detections[0] != frame.Detections[0] {
		t.Errorf("Detections[0] = %+v, want %+v", got.Detections[0], frame.Detections[0])
	}
}

func TestFrameRepository_GetByID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Frames().GetByID("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestFrameRepository_List(t *testing.T) {
	s := newTestStore(t)
	repo := s.Frames()

	base := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := repo.Create(&Frame{
			Path:       "frame.jpg",
			Sequence:   uint64(i),
			CapturedAt: base.Add(time.Duration(i) * time.Second),
			Detections: []Detection{{Label: "person", Confidence: 0.9}},
		})
		if err != nil {
			t.Fatalf("failed to create frame %d: %v", i, err)
		}
	}

	tests := []struct {
		name      string
		limit     int
		wantCount int
		wantFirst uint64
	}{
		{"limited", 2, 2, 4},
		{"unlimited", 0, 5, 4},
		{"limit above count", 10, 5, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := repo.List(tt.limit)
			if err != nil {
				t.Fatalf("List() error: %v", err)
			}
			if len(frames) != tt.wantCount {
				t.Fatalf("len(List()) = %d, want %d", len(frames), tt.wantCount)
			}
			if frames[0].Sequence != tt.wantFirst {
				t.Errorf("first frame sequence = %d, want %d (newest first)", frames[0].Sequence, tt.wantFirst)
			}
			if len(frames[0].Detections) != 1 {
				t.Errorf("frames should carry their detections")
			}
		})
	}
}

func TestFrameRepository_LabelCounts(t *testing.T) {
	s := newTestStore(t)
	repo := s.Frames()

	frames := [][]string{
		{"person", "car"},
		{"person"},
		{"dog", "person"},
	}
	for _, labels := range frames {
		f := &Frame{Path: "x.jpg"}
		for _, l := range labels {
			f.Detections = append(f.Detections, Detection{Label: l, Confidence: 0.7})
		}
		if err := repo.Create(f); err != nil {
			t.Fatalf("failed to create frame: %v", err)
		}
	}

	counts, err := repo.LabelCounts()
	if err != nil {
		t.Fatalf("LabelCounts() error: %v", err)
	}
	want := []LabelCount{{"person", 3}, {"car", 1}, {"dog", 1}}
	if len(counts) != len(want) {
		t.Fatalf("LabelCounts() = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("LabelCounts()[%d] = %v, want %v", i, counts[i], want[i])
		}
	}
}

func TestFrameRepository_DeleteCascades(t *testing.T) {
	s := newTestStore(t)
	repo := s.Frames()

	f := &Frame{Path: "x.jpg", Detections: []Detection{{Label: "cat", Confidence: 0.8}}}
	if err := repo.Create(f); err != nil {
		t.Fatalf("failed to create frame: %v", err)
	}

	if err := repo.Delete(f.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM detections").Scan(&n); err != nil {
		t.Fatalf("count detections: %v", err)
	}
	if n != 0 {
		t.Errorf("detections left after delete = %d, want 0", n)
	}

	if err := repo.Delete(f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}
