package detection

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetection_MarshalJSON(t *testing.T) {
	d := New(Box{X: 10, Y: 20, Width: 30, Height: 40}, 3, 0.875)

	b, err := json.Marshal(d)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(b, &generic))

	box, ok := generic["box"].([]any)
	require.True(t, ok, "box should decode as a JSON array, got %T", generic["box"])
	require.Len(t, box, 4)
	for i, want := range []float64{10, 20, 30, 40} {
		assert.Equal(t, want, box[i])
	}

	category, ok := generic["category"].(float64)
	require.True(t, ok, "category should be a JSON number, got %T", generic["category"])
	assert.Equal(t, 3.0, category)

	conf, ok := generic["conf"].(float64)
	require.True(t, ok, "conf should be a JSON number, got %T", generic["conf"])
	assert.InDelta(t, 0.875, conf, 1e-6)
}

func TestDetection_UnmarshalJSON(t *testing.T) {
	var d Detection
	require.NoError(t, json.Unmarshal([]byte(`{"box":[1,2,3,4],"category":7,"conf":0.5}`), &d))

	assert.Equal(t, Box{X: 1, Y: 2, Width: 3, Height: 4}, d.Box())
	assert.Equal(t, 7, d.Category())
	assert.InDelta(t, 0.5, d.Confidence(), 1e-6)
}

func TestBox_Edges(t *testing.T) {
	tests := []struct {
		name      string
		box       Box
		wantX2    int
		wantY2    int
		wantArea  int
		wantEmpty bool
	}{
		{"regular", Box{X: 5, Y: 6, Width: 10, Height: 20}, 15, 26, 200, false},
		{"zero width", Box{X: 5, Y: 6, Width: 0, Height: 20}, 5, 26, 0, true},
		{"negative height", Box{X: 0, Y: 0, Width: 3, Height: -1}, 3, -1, -3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantX2, tt.box.X2())
			assert.Equal(t, tt.wantY2, tt.box.Y2())
			assert.Equal(t, tt.wantArea, tt.box.Area())
			assert.Equal(t, tt.wantEmpty, tt.box.Empty())
		})
	}
}

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.json")
	dets := []Detection{
		New(Box{X: 1, Y: 1, Width: 2, Height: 2}, 0, 0.9),
		New(Box{X: 3, Y: 3, Width: 4, Height: 4}, 2, 0.6),
	}

	require.NoError(t, WriteJSONFile(path, dets))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var back []Detection
	require.NoError(t, json.Unmarshal(b, &back))
	require.Len(t, back, 2)
	assert.Equal(t, dets[1].Box(), back[1].Box())
	assert.Equal(t, 2, back[1].Category())
}

func TestLatest(t *testing.T) {
	l := NewLatest()
	assert.Nil(t, l.Load(), "empty holder should load nil")

	first := []Detection{New(Box{Width: 1, Height: 1}, 1, 0.7)}
	l.Store(first)
	got := l.Load()
	require.Len(t, got, 1)
	assert.Same(t, &first[0], &got[0], "Load should return the stored slice, not a copy")

	second := []Detection{}
	l.Store(second)
	assert.Empty(t, l.Load())
}

func TestLatest_ConcurrentReaders(t *testing.T) {
	l := NewLatest()
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				dets := l.Load()
				// Each stored list is internally consistent: every entry carries the same category.
				for _, d := range dets {
					if d.Category() != dets[0].Category() {
						t.Errorf("torn read: %v", dets)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		l.Store([]Detection{
			New(Box{Width: 1, Height: 1}, i, 0.9),
			New(Box{Width: 2, Height: 2}, i, 0.8),
		})
	}
	wg.Wait()
}
