package intrinsics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	in, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, TaskObjectDetection, in.Task)
	assert.NoError(t, in.Validate())
}

func TestLoad_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	body := `{
		"task": "object detection",
		"postprocess": "nanodet",
		"bbox_normalization": true,
		"preserve_aspect_ratio": true,
		"ignore_dash_labels": true,
		"labels": ["person", "-", "car"],
		"input_width": 416,
		"input_height": 416
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	in, err := Load(path)
	require.NoError(t, err)
	assert.True(t, in.IsNanodet())
	assert.True(t, in.BBoxNormalization)
	assert.True(t, in.PreserveAspectRatio)
	assert.True(t, in.IgnoreDashLabels)
	assert.Equal(t, []string{"person", "-", "car"}, in.Labels)
	assert.Equal(t, 416, in.InputWidth)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    string
		wantErr bool
	}{
		{"object detection", TaskObjectDetection, false},
		{"classification", "classification", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Intrinsics{Task: tt.task}).Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrNotObjectDetection), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateWithDefaults(t *testing.T) {
	in := &Intrinsics{Task: TaskObjectDetection, Postprocess: "NanoDet"}
	in.UpdateWithDefaults()

	assert.Equal(t, 320, in.InputWidth)
	assert.Equal(t, 320, in.InputHeight)
	assert.Equal(t, 80, in.NanodetClasses)
	assert.Equal(t, 7, in.NanodetRegMax)
	assert.Equal(t, []int{8, 16, 32, 64}, in.NanodetStrides)

	generic := &Intrinsics{Task: TaskObjectDetection, InputWidth: 640, InputHeight: 480}
	generic.UpdateWithDefaults()
	assert.Equal(t, 640, generic.InputWidth)
	assert.Zero(t, generic.NanodetClasses, "generic models get no nanodet defaults")
}

func TestEnsureLabels(t *testing.T) {
	t.Run("keeps embedded labels", func(t *testing.T) {
		in := &Intrinsics{Labels: []string{"a"}}
		called := false
		err := in.EnsureLabels(func(string) ([]string, error) {
			called = true
			return nil, nil
		}, "unused.txt")
		require.NoError(t, err)
		assert.False(t, called)
		assert.Equal(t, []string{"a"}, in.Labels)
	})

	t.Run("falls back to label file", func(t *testing.T) {
		in := &Intrinsics{}
		err := in.EnsureLabels(func(name string) ([]string, error) {
			assert.Equal(t, "assets/coco_labels.txt", name)
			return []string{"person", "bicycle"}, nil
		}, "assets/coco_labels.txt")
		require.NoError(t, err)
		assert.Equal(t, []string{"person", "bicycle"}, in.Labels)
	})

	t.Run("missing label file is an error", func(t *testing.T) {
		in := &Intrinsics{}
		err := in.EnsureLabels(func(string) ([]string, error) {
			return nil, os.ErrNotExist
		}, "nope.txt")
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
}
