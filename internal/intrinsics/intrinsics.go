// Package intrinsics describes the per-model configuration bundle that ships with a network:
// what task it performs, how its outputs are laid out, and which labels it uses.
package intrinsics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TaskObjectDetection is the only task this program can run.
const TaskObjectDetection = "object detection"

// PostprocessNanodet selects the single-tensor nanodet output convention.
// Any other value selects the generic three-array convention.
const PostprocessNanodet = "nanodet"

// ErrNotObjectDetection is returned when the network performs some other task.
var ErrNotObjectDetection = errors.New("network is not an object detection task")

// Intrinsics is the configuration bundle supplied alongside a model.
type Intrinsics struct {
	Task                string   `json:"task"`
	Postprocess         string   `json:"postprocess,omitempty"`
	BBoxNormalization   bool     `json:"bbox_normalization,omitempty"`
	PreserveAspectRatio bool     `json:"preserve_aspect_ratio,omitempty"`
	IgnoreDashLabels    bool     `json:"ignore_dash_labels,omitempty"`
	Labels              []string `json:"labels,omitempty"`

	// Fields below describe the model to a host-side accelerator.
	InputWidth     int      `json:"input_width,omitempty"`
	InputHeight    int      `json:"input_height,omitempty"`
	OutputNames    []string `json:"output_names,omitempty"`
	NanodetClasses int      `json:"nanodet_classes,omitempty"`
	NanodetRegMax  int      `json:"nanodet_reg_max,omitempty"`
	NanodetStrides []int    `json:"nanodet_strides,omitempty"`
	NanodetSigmoid bool     `json:"nanodet_sigmoid,omitempty"`
}

// Default returns the bundle used when a model carries no intrinsics of its own.
func Default() *Intrinsics {
	return &Intrinsics{
		Task: TaskObjectDetection,
	}
}

// Load reads intrinsics from a JSON file. A missing file is not an error: the
// defaults are returned instead, the same as a model that ships without intrinsics.
func Load(filename string) (*Intrinsics, error) {
	b, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	in := &Intrinsics{}
	if err := json.Unmarshal(b, in); err != nil {
		return nil, fmt.Errorf("parse intrinsics %s: %w", filename, err)
	}
	return in, nil
}

// Validate checks that the network can be used for object detection.
func (in *Intrinsics) Validate() error {
	if in.Task != TaskObjectDetection {
		return fmt.Errorf("%w (task %q)", ErrNotObjectDetection, in.Task)
	}
	return nil
}

// IsNanodet reports whether the network uses the nanodet output convention.
func (in *Intrinsics) IsNanodet() bool {
	return strings.EqualFold(in.Postprocess, PostprocessNanodet)
}

// UpdateWithDefaults fills in unset host-side fields.
func (in *Intrinsics) UpdateWithDefaults() {
	if in.InputWidth <= 0 {
		in.InputWidth = 320
	}
	if in.InputHeight <= 0 {
		in.InputHeight = 320
	}
	if in.IsNanodet() {
		if in.NanodetClasses <= 0 {
			in.NanodetClasses = 80
		}
		if in.NanodetRegMax <= 0 {
			in.NanodetRegMax = 7
		}
		if len(in.NanodetStrides) == 0 {
			in.NanodetStrides = []int{8, 16, 32, 64}
		}
	}
}

// EnsureLabels loads labels from labelFile when the intrinsics carry none.
// A missing label file is returned as an error; there is no further fallback.
func (in *Intrinsics) EnsureLabels(load func(filename string) ([]string, error), labelFile string) error {
	if in.Labels != nil {
		return nil
	}
	labels, err := load(labelFile)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	in.Labels = labels
	return nil
}
