package decoder

import (
	"fmt"
	"sort"

	"github.com/ayusman/aicam/internal/sensor"
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

// Nanodet is the single tensor layout [1, N, Classes + 4*(RegMax+1)] produced by nanodet-plus.
// Each row holds the class scores of one anchor followed by four distance distributions
// (left, top, right, bottom) of RegMax+1 bins each.
type Nanodet struct {
	Classes int
	RegMax  int
	Strides []int
	// InputSize is the side of the square image the anchors are laid out on.
	InputSize int
	// Sigmoid applies a sigmoid to the class scores. Leave it off for exports that already do.
	Sigmoid bool
}

func (Nanodet) isConvention() {}

func (Nanodet) String() string { return "nanodet" }

func (n Nanodet) withDefaults() Nanodet {
	if n.Classes <= 0 {
		n.Classes = 80
	}
	if n.RegMax <= 0 {
		n.RegMax = 7
	}
	if len(n.Strides) == 0 {
		n.Strides = []int{8, 16, 32, 64}
	}
	if n.InputSize <= 0 {
		n.InputSize = 416
	}
	return n
}

type prior struct {
	x, y   float32
	stride float32
}

// priors returns the anchor centers, stride by stride, row by row.
func (n Nanodet) priors() []prior {
	var out []prior
	for _, s := range n.Strides {
		side := (n.InputSize + s - 1) / s
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				out = append(out, prior{x: float32(x * s), y: float32(y * s), stride: float32(s)})
			}
		}
	}
	return out
}

// nanodetBox is a candidate in reference square pixels.
type nanodetBox struct {
	x0, y0, x1, y1 float32
	score          float32
	class          int
}

func (b *nanodetBox) area() float32 {
	return max(b.x1-b.x0, 0) * max(b.y1-b.y0, 0)
}

func (b *nanodetBox) iou(o *nanodetBox) float32 {
	iw := min(b.x1, o.x1) - max(b.x0, o.x0)
	ih := min(b.y1, o.y1) - max(b.y0, o.y0)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := b.area() + o.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func decodeNanodet(out *tensor.Dense, cfg Nanodet, p Params, geom sensor.Geometry) ([]candidate, error) {
	cfg = cfg.withDefaults()
	bins := cfg.RegMax + 1

	rows, cols, err := matrixShape(out)
	if err != nil {
		return nil, err
	}
	if want := cfg.Classes + 4*bins; cols != want {
		return nil, fmt.Errorf("%w: nanodet rows have %d values, want %d", ErrShape, cols, want)
	}
	priors := cfg.priors()
	if rows != len(priors) {
		return nil, fmt.Errorf("%w: nanodet output has %d anchors, want %d", ErrShape, rows, len(priors))
	}
	data, err := float32Data(out)
	if err != nil {
		return nil, err
	}

	side := float32(cfg.InputSize)
	scratch := make([]float32, bins)
	boxes := []nanodetBox{}
	for i, pr := range priors {
		row := data[i*cols : (i+1)*cols]

		class, score := argmax(row[:cfg.Classes])
		if cfg.Sigmoid {
			score = sigmoid(score)
		}
		if !(score > p.Threshold) {
			continue
		}

		var dist [4]float32
		for k := range dist {
			start := cfg.Classes + k*bins
			dist[k] = integral(row[start:start+bins], scratch) * pr.stride
		}
		boxes = append(boxes, nanodetBox{
			x0:    clampf(pr.x-dist[0], 0, side),
			y0:    clampf(pr.y-dist[1], 0, side),
			x1:    clampf(pr.x+dist[2], 0, side),
			y1:    clampf(pr.y+dist[3], 0, side),
			score: score,
			class: class,
		})
	}

	kept := nms(boxes, p.IoUThreshold, p.MaxDetections)

	// Normalize to the reference square, then scale to the model input.
	sx := float32(geom.Width) / side
	sy := float32(geom.Height) / side
	cands := make([]candidate, len(kept))
	for i, b := range kept {
		cands[i] = candidate{
			coords: sensor.Coords{b.y0 * sy, b.x0 * sx, b.y1 * sy, b.x1 * sx},
			score:  b.score,
			class:  b.class,
		}
	}
	return cands, nil
}

// nms runs class-aware non-maximum suppression and returns at most limit boxes,
// highest score first.
func nms(boxes []nanodetBox, iouThreshold float32, limit int) []nanodetBox {
	if len(boxes) == 0 {
		return nil
	}
	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].score > boxes[j].score
	})

	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(boxes))
	for i := range boxes {
		b := &boxes[i]
		fb.Add(int32(math32.Floor(b.x0)), int32(math32.Floor(b.y0)), int32(math32.Ceil(b.x1)), int32(math32.Ceil(b.y1)))
	}
	fb.Finish()

	suppressed := make([]bool, len(boxes))
	kept := []nanodetBox{}
	for i := range boxes {
		if suppressed[i] {
			continue
		}
		if limit > 0 && len(kept) == limit {
			break
		}
		b := &boxes[i]
		kept = append(kept, *b)
		for _, hit := range fb.Search(int32(math32.Floor(b.x0)), int32(math32.Floor(b.y0)), int32(math32.Ceil(b.x1)), int32(math32.Ceil(b.y1))) {
			j := int(hit)
			if j <= i || suppressed[j] || boxes[j].class != b.class {
				continue
			}
			if b.iou(&boxes[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func argmax(v []float32) (int, float32) {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best, v[best]
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// integral is the expected bin index under a softmax over logits.
func integral(logits, scratch []float32) float32 {
	hi := logits[0]
	for _, l := range logits[1:] {
		hi = max(hi, l)
	}
	var sum float32
	for i, l := range logits {
		scratch[i] = math32.Exp(l - hi)
		sum += scratch[i]
	}
	var e float32
	for i := range logits {
		e += float32(i) * scratch[i] / sum
	}
	return e
}

func clampf(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
