package classify

import (
	"image"
	"math"
	"math/rand"

	"github.com/webdevavi/aureus/internal/imaging"
)

const (
	kmeansK        = 5
	kmeansSide     = 64
	kmeansIters    = 10
	kmeansAttempts = 5
	kmeansSeed     = 42
)

// ColorVariety clusters a 64×64 RGB thumbnail into five colors and returns the
// share of clusters that end up owning pixels.
func ColorVariety(img image.Image) float64 {
	thumb := imaging.Resize(img, kmeansSide, kmeansSide)
	pts := make([][3]float64, 0, kmeansSide*kmeansSide)
	for i := 0; i+3 < len(thumb.Pix); i += 4 {
		pts = append(pts, [3]float64{float64(thumb.Pix[i]), float64(thumb.Pix[i+1]), float64(thumb.Pix[i+2])})
	}
	labels := kmeans(pts, kmeansK, kmeansIters, kmeansAttempts, rand.New(rand.NewSource(kmeansSeed)))
	used := map[int]struct{}{}
	for _, l := range labels {
		used[l] = struct{}{}
	}
	return float64(len(used)) / kmeansK
}

// kmeans keeps the most compact of several randomly seeded runs.
func kmeans(pts [][3]float64, k, iters, attempts int, rng *rand.Rand) []int {
	if len(pts) == 0 {
		return nil
	}
	var (
		best        []int
		bestCompact = math.Inf(1)
	)
	for a := 0; a < attempts; a++ {
		centers := make([][3]float64, k)
		for c := range centers {
			centers[c] = pts[rng.Intn(len(pts))]
		}
		labels := make([]int, len(pts))
		for it := 0; it < iters; it++ {
			changed := assign(pts, centers, labels)
			update(pts, centers, labels)
			if !changed && it > 0 {
				break
			}
		}
		assign(pts, centers, labels)
		compact := 0.0
		for i, p := range pts {
			compact += dist2(p, centers[labels[i]])
		}
		if compact < bestCompact {
			bestCompact = compact
			best = labels
		}
	}
	return best
}

func assign(pts, centers [][3]float64, labels []int) bool {
	changed := false
	for i, p := range pts {
		bestC, bestD := 0, math.Inf(1)
		for c, ctr := range centers {
			if d := dist2(p, ctr); d < bestD {
				bestC, bestD = c, d
			}
		}
		if labels[i] != bestC {
			labels[i] = bestC
			changed = true
		}
	}
	return changed
}

func update(pts, centers [][3]float64, labels []int) {
	sums := make([][3]float64, len(centers))
	counts := make([]int, len(centers))
	for i, p := range pts {
		l := labels[i]
		for d := 0; d < 3; d++ {
			sums[l][d] += p[d]
		}
		counts[l]++
	}
	for c := range centers {
		if counts[c] == 0 {
			continue
		}
		for d := 0; d < 3; d++ {
			centers[c][d] = sums[c][d] / float64(counts[c])
		}
	}
}

func dist2(a, b [3]float64) float64 {
	dr, dg, db := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dr*dr + dg*dg + db*db
}
