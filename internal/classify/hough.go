package classify

import (
	"image"
	"math"
	"sort"
)

// HoughParams tunes the gradient Hough circle search.
type HoughParams struct {
	DP         float64 // accumulator resolution divisor
	CannyHigh  float64
	Threshold  int // minimum accumulator votes for a center
	MinRadius  int
	MaxRadius  int     // 0 means h/2
	MinDistDiv int     // minimum center distance is h/MinDistDiv
	Coverage   float64 // share of the circumference that must be on an edge
}

func DefaultHoughParams() HoughParams {
	return HoughParams{DP: 1.2, CannyHigh: 50, Threshold: 30, MinRadius: 50, MinDistDiv: 4, Coverage: 0.35}
}

type circle struct {
	x, y, r float64
}

// HasCircle reports whether the gradient Hough transform finds at least one circle.
func HasCircle(g *image.Gray) bool {
	return len(findCircles(g, DefaultHoughParams(), 1)) > 0
}

func findCircles(g *image.Gray, p HoughParams, limit int) []circle {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	maxR := p.MaxRadius
	if maxR <= 0 {
		maxR = h / 2
	}
	if w == 0 || h == 0 || maxR < p.MinRadius {
		return nil
	}
	edges, gr := canny(gaussian5(g), p.CannyHigh/2, p.CannyHigh)

	aw := int(float64(w)/p.DP) + 1
	ah := int(float64(h)/p.DP) + 1
	acc := make([]int, aw*ah)
	var pts [][2]int
	for i, e := range edges {
		if !e {
			continue
		}
		gx, gy := gr.gx[i], gr.gy[i]
		norm := math.Hypot(gx, gy)
		if norm == 0 {
			continue
		}
		x, y := i%w, i/w
		pts = append(pts, [2]int{x, y})
		ux, uy := gx/norm, gy/norm
		for _, s := range [2]float64{1, -1} {
			for r := p.MinRadius; r <= maxR; r++ {
				cx := float64(x) + s*float64(r)*ux
				cy := float64(y) + s*float64(r)*uy
				if cx < 0 || cy < 0 || cx >= float64(w) || cy >= float64(h) {
					break
				}
				acc[int(cy/p.DP)*aw+int(cx/p.DP)]++
			}
		}
	}

	type cand struct{ idx, votes int }
	var cands []cand
	for ay := 1; ay < ah-1; ay++ {
		for ax := 1; ax < aw-1; ax++ {
			i := ay*aw + ax
			v := acc[i]
			if v <= p.Threshold {
				continue
			}
			if v > acc[i-1] && v >= acc[i+1] && v > acc[i-aw] && v >= acc[i+aw] {
				cands = append(cands, cand{i, v})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].votes > cands[j].votes })

	minDist := float64(h) / float64(p.MinDistDiv)
	hist := make([]int, maxR+2)
	var found []circle
	for _, c := range cands {
		cx, cy := centroid(acc, aw, ah, c.idx%aw, c.idx/aw, 4)
		cx, cy = cx*p.DP, cy*p.DP
		near := false
		for _, f := range found {
			if math.Hypot(f.x-cx, f.y-cy) < minDist {
				near = true
				break
			}
		}
		if near {
			continue
		}
		for i := range hist {
			hist[i] = 0
		}
		for _, pt := range pts {
			d := int(math.Round(math.Hypot(float64(pt[0])-cx, float64(pt[1])-cy)))
			if d >= p.MinRadius-1 && d <= maxR+1 {
				hist[d]++
			}
		}
		bestR, bestN := 0, 0
		for r := p.MinRadius; r <= maxR; r++ {
			n := hist[r-1] + hist[r] + hist[r+1]
			if n > bestN {
				bestR, bestN = r, n
			}
		}
		if bestN < p.Threshold || float64(bestN) < p.Coverage*2*math.Pi*float64(bestR) {
			continue
		}
		found = append(found, circle{cx, cy, float64(bestR)})
		if limit > 0 && len(found) >= limit {
			break
		}
	}
	return found
}

// centroid returns the vote-weighted center of the (2r+1)² cells around a peak, in cell units.
func centroid(acc []int, aw, ah, ax, ay, r int) (float64, float64) {
	var sw, sx, sy float64
	for y := max(0, ay-r); y < min(ah, ay+r+1); y++ {
		for x := max(0, ax-r); x < min(aw, ax+r+1); x++ {
			v := float64(acc[y*aw+x])
			sw += v
			sx += v * (float64(x) + 0.5)
			sy += v * (float64(y) + 0.5)
		}
	}
	return sx / sw, sy / sw
}

var binomial5 = [5]int{1, 4, 6, 4, 1}

// gaussian5 applies a separable 5-tap binomial blur with replicated borders.
func gaussian5(g *image.Gray) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	tmp := make([]int, w*h)
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride:]
		for x := 0; x < w; x++ {
			s := 0
			for k, f := range binomial5 {
				xx := min(max(x+k-2, 0), w-1)
				s += f * int(row[xx])
			}
			tmp[y*w+x] = s
		}
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := 0
			for k, f := range binomial5 {
				yy := min(max(y+k-2, 0), h-1)
				s += f * tmp[yy*w+x]
			}
			out.Pix[y*out.Stride+x] = uint8((s + 128) / 256)
		}
	}
	return out
}
