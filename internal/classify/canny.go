package classify

import (
	"image"
	"math"
)

// gradients holds Sobel derivatives and their L1 magnitude.
type gradients struct {
	w, h   int
	gx, gy []float64
	mag    []float64
}

func sobel(g *image.Gray) gradients {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	gr := gradients{w: w, h: h, gx: make([]float64, w*h), gy: make([]float64, w*h), mag: make([]float64, w*h)}
	px := func(x, y int) float64 {
		// replicate the border
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return float64(g.Pix[y*g.Stride+x])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := -px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1) + px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1)
			dy := -px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1) + px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1)
			i := y*w + x
			gr.gx[i], gr.gy[i] = dx, dy
			gr.mag[i] = math.Abs(dx) + math.Abs(dy)
		}
	}
	return gr
}

// canny returns an edge map after non-maximum suppression and hysteresis.
func canny(g *image.Gray, low, high float64) ([]bool, gradients) {
	gr := sobel(g)
	w, h := gr.w, gr.h
	const (
		none = iota
		weak
		strong
	)
	state := make([]uint8, w*h)
	tan22 := math.Tan(math.Pi / 8)
	tan67 := math.Tan(3 * math.Pi / 8)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := gr.mag[i]
			if m < low {
				continue
			}
			ax, ay := math.Abs(gr.gx[i]), math.Abs(gr.gy[i])
			var n1, n2 float64
			switch {
			case ay <= ax*tan22:
				n1, n2 = gr.mag[i-1], gr.mag[i+1]
			case ay >= ax*tan67:
				n1, n2 = gr.mag[i-w], gr.mag[i+w]
			case (gr.gx[i] > 0) == (gr.gy[i] > 0):
				n1, n2 = gr.mag[i-w-1], gr.mag[i+w+1]
			default:
				n1, n2 = gr.mag[i-w+1], gr.mag[i+w-1]
			}
			if m < n1 || m <= n2 {
				continue
			}
			if m >= high {
				state[i] = strong
			} else {
				state[i] = weak
			}
		}
	}

	edges := make([]bool, w*h)
	stack := make([]int, 0, 1024)
	for i, s := range state {
		if s == strong && !edges[i] {
			edges[i] = true
			stack = append(stack, i)
		}
		for len(stack) > 0 {
			j := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			jx, jy := j%w, j/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := jx+dx, jy+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					k := ny*w + nx
					if state[k] == weak && !edges[k] {
						edges[k] = true
						stack = append(stack, k)
					}
				}
			}
		}
	}
	return edges, gr
}

// EdgeDensity is the fraction of pixels on a Canny edge (thresholds 50/150).
func EdgeDensity(g *image.Gray) float64 {
	b := g.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}
	edges, _ := canny(g, 50, 150)
	count := 0
	for _, e := range edges {
		if e {
			count++
		}
	}
	return float64(count) / float64(n)
}
