// Package descriptor computes the feature vectors the retrieval contract
// exchanges: per-channel color histograms, dominant colors, Gabor texture
// coefficients, Hu moment invariants, texture energy and circularity.
package descriptor

import (
	"image"
	"math"
	"math/rand"
)

const (
	// kmeansClusters is the number of dominant colors extracted.
	kmeansClusters = 5
	// kmeansSeed keeps clustering deterministic across runs.
	kmeansSeed = 42
	// binaryThreshold is the cutoff used before moment and shape analysis.
	binaryThreshold = 127
	// gaborSize is the square kernel side used by the filter bank.
	gaborSize = 21
	// textureSide is the working resolution for texture descriptors.
	textureSide = 64
)

// Set bundles every descriptor kind computed for one image.
type Set struct {
	Histogram        []float64   `json:"histogram"`
	DominantColors   [][]float64 `json:"dominant_colors"`
	GaborDescriptors []float64   `json:"gabor_descriptors"`
	HuMoments        []float64   `json:"hu_moments"`
	TextureEnergy    []float64   `json:"texture_energy"`
	Circularity      []float64   `json:"circularity"`
}

// Empty reports whether no kind carries data.
func (s Set) Empty() bool {
	return len(s.Histogram) == 0 && len(s.DominantColors) == 0 &&
		len(s.GaborDescriptors) == 0 && len(s.HuMoments) == 0 &&
		len(s.TextureEnergy) == 0 && len(s.Circularity) == 0
}

// Extract computes the full descriptor set for one image.
func Extract(img image.Image) Set {
	red, green, blue := ChannelHistograms(img)
	hist := make([]float64, 0, 3*256)
	hist = append(hist, red...)
	hist = append(hist, green...)
	hist = append(hist, blue...)

	return Set{
		Histogram:        hist,
		DominantColors:   DominantColors(img),
		GaborDescriptors: GaborDescriptors(img),
		HuMoments:        HuMoments(img),
		TextureEnergy:    []float64{TextureEnergy(img)},
		Circularity:      []float64{Circularity(img)},
	}
}

// ChannelHistograms counts pixels into 256 bins per RGB channel.
func ChannelHistograms(img image.Image) (red, green, blue []float64) {
	red = make([]float64, 256)
	green = make([]float64, 256)
	blue = make([]float64, 256)

	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			red[r>>8]++
			green[g>>8]++
			blue[b>>8]++
		}
	}
	return red, green, blue
}

// DominantColors clusters a downscaled copy of the image into k RGB centers
// with deterministic k-means.
func DominantColors(img image.Image) [][]float64 {
	small := resize(img, 150, 150)
	bounds := small.Bounds()

	pixels := make([][3]float64, 0, bounds.Dx()*bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := small.At(x, y).RGBA()
			pixels = append(pixels, [3]float64{float64(r >> 8), float64(g >> 8), float64(b >> 8)})
		}
	}

	centers := kmeans(pixels, kmeansClusters, 20)
	out := make([][]float64, len(centers))
	for i, c := range centers {
		out[i] = []float64{math.Round(c[0]), math.Round(c[1]), math.Round(c[2])}
	}
	return out
}

func kmeans(pixels [][3]float64, k, maxIter int) [][3]float64 {
	if len(pixels) == 0 {
		return nil
	}
	if len(pixels) < k {
		k = len(pixels)
	}

	rng := rand.New(rand.NewSource(kmeansSeed))
	centers := make([][3]float64, k)
	for i := range centers {
		centers[i] = pixels[rng.Intn(len(pixels))]
	}

	assignments := make([]int, len(pixels))
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range pixels {
			best, bestDist := 0, math.MaxFloat64
			for j, c := range centers {
				d := sq(p[0]-c[0]) + sq(p[1]-c[1]) + sq(p[2]-c[2])
				if d < bestDist {
					best, bestDist = j, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		sums := make([][3]float64, k)
		counts := make([]int, k)
		for i, p := range pixels {
			c := assignments[i]
			sums[c][0] += p[0]
			sums[c][1] += p[1]
			sums[c][2] += p[2]
			counts[c]++
		}
		for j := range centers {
			if counts[j] == 0 {
				centers[j] = pixels[rng.Intn(len(pixels))]
				continue
			}
			n := float64(counts[j])
			centers[j] = [3]float64{sums[j][0] / n, sums[j][1] / n, sums[j][2] / n}
		}

		if !changed && iter > 0 {
			break
		}
	}
	return centers
}

// gaborKernel builds one real Gabor kernel of side gaborSize.
func gaborKernel(sigma, theta, lambda, gamma, psi float64) [][]float64 {
	half := gaborSize / 2
	kernel := make([][]float64, gaborSize)
	for y := 0; y < gaborSize; y++ {
		kernel[y] = make([]float64, gaborSize)
		for x := 0; x < gaborSize; x++ {
			fx := float64(x - half)
			fy := float64(y - half)
			xr := fx*math.Cos(theta) + fy*math.Sin(theta)
			yr := -fx*math.Sin(theta) + fy*math.Cos(theta)
			kernel[y][x] = math.Exp(-(xr*xr+gamma*gamma*yr*yr)/(2*sigma*sigma)) *
				math.Cos(2*math.Pi*xr/lambda+psi)
		}
	}
	return kernel
}

// GaborDescriptors runs a bank of 4 orientations x 2 wavelengths over the
// downscaled grayscale image and records mean and standard deviation of each
// response, a 16-value texture signature.
func GaborDescriptors(img image.Image) []float64 {
	gray := grayscale(resize(img, textureSide, textureSide))

	thetas := []float64{0, math.Pi / 4, math.Pi / 2, 3 * math.Pi / 4}
	lambdas := []float64{5, 10}

	out := make([]float64, 0, len(thetas)*len(lambdas)*2)
	for _, lambda := range lambdas {
		for _, theta := range thetas {
			kernel := gaborKernel(8.0, theta, lambda, 0.5, 0)
			response := convolve(gray, kernel)

			var sum float64
			for _, v := range response {
				sum += v
			}
			n := float64(len(response))
			mean := sum / n

			// Two-pass variance: the sumSq - mean² form loses all
			// precision on the large uniform responses flat images give.
			var variance float64
			for _, v := range response {
				d := v - mean
				variance += d * d
			}
			variance /= n
			out = append(out, mean, math.Sqrt(variance))
		}
	}
	return out
}

// convolve applies a square kernel to a grayscale image with clamped borders
// and returns the flat response.
func convolve(gray *image.Gray, kernel [][]float64) []float64 {
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	half := len(kernel) / 2

	out := make([]float64, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for ky, row := range kernel {
				sy := clamp(y+ky-half, 0, h-1)
				for kx, kv := range row {
					sx := clamp(x+kx-half, 0, w-1)
					acc += kv * float64(gray.GrayAt(bounds.Min.X+sx, bounds.Min.Y+sy).Y)
				}
			}
			out = append(out, acc)
		}
	}
	return out
}

// GaborImage renders the Gabor-filtered visualization the /calculate-gabor
// endpoint serves, using the same single pi/4 kernel as the original service.
func GaborImage(img image.Image) *image.Gray {
	gray := grayscale(img)
	bounds := gray.Bounds()
	kernel := gaborKernel(8.0, math.Pi/4, 10.0, 0.5, 0)
	response := convolve(gray, kernel)

	dst := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for i, v := range response {
		dst.Pix[i] = uint8(clamp(int(v), 0, 255))
	}
	return dst
}

// HuMoments computes the seven rotation/scale/translation invariant moments
// on the thresholded image.
func HuMoments(img image.Image) []float64 {
	binary := binarize(grayscale(img), binaryThreshold)
	bounds := binary.Bounds()

	var m00, m10, m01 float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if binary.GrayAt(x, y).Y == 0 {
				continue
			}
			fx, fy := float64(x-bounds.Min.X), float64(y-bounds.Min.Y)
			m00++
			m10 += fx
			m01 += fy
		}
	}
	if m00 == 0 {
		return make([]float64, 7)
	}
	cx, cy := m10/m00, m01/m00

	// Central moments up to order 3.
	var mu [4][4]float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if binary.GrayAt(x, y).Y == 0 {
				continue
			}
			dx := float64(x-bounds.Min.X) - cx
			dy := float64(y-bounds.Min.Y) - cy
			for p := 0; p <= 3; p++ {
				for q := 0; q <= 3-p; q++ {
					mu[p][q] += math.Pow(dx, float64(p)) * math.Pow(dy, float64(q))
				}
			}
		}
	}

	eta := func(p, q int) float64 {
		return mu[p][q] / math.Pow(m00, 1+float64(p+q)/2)
	}

	n20, n02, n11 := eta(2, 0), eta(0, 2), eta(1, 1)
	n30, n03, n21, n12 := eta(3, 0), eta(0, 3), eta(2, 1), eta(1, 2)

	h := make([]float64, 7)
	h[0] = n20 + n02
	h[1] = sq(n20-n02) + 4*sq(n11)
	h[2] = sq(n30-3*n12) + sq(3*n21-n03)
	h[3] = sq(n30+n12) + sq(n21+n03)
	h[4] = (n30-3*n12)*(n30+n12)*(sq(n30+n12)-3*sq(n21+n03)) +
		(3*n21-n03)*(n21+n03)*(3*sq(n30+n12)-sq(n21+n03))
	h[5] = (n20-n02)*(sq(n30+n12)-sq(n21+n03)) + 4*n11*(n30+n12)*(n21+n03)
	h[6] = (3*n21-n03)*(n30+n12)*(sq(n30+n12)-3*sq(n21+n03)) -
		(n30-3*n12)*(n21+n03)*(3*sq(n30+n12)-sq(n21+n03))
	return h
}

// HuMomentsImage renders the binarized image the /calculate-hu-moments
// endpoint serves as its visualization.
func HuMomentsImage(img image.Image) *image.Gray {
	return binarize(grayscale(img), binaryThreshold)
}

// TextureEnergy is the mean squared gradient magnitude of the downscaled
// grayscale image.
func TextureEnergy(img image.Image) float64 {
	gray := grayscale(resize(img, textureSide, textureSide))
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var sum float64
	var n int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := float64(gray.GrayAt(x+1, y).Y) - float64(gray.GrayAt(x-1, y).Y)
			gy := float64(gray.GrayAt(x, y+1).Y) - float64(gray.GrayAt(x, y-1).Y)
			sum += gx*gx + gy*gy
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Circularity is 4*pi*area/perimeter^2 of the thresholded foreground; a
// perfect disc scores 1, elongated or ragged shapes score lower.
func Circularity(img image.Image) float64 {
	binary := binarize(grayscale(resize(img, textureSide, textureSide)), binaryThreshold)
	bounds := binary.Bounds()

	var area, perimeter float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if binary.GrayAt(x, y).Y == 0 {
				continue
			}
			area++
			if isBoundary(binary, x, y) {
				perimeter++
			}
		}
	}
	if perimeter == 0 {
		return 0
	}
	c := 4 * math.Pi * area / (perimeter * perimeter)
	if c > 1 {
		c = 1
	}
	return c
}

func isBoundary(binary *image.Gray, x, y int) bool {
	bounds := binary.Bounds()
	neighbors := [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}}
	for _, n := range neighbors {
		if n[0] < bounds.Min.X || n[0] >= bounds.Max.X || n[1] < bounds.Min.Y || n[1] >= bounds.Max.Y {
			return true
		}
		if binary.GrayAt(n[0], n[1]).Y == 0 {
			return true
		}
	}
	return false
}

func sq(v float64) float64 { return v * v }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
