package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// Hash families produced for every diagram. Keys match the stored corpus.
const (
	HashFamilyAverage    = "aHash"
	HashFamilyDifference = "dHash"
)

// Hasher computes perceptual fingerprints for one image. Hashing errors are
// non-fatal: a diagram without hashes just skips duplicate detection.
type Hasher interface {
	ComputeHashes(ctx context.Context, imagePath string) (map[string]string, error)
}

// ToolHasher shells out to an external hashing tool that prints a JSON
// object of family -> hex hash.
type ToolHasher struct {
	command string
	timeout time.Duration
}

func NewToolHasher(command string, timeout time.Duration) *ToolHasher {
	return &ToolHasher{command: command, timeout: timeout}
}

func (h *ToolHasher) ComputeHashes(ctx context.Context, imagePath string) (map[string]string, error) {
	output, err := runTool(ctx, h.timeout, h.command, imagePath)
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]string)
	if err := json.Unmarshal(output, &hashes); err != nil {
		return nil, &ToolError{Tool: h.command, Err: fmt.Errorf("unparseable output: %w", err)}
	}
	return hashes, nil
}

// NativeHasher computes aHash and dHash in-process. It is the default when
// no external hashing tool is configured.
type NativeHasher struct{}

func NewNativeHasher() *NativeHasher {
	return &NativeHasher{}
}

func (h *NativeHasher) ComputeHashes(_ context.Context, imagePath string) (map[string]string, error) {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", imagePath, err)
	}
	gray := imaging.Grayscale(img)

	return map[string]string{
		HashFamilyAverage:    averageHash(grayPixels(imaging.Resize(gray, 8, 8, imaging.Lanczos), 8, 8), 8, 8),
		HashFamilyDifference: differenceHash(grayPixels(imaging.Resize(gray, 9, 8, imaging.Lanczos), 9, 8), 9, 8),
	}, nil
}

// grayPixels reads the red channel of an already-grayscaled NRGBA image.
func grayPixels(img *image.NRGBA, width, height int) []uint8 {
	pixels := make([]uint8, 0, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pixels = append(pixels, img.Pix[img.PixOffset(x, y)])
		}
	}
	return pixels
}

// averageHash sets a bit per pixel brighter than the mean.
func averageHash(pixels []uint8, width, height int) string {
	sum := 0
	for _, p := range pixels {
		sum += int(p)
	}
	mean := sum / (width * height)

	bits := make([]bool, 0, width*height)
	for _, p := range pixels {
		bits = append(bits, int(p) > mean)
	}
	return bitsToHex(bits)
}

// differenceHash sets a bit per horizontal gradient between neighbours.
func differenceHash(pixels []uint8, width, height int) string {
	bits := make([]bool, 0, (width-1)*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width-1; x++ {
			bits = append(bits, pixels[y*width+x] < pixels[y*width+x+1])
		}
	}
	return bitsToHex(bits)
}

func bitsToHex(bits []bool) string {
	var builder strings.Builder
	for i := 0; i < len(bits); i += 4 {
		nibble := 0
		for j := 0; j < 4 && i+j < len(bits); j++ {
			nibble <<= 1
			if bits[i+j] {
				nibble |= 1
			}
		}
		builder.WriteString(strconv.FormatInt(int64(nibble), 16))
	}
	return builder.String()
}
