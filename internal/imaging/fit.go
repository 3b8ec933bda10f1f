// Package imaging prepares page screenshots for submission so that they
// satisfy a backend's declared dimension, size and format limits.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultJPEGQuality is the first quality tried when re-encoding as JPEG
	DefaultJPEGQuality = 90
	minJPEGQuality     = 50
	qualityStep        = 10

	// shrinkFactor is applied per round when quality reduction alone is not enough
	shrinkFactor = 0.75
	minEdge      = 32
)

// Result is an image ready for a backend
type Result struct {
	Data   []byte
	Format ocr.ImageFormat
	Width  int
	Height int
	// Resized is true when the pixel dimensions changed
	Resized bool
	// Reencoded is true when Data differs from the input bytes
	Reencoded bool
}

// Fit returns data unchanged when it already satisfies limits. Otherwise the
// image is decoded, downscaled to the maximum dimension and re-encoded in an
// accepted format until it fits the byte limit.
func Fit(data []byte, format ocr.ImageFormat, limits ocr.Limits) (*Result, error) {
	cfg, decodedFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, invalid("cannot read image header", err)
	}
	if f, ok := ocr.FormatFromExt(decodedFormat); ok {
		// Trust the content over the file extension
		format = f
	}

	if fits(len(data), cfg.Width, cfg.Height, format, limits) {
		return &Result{Data: data, Format: format, Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, invalid("cannot decode image", err)
	}

	resized := false
	if w, h := targetSize(img.Bounds().Dx(), img.Bounds().Dy(), limits.MaxDimension); w != img.Bounds().Dx() || h != img.Bounds().Dy() {
		img = scale(img, w, h)
		resized = true
	}

	out := outputFormat(format, limits)
	if out == "" {
		return nil, ocr.NewError(ocr.InvalidImage, "", "", "backend accepts no encodable format")
	}

	for {
		encoded, err := encodeWithin(img, out, limits)
		if err != nil {
			return nil, err
		}
		if encoded != nil {
			return &Result{
				Data:      encoded,
				Format:    out,
				Width:     img.Bounds().Dx(),
				Height:    img.Bounds().Dy(),
				Resized:   resized,
				Reencoded: true,
			}, nil
		}

		// Lossless output cannot shrink by quality, so prefer JPEG when allowed
		if out != ocr.FormatJPEG && limits.Accepts(ocr.FormatJPEG) {
			out = ocr.FormatJPEG
			continue
		}

		w := int(float64(img.Bounds().Dx()) * shrinkFactor)
		h := int(float64(img.Bounds().Dy()) * shrinkFactor)
		if w < minEdge || h < minEdge {
			return nil, ocr.NewError(ocr.InvalidImage, "", "", fmt.Sprintf("cannot reduce image below %d bytes", limits.MaxBytes))
		}
		img = scale(img, w, h)
		resized = true
	}
}

func fits(size, width, height int, format ocr.ImageFormat, limits ocr.Limits) bool {
	if !limits.Accepts(format) {
		return false
	}
	if limits.MaxBytes > 0 && size > limits.MaxBytes {
		return false
	}
	if limits.MaxDimension > 0 && (width > limits.MaxDimension || height > limits.MaxDimension) {
		return false
	}
	return true
}

// targetSize scales the longest edge down to maxDim keeping the aspect ratio
func targetSize(width, height, maxDim int) (int, int) {
	if maxDim <= 0 || (width <= maxDim && height <= maxDim) {
		return width, height
	}
	if width >= height {
		h := height * maxDim / width
		return maxDim, max(h, 1)
	}
	w := width * maxDim / height
	return max(w, 1), maxDim
}

func scale(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// outputFormat keeps the source format when it is accepted and encodable,
// otherwise picks the first encodable accepted format.
func outputFormat(source ocr.ImageFormat, limits ocr.Limits) ocr.ImageFormat {
	if source != ocr.FormatWEBP && limits.Accepts(source) {
		return source
	}
	for _, f := range []ocr.ImageFormat{ocr.FormatJPEG, ocr.FormatPNG, ocr.FormatBMP, ocr.FormatGIF} {
		if limits.Accepts(f) {
			return f
		}
	}
	return ""
}

// encodeWithin returns nil bytes when no quality setting fits the byte limit
func encodeWithin(img image.Image, format ocr.ImageFormat, limits ocr.Limits) ([]byte, error) {
	if format != ocr.FormatJPEG {
		data, err := Encode(img, format, 0)
		if err != nil {
			return nil, err
		}
		if limits.MaxBytes > 0 && len(data) > limits.MaxBytes {
			return nil, nil
		}
		return data, nil
	}

	for q := DefaultJPEGQuality; q >= minJPEGQuality; q -= qualityStep {
		data, err := Encode(img, format, q)
		if err != nil {
			return nil, err
		}
		if limits.MaxBytes <= 0 || len(data) <= limits.MaxBytes {
			return data, nil
		}
	}
	return nil, nil
}

// Encode writes img in the given format. quality only applies to JPEG.
func Encode(img image.Image, format ocr.ImageFormat, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case ocr.FormatJPEG:
		if quality <= 0 {
			quality = DefaultJPEGQuality
		}
		err = jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality})
	case ocr.FormatPNG:
		err = png.Encode(&buf, img)
	case ocr.FormatBMP:
		err = bmp.Encode(&buf, img)
	case ocr.FormatGIF:
		err = gif.Encode(&buf, img, nil)
	default:
		return nil, fmt.Errorf("cannot encode %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// flatten composites transparent pixels onto white, which keeps screenshot text legible as JPEG
func flatten(img image.Image) image.Image {
	if _, ok := img.(*image.YCbCr); ok {
		return img
	}
	if _, ok := img.(*image.Gray); ok {
		return img
	}
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Over)
	return dst
}

func invalid(msg string, err error) error {
	return &ocr.Error{Kind: ocr.InvalidImage, Message: msg, Err: err}
}
