// Package preprocess turns uploaded images into classifier input tensors.
//
// Every image goes through the same fixed transform the model was trained
// against: convert to opaque RGB, bilinear resample to ImageSize x ImageSize,
// scale channels to [0,1], and lay the result out as NHWC with a batch of one.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/Brownie44l1/gamelan-classifier/internal/model"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// DefaultMaxPixels caps width*height of an upload before its pixels are
// decoded. A small compressed file can declare dimensions that would need
// gigabytes once decoded.
const DefaultMaxPixels int64 = 50_000_000

// Decode reads JPEG or PNG bytes, rejecting images above DefaultMaxPixels.
func Decode(data []byte) (image.Image, error) {
	return DecodeWithLimit(data, DefaultMaxPixels)
}

// DecodeWithLimit is Decode with a caller supplied pixel cap. A non-positive
// maxPixels means DefaultMaxPixels.
func DecodeWithLimit(data []byte, maxPixels int64) (image.Image, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if len(data) == 0 {
		return nil, &model.InvalidImageError{Reason: "empty upload"}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &model.InvalidImageError{Reason: "unsupported or corrupt image, expected JPEG or PNG", Err: err}
	}
	// imaging registers gif, bmp and tiff decoders as a side effect.
	if format != "jpeg" && format != "png" {
		return nil, &model.InvalidImageError{Reason: "unsupported format " + format + ", expected JPEG or PNG"}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &model.InvalidImageError{Reason: format + " image has zero width or height"}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, &model.InvalidImageError{
			Reason: fmt.Sprintf("%s image is %dx%d, more than %d pixels", format, cfg.Width, cfg.Height, maxPixels),
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &model.InvalidImageError{Reason: "failed to decode " + format, Err: err}
	}
	return img, nil
}

// Preprocess converts img into a tensor of model.InputShape.
func Preprocess(img image.Image) (*model.Tensor, error) {
	if img == nil {
		return nil, &model.InvalidImageError{Reason: "no image"}
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, &model.InvalidImageError{Reason: "image has zero width or height"}
	}

	rgb := toOpaqueRGB(img)
	resized := resize.Resize(model.ImageSize, model.ImageSize, rgb, resize.Bilinear)

	t := model.NewInputTensor()
	if err := fill(t.Data, resized); err != nil {
		return nil, err
	}
	return t, nil
}

// FromBytes decodes and preprocesses an upload.
func FromBytes(data []byte) (*model.Tensor, error) {
	return FromBytesWithLimit(data, DefaultMaxPixels)
}

func FromBytesWithLimit(data []byte, maxPixels int64) (*model.Tensor, error) {
	img, err := DecodeWithLimit(data, maxPixels)
	if err != nil {
		return nil, err
	}
	return Preprocess(img)
}

// toOpaqueRGB returns a copy of img as NRGBA with every alpha set to 255.
// Grayscale is replicated to all three channels; alpha is dropped, not
// composited against a background.
func toOpaqueRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

// fill writes img's pixels into dst in HWC order, scaled to [0,1].
func fill(dst []float32, img image.Image) error {
	b := img.Bounds()
	if b.Dx() != model.ImageSize || b.Dy() != model.ImageSize {
		return errors.New("preprocess: resampled image has unexpected size")
	}

	var pix []uint8
	var stride int
	switch src := img.(type) {
	case *image.RGBA:
		pix, stride = src.Pix[src.PixOffset(b.Min.X, b.Min.Y):], src.Stride
	case *image.NRGBA:
		pix, stride = src.Pix[src.PixOffset(b.Min.X, b.Min.Y):], src.Stride
	}

	i := 0
	for y := 0; y < model.ImageSize; y++ {
		for x := 0; x < model.ImageSize; x++ {
			var r, g, bl uint8
			if pix != nil {
				off := y*stride + x*4
				r, g, bl = pix[off], pix[off+1], pix[off+2]
			} else {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				r, g, bl = c.R, c.G, c.B
			}
			dst[i] = float32(r) / 255
			dst[i+1] = float32(g) / 255
			dst[i+2] = float32(bl) / 255
			i += model.Channels
		}
	}
	return nil
}
