package media

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"log"
	"math"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	PreviewJpegQuality   = 90
	PreviewFileExtension = ".jpg"

	ThumbnailJpegQuality   = 80
	ThumbnailFileExtension = ".jpg"
)

// Processor handles media transformations like preview and thumbnail
// generation. it relies on a Store implementation for saving the results.
type Processor struct {
	store Store
}

func NewProcessor(store Store) *Processor {
	return &Processor{store: store}
}

// fitDimensions scales (w, h) so the longest side matches maxSize, never
// upscaling.
func fitDimensions(origWidth, origHeight, maxSize int) (int, int) {
	var newWidth, newHeight int
	if origWidth > origHeight {
		if origWidth <= maxSize {
			newWidth, newHeight = origWidth, origHeight
		} else {
			newWidth = maxSize
			newHeight = int(math.Round(float64(origHeight) * (float64(maxSize) / float64(origWidth))))
		}
	} else {
		if origHeight <= maxSize {
			newWidth, newHeight = origWidth, origHeight
		} else {
			newHeight = maxSize
			newWidth = int(math.Round(float64(origWidth) * (float64(maxSize) / float64(origHeight))))
		}
	}
	return maxInt(1, newWidth), maxInt(1, newHeight)
}

// resizeAndSave resizes img so its longest side matches maxSize, encodes it
// as JPEG and saves it under the given asset type with a UUID filename.
// Returns the relative path of the saved asset.
func (p *Processor) resizeAndSave(img image.Image, assetType AssetType, maxSize, quality int, ext string) (string, error) {
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return "", fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	newWidth, newHeight := fitDimensions(bounds.Dx(), bounds.Dy(), maxSize)
	resized := imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)

	reader, writer := io.Pipe()
	go func() {
		err := imaging.Encode(writer, resized, imaging.JPEG, imaging.JPEGQuality(quality))
		if err != nil {
			log.Printf("processor: Failed to encode %s asset: %v", assetType, err)
			writer.CloseWithError(fmt.Errorf("encoding failed: %w", err))
			return
		}
		writer.Close()
	}()

	assetUUID, err := uuid.NewRandom()
	if err != nil {
		reader.Close()
		return "", fmt.Errorf("failed to generate UUID for %s asset: %w", assetType, err)
	}

	relPath, err := p.store.Save(assetType, assetUUID.String()+ext, reader)
	if err != nil {
		reader.Close()
		return "", fmt.Errorf("failed to save %s asset: %w", assetType, err)
	}
	return relPath, nil
}

// GeneratePreview creates the display preview for an uploaded image. The
// returned relative path is the record's owned preview resource; the gallery
// releases it exactly once when the record is destroyed.
func (p *Processor) GeneratePreview(img image.Image, maxSize int) (string, error) {
	return p.resizeAndSave(img, AssetTypePreview, maxSize, PreviewJpegQuality, PreviewFileExtension)
}

// GenerateThumbnail creates a small thumbnail for a cloud-stored image.
func (p *Processor) GenerateThumbnail(img image.Image, maxSize int) (string, error) {
	return p.resizeAndSave(img, AssetTypeCloud, maxSize, ThumbnailJpegQuality, ThumbnailFileExtension)
}

// EncodePNG re-encodes a decoded image as PNG bytes, the raster format sent
// to the remote classification endpoint.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("png encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
