//go:build tesseract

package imports

import (
	_ "github.com/shuncox/rednote-pic2md/internal/ocr/tesseract"
)
