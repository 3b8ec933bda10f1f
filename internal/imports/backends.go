// Package imports links every OCR backend into the binary so that each
// registers itself with the registry.
package imports

import (
	// Cloud backends - always available
	_ "github.com/shuncox/rednote-pic2md/internal/ocr/aliyun"
	_ "github.com/shuncox/rednote-pic2md/internal/ocr/baidu"
	_ "github.com/shuncox/rednote-pic2md/internal/ocr/tencent"
	_ "github.com/shuncox/rednote-pic2md/internal/ocr/vision"
	// tesseract is conditionally imported in backends_tesseract.go as it needs cgo
)
