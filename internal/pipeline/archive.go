package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/shuncox/rednote-pic2md/internal/imaging"
	"github.com/shuncox/rednote-pic2md/internal/ocr"
	"github.com/shuncox/rednote-pic2md/internal/series"
)

// pdfcpu imports JPEG and PNG; anything else is converted first
var archiveLimits = ocr.Limits{Formats: []ocr.ImageFormat{ocr.FormatJPEG, ocr.FormatPNG}}

// writeArchive bundles the ordered screenshots into a PDF next to the document
func writeArchive(mdPath string, files []series.SourceFile) (string, error) {
	tmpDir, err := os.MkdirTemp("", "pic2md_archive_*")
	if err != nil {
		return "", fmt.Errorf("failed to create archive work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	images := make([]string, 0, len(files))
	for i, f := range files {
		path, err := archiveImage(tmpDir, i, f)
		if err != nil {
			return "", err
		}
		images = append(images, path)
	}

	out := strings.TrimSuffix(mdPath, filepath.Ext(mdPath)) + ".pdf"
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.ImportImagesFile(images, out, pdfcpu.DefaultImportConfig(), conf); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("failed to build PDF archive: %w", err)
	}
	return out, nil
}

// archiveImage returns a path pdfcpu can import for f
func archiveImage(tmpDir string, index int, f series.SourceFile) (string, error) {
	format, _ := ocr.FormatFromExt(filepath.Ext(f.Path))
	if archiveLimits.Accepts(format) {
		return f.Path, nil
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s for archive: %w", f.Name(), err)
	}
	fitted, err := imaging.Fit(data, format, archiveLimits)
	if err != nil {
		return "", fmt.Errorf("failed to convert %s for archive: %w", f.Name(), err)
	}

	ext := "png"
	if fitted.Format == ocr.FormatJPEG {
		ext = "jpg"
	}
	path := filepath.Join(tmpDir, fmt.Sprintf("page_%03d.%s", index, ext))
	if err := os.WriteFile(path, fitted.Data, 0600); err != nil {
		return "", fmt.Errorf("failed to stage %s for archive: %w", f.Name(), err)
	}
	return path, nil
}
