//go:build tesseract

package main

import "github.com/visionex-project/pagetrans/grpc/impl/layout"

func newTesseract(languages []string) (layout.Detector, error) {
	return layout.NewTesseract(languages...), nil
}
