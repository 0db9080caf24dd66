//go:build !tesseract

package main

import (
	"errors"

	"github.com/visionex-project/pagetrans/grpc/impl/layout"
)

func newTesseract(languages []string) (layout.Detector, error) {
	return nil, errors.New("layout.type tesseract needs a binary built with -tags tesseract")
}
