package layout

import (
	documentai "cloud.google.com/go/documentai/apiv1"
	vision "cloud.google.com/go/vision/apiv1"
)

// The adapters accept the SDK clients that main constructs.
var (
	_ VisionClient     = (*vision.ImageAnnotatorClient)(nil)
	_ DocumentAIClient = (*documentai.DocumentProcessorClient)(nil)
)
