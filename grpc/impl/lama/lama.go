package lama

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// LaMa is an AI model that removes masked regions from images and fills them with plausible background.
// Ref: https://github.com/advimman/lama
type Client interface {
	// Inpaint returns origin with every white pixel of mask repainted.
	Inpaint(ctx context.Context, origin image.Image, mask image.Image) (image.Image, error)
}

type httpClient struct {
	client  *http.Client
	baseURL string
}

// New returns a client for a LaMa server exposing POST /inpaint with multipart "image" and "mask" PNG fields.
func New(baseURL string) Client {
	return &httpClient{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
	}
}

func (c *httpClient) Inpaint(ctx context.Context, origin image.Image, mask image.Image) (image.Image, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writePNG(writer, "image", origin); err != nil {
		return nil, err
	}
	if err := writePNG(writer, "mask", mask); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inpaint", &body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to call inpainting service: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return nil, fmt.Errorf("inpainting service returned %d: %s", response.StatusCode, message)
	}

	result, _, err := image.Decode(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode inpainted image: %w", err)
	}
	if result.Bounds().Size() != origin.Bounds().Size() {
		return nil, fmt.Errorf("inpainted image is %v, want %v", result.Bounds().Size(), origin.Bounds().Size())
	}
	return result, nil
}

func writePNG(writer *multipart.Writer, field string, img image.Image) error {
	part, err := writer.CreateFormFile(field, field+".png")
	if err != nil {
		return err
	}
	return png.Encode(part, img)
}
