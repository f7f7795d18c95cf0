// Package classifier implements the predict pipeline: fetch the image, decode
// it, build the input tensor, run the model and normalise its scores.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/Brownie44l1/clothing-api/internal/metrics"
	"github.com/Brownie44l1/clothing-api/internal/model"
	"github.com/Brownie44l1/clothing-api/internal/preprocess"
)

// Fetcher downloads the bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Inferencer runs the model on one input tensor and returns raw scores in
// Classes order.
type Inferencer interface {
	Infer(ctx context.Context, input []float32) ([]float32, error)
	InputLen() int
	Classes() []string
}

// Options bounds the work done per request.
type Options struct {
	ImageSize int
	MaxPixels int64
}

type Service struct {
	fetcher Fetcher
	model   Inferencer
	opts    Options
}

func New(fetcher Fetcher, m Inferencer, opts Options) *Service {
	return &Service{
		fetcher: fetcher,
		model:   m,
		opts:    opts,
	}
}

// Predict classifies the image at url.
func (s *Service) Predict(ctx context.Context, url string) (*model.Result, error) {
	logger := klog.FromContext(ctx)

	if url == "" {
		return nil, &ValidationError{Err: errors.New("url is required")}
	}

	start := time.Now()
	data, err := s.fetcher.Fetch(ctx, url)
	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	img, format, err := preprocess.Decode(data, s.opts.MaxPixels)
	if err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}
	logger.V(3).Info("image decoded", "format", format, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	input := preprocess.Tensor(img, s.opts.ImageSize)
	if len(input) != s.model.InputLen() {
		return nil, &InferenceError{Err: fmt.Errorf("tensor has %d values, model expects %d", len(input), s.model.InputLen())}
	}

	// A caller that has gone away does not need the forward pass.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	logits, err := s.model.Infer(ctx, input)
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &InferenceError{Err: err}
	}

	result, err := model.NewResult(s.model.Classes(), logits)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	return result, nil
}
