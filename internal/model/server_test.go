package model

import (
	"context"
	"math"
	"os"
	"sync"
	"testing"
)

// TestServerInfer needs the onnxruntime shared library and the clothing model:
//
//	ONNXRUNTIME_LIB=/usr/lib/libonnxruntime.so CLOTHING_MODEL=clothing-model.onnx go test ./internal/model
func TestServerInfer(t *testing.T) {
	lib, modelPath := os.Getenv("ONNXRUNTIME_LIB"), os.Getenv("CLOTHING_MODEL")
	if lib == "" || modelPath == "" {
		t.Skip("ONNXRUNTIME_LIB and CLOTHING_MODEL not set")
	}

	s, err := Load(context.Background(), Options{
		Path:        modelPath,
		LibraryPath: lib,
		ImageSize:   224,
		Workers:     2,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer s.Close()

	if _, err := s.Infer(context.Background(), []float32{1, 2, 3}); err == nil {
		t.Error("expected error for wrong input length")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logits, err := s.Infer(context.Background(), make([]float32, s.InputLen()))
			if err != nil {
				t.Errorf("infer: %v", err)
				return
			}
			result, err := NewResult(s.Classes(), logits)
			if err != nil {
				t.Errorf("result: %v", err)
				return
			}
			if math.Abs(sum(Softmax(logits))-1) > 1e-3 || result.TopClass == "" {
				t.Errorf("malformed result %+v", result)
			}
		}()
	}
	wg.Wait()
}
