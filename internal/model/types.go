package model

import (
	"bytes"
	"encoding/json"
)

// Labels is the fixed class order of the clothing model's output vector.
var Labels = []string{
	"dress",
	"hat",
	"longsleeve",
	"outwear",
	"pants",
	"shirt",
	"shoes",
	"shorts",
	"skirt",
	"t-shirt",
}

// Metadata describes the tensors the loaded model expects.
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// Score is one label and its probability.
type Score struct {
	Label       string
	Probability float32
}

// Predictions keeps scores in label order. It marshals to a JSON object whose
// keys follow that order.
type Predictions []Score

func (p Predictions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.Label)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.Probability)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Predictions) UnmarshalJSON(data []byte) error {
	var m map[string]float32
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(Predictions, 0, len(m))
	for _, l := range Labels {
		if v, ok := m[l]; ok {
			out = append(out, Score{Label: l, Probability: v})
		}
	}
	*p = out
	return nil
}

// Get returns the probability for label.
func (p Predictions) Get(label string) (float32, bool) {
	for _, s := range p {
		if s.Label == label {
			return s.Probability, true
		}
	}
	return 0, false
}

// Result is the response of a single classification.
type Result struct {
	Predictions    Predictions `json:"predictions"`
	TopClass       string      `json:"top_class"`
	TopProbability float32     `json:"top_probability"`
}

type PredictionRequest struct {
	URL string `json:"url" binding:"required,http_url"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
