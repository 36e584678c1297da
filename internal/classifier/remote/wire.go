package remote

import (
	"strconv"
	"strings"

	"github.com/tphakala/ecosort/internal/classifier"
)

// ModelVersion describes one downloadable on-device model. Sizes and
// accuracy are display strings as sent by the service, e.g. "2.1 MB", "91%".
type ModelVersion struct {
	Version    string `json:"version"`
	Date       string `json:"date"`
	URL        string `json:"url"`
	ModelSize  string `json:"model_size"`
	TFLiteURL  string `json:"tflite_url"`
	TFLiteSize string `json:"tflite_size"`
	Accuracy   string `json:"accuracy"`
}

// TFLiteBytes parses TFLiteSize into a byte count. It returns 0 when the
// size is missing or not understood.
func (v ModelVersion) TFLiteBytes() int64 {
	return parseSize(v.TFLiteSize)
}

var sizeUnits = map[string]float64{
	"":   1,
	"b":  1,
	"kb": 1 << 10,
	"mb": 1 << 20,
	"gb": 1 << 30,
}

// parseSize reads "2048", "512 KB" or "2.1MB".
func parseSize(text string) int64 {
	text = strings.ToLower(strings.TrimSpace(text))
	split := strings.IndexFunc(text, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	number, unit := text, ""
	if split >= 0 {
		number, unit = text[:split], strings.TrimSpace(text[split:])
	}
	value, err := strconv.ParseFloat(number, 64)
	if err != nil || value < 0 {
		return 0
	}
	scale, ok := sizeUnits[unit]
	if !ok {
		return 0
	}
	return int64(value * scale)
}

// Section is a named bucket of classes within a taxonomy, e.g. "Recyclable".
type Section struct {
	Name    string             `json:"name"`
	Classes []classifier.Class `json:"classes"`
}

// GroupConfig is a named taxonomy that sessions snapshot.
type GroupConfig struct {
	Name     string    `json:"name"`
	Sections []Section `json:"group_config"`
}

// PredictionConfig is the body of GET /v1/predict/config.
type PredictionConfig struct {
	Versions []ModelVersion     `json:"versions"`
	Classes  []classifier.Class `json:"classes"`
	Groups   []GroupConfig      `json:"groups"`
}

// batchResponse is the body of POST /v1/predict/batch.
type batchResponse struct {
	JobID   string `json:"jobID"`
	Message string `json:"message"`
}

// wsPrediction is one entry of a progress message.
type wsPrediction struct {
	JobID      string           `json:"jobID"`
	Prediction classifier.Class `json:"prediction"`
	ImageName  string           `json:"imageName"`
	Status     string           `json:"status"`
}

// wsProgress is one message of the progress channel.
type wsProgress struct {
	Predictions []wsPrediction `json:"predictions"`
	Status      string         `json:"status"`
	Progress    float64        `json:"progress"`
}

// controlMessage is written to the progress channel to steer the job.
type controlMessage struct {
	Action string `json:"action"`
}

const uploadExtension = ".jpg"

func (p wsProgress) toUpdate() classifier.ProgressUpdate {
	u := classifier.ProgressUpdate{
		Status:      p.Status,
		Progress:    p.Progress,
		Predictions: make([]classifier.ItemPrediction, 0, len(p.Predictions)),
	}
	for _, pred := range p.Predictions {
		u.Predictions = append(u.Predictions, classifier.ItemPrediction{
			JobID:    pred.JobID,
			ItemName: strings.TrimSuffix(pred.ImageName, uploadExtension),
			Class:    pred.Prediction,
			Status:   pred.Status,
		})
	}
	return u
}
