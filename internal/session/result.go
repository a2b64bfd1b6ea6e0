package session

import (
	"time"

	"github.com/safesight/safesight/internal/compliance"
	"github.com/safesight/safesight/internal/detector"
	"github.com/safesight/safesight/internal/track"
)

// DetectionResult is the per-frame response payload. The field names are a
// wire contract shared with existing clients and must not change.
type DetectionResult struct {
	FrameID      string            `json:"frameId"`
	Detected     int               `json:"detected"`
	Compliant    int               `json:"compliant"`
	NonCompliant int               `json:"nonCompliant"`
	Detections   []PersonDetection `json:"detections"`
}

// PersonDetection is one tracked worker's state in a frame.
type PersonDetection struct {
	WorkerID      *string      `json:"workerId"`
	BoundingBox   detector.Box `json:"boundingBox"`
	PPEStatus     []PPEStatus  `json:"ppeStatus"`
	OverallStatus string       `json:"overallStatus"`
	Confidence    float64      `json:"confidence"`
}

// PPEStatus is the per-item compliance entry in a detection.
type PPEStatus struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	LastDetected string `json:"lastDetected"`
}

// buildResult assembles the response payload from the matched tracks.
func buildResult(frameID string, matched []*track.Assignment) *DetectionResult {
	result := &DetectionResult{
		FrameID:    frameID,
		Detected:   len(matched),
		Detections: make([]PersonDetection, 0, len(matched)),
	}

	for _, a := range matched {
		overall := a.Track.Compliance.Overall()
		// Workers not yet confirmed compliant count on the non-compliant
		// side, so compliant + nonCompliant always equals detected.
		if overall == compliance.StatusCompliant {
			result.Compliant++
		} else {
			result.NonCompliant++
		}

		result.Detections = append(result.Detections, PersonDetection{
			WorkerID:      workerIDOrNull(a.Track.WorkerID),
			BoundingBox:   a.Track.LastBox,
			PPEStatus:     ppeStatuses(a.Track),
			OverallStatus: wireStatus(overall),
			Confidence:    a.Track.Confidence,
		})
	}

	return result
}

func workerIDOrNull(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// wireStatus maps internal statuses onto the three values clients accept.
// A track that has not filled its window yet is reported as partial.
func wireStatus(s compliance.Status) string {
	if s == compliance.StatusInitializing {
		return string(compliance.StatusPartial)
	}
	return string(s)
}

func ppeStatuses(t *track.Track) []PPEStatus {
	items := t.Compliance.Items()
	out := make([]PPEStatus, 0, len(items))
	for _, item := range items {
		last := ""
		if !item.LastDetected.IsZero() {
			last = item.LastDetected.UTC().Format(time.RFC3339)
		}
		out = append(out, PPEStatus{
			Type:         string(item.Type),
			Status:       wireStatus(item.Status),
			LastDetected: last,
		})
	}
	return out
}
