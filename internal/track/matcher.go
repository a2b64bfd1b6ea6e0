package track

import (
	"log"
	"math"
	"sort"
	"time"

	"gocv.io/x/gocv"

	"github.com/safesight/safesight/internal/compliance"
	"github.com/safesight/safesight/internal/detector"
)

// Assignment links a live track with the person detection that matched it
// this frame and the PPE items attributed to it.
type Assignment struct {
	Track     *Track
	Detection detector.RawDetection
	// Items maps each PPE item type to whether it was observed near this
	// track's person box. A type missing from the map was observed absent.
	Items map[detector.PPEType]bool
	// New is true when the track was created for this detection.
	New bool
}

// FrameResult is the outcome of matching one frame's detections.
type FrameResult struct {
	// Matched lists tracks seen this frame, in detection order.
	Matched []*Assignment
	// Expired lists tracks removed this frame after exceeding the
	// silence threshold.
	Expired []*Track
}

// Matcher maintains the live track set for one session. It is single-writer:
// the owning session processes frames strictly sequentially.
type Matcher struct {
	config   Config
	resolver WorkerResolver
	nextID   int64
	tracks   []*Track
}

// NewMatcher creates a Matcher with the given configuration and worker
// resolver. A nil resolver leaves every track anonymous.
func NewMatcher(config Config, resolver WorkerResolver) *Matcher {
	if config.IoUThreshold <= 0 {
		config.IoUThreshold = DefaultConfig().IoUThreshold
	}
	if config.SilenceExpiry <= 0 {
		config.SilenceExpiry = DefaultConfig().SilenceExpiry
	}
	if config.ItemMargin <= 0 {
		config.ItemMargin = DefaultConfig().ItemMargin
	}
	if resolver == nil {
		resolver = NoopResolver{}
	}
	return &Matcher{
		config:   config,
		resolver: resolver,
	}
}

// Tracks returns the current live track set.
func (m *Matcher) Tracks() []*Track {
	return m.tracks
}

// SetCompliance replaces the compliance configuration used for tracks
// created after this call. Existing tracks keep their state machines so
// their debounce windows are not reset mid-stream.
func (m *Matcher) SetCompliance(cfg compliance.Config) {
	m.config.Compliance = cfg
}

// candidate is a (track, detection) pair eligible for assignment.
type candidate struct {
	trackIdx int
	detIdx   int
	iou      float64
}

// Match associates one frame's detections with the live track set.
//
// Person detections are greedily assigned to tracks in descending IoU order,
// each track and each detection used at most once; ties break on higher
// detection confidence. Unassigned person detections spawn new tracks.
// Tracks unmatched this frame advance their silence counter and expire once
// it exceeds the configured threshold; a frame with zero person detections
// still advances every track's silence counter.
//
// PPE item detections are attributed to the matched person whose box
// contains the item centroid (within a small margin); overlapping claims go
// to the nearer centroid.
func (m *Matcher) Match(dets []detector.RawDetection, frame *gocv.Mat, ts time.Time) FrameResult {
	var persons, items []detector.RawDetection
	for _, d := range dets {
		if d.Type == detector.TypePerson {
			persons = append(persons, d)
		} else {
			items = append(items, d)
		}
	}

	// Build eligible pairs above the IoU threshold.
	var candidates []candidate
	for ti, t := range m.tracks {
		for di, p := range persons {
			iou := t.LastBox.IoU(p.Box)
			if iou >= m.config.IoUThreshold {
				candidates = append(candidates, candidate{trackIdx: ti, detIdx: di, iou: iou})
			}
		}
	}

	// Descending IoU, confidence as tie-break, then stable indices so the
	// same input ordering always yields the same assignments.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].iou != candidates[j].iou {
			return candidates[i].iou > candidates[j].iou
		}
		ci := persons[candidates[i].detIdx].Confidence
		cj := persons[candidates[j].detIdx].Confidence
		if ci != cj {
			return ci > cj
		}
		if candidates[i].trackIdx != candidates[j].trackIdx {
			return candidates[i].trackIdx < candidates[j].trackIdx
		}
		return candidates[i].detIdx < candidates[j].detIdx
	})

	trackTaken := make(map[int]bool)
	detTaken := make(map[int]bool)
	assignedTo := make(map[int]int) // detIdx -> trackIdx

	for _, c := range candidates {
		if trackTaken[c.trackIdx] || detTaken[c.detIdx] {
			continue
		}
		trackTaken[c.trackIdx] = true
		detTaken[c.detIdx] = true
		assignedTo[c.detIdx] = c.trackIdx
	}

	var result FrameResult

	// Matched and new tracks, in detection order.
	for di, p := range persons {
		var t *Track
		isNew := false

		if ti, ok := assignedTo[di]; ok {
			t = m.tracks[ti]
		} else {
			t = m.spawn(p, frame, ts)
			isNew = true
		}

		t.LastBox = p.Box
		t.LastSeen = ts
		t.Confidence = p.Confidence
		t.Silence = 0

		result.Matched = append(result.Matched, &Assignment{
			Track:     t,
			Detection: p,
			Items:     make(map[detector.PPEType]bool),
			New:       isNew,
		})
	}

	m.attributeItems(result.Matched, items)

	// Advance silence on everything unmatched and expire past the threshold.
	survivors := m.tracks[:0]
	for _, t := range m.tracks {
		matched := false
		for _, a := range result.Matched {
			if a.Track == t {
				matched = true
				break
			}
		}
		if !matched {
			t.Silence++
			if t.Silence > m.config.SilenceExpiry {
				result.Expired = append(result.Expired, t)
				continue
			}
		}
		survivors = append(survivors, t)
	}
	m.tracks = survivors

	return result
}

// ExpireAll removes and returns every live track. Used on session teardown.
func (m *Matcher) ExpireAll() []*Track {
	expired := m.tracks
	m.tracks = nil
	return expired
}

// spawn creates a track for an unassigned person detection and attempts
// worker identity resolution.
func (m *Matcher) spawn(p detector.RawDetection, frame *gocv.Mat, ts time.Time) *Track {
	m.nextID++
	t := &Track{
		ID:         m.nextID,
		LastBox:    p.Box,
		LastSeen:   ts,
		Confidence: p.Confidence,
		Compliance: compliance.NewState(m.config.Compliance),
	}
	m.tracks = append(m.tracks, t)

	workerID, err := m.resolver.Resolve(p.Box, frame)
	if err != nil {
		log.Printf("worker resolution failed for track %d: %v", t.ID, err)
	} else {
		t.WorkerID = workerID
	}

	return t
}

// attributeItems assigns each PPE item detection to the matched person whose
// box contains the item's centroid, using centroid distance as the tie-break
// when boxes overlap.
func (m *Matcher) attributeItems(matched []*Assignment, items []detector.RawDetection) {
	for _, item := range items {
		cx, cy := item.Box.Centroid()

		var best *Assignment
		bestDist := 0.0
		for _, a := range matched {
			// The margin scales with the person box so helmets slightly
			// above the head crop still attribute.
			box := a.Track.LastBox
			margin := m.config.ItemMargin * math.Max(box.Width, box.Height)
			if !box.ContainsWithMargin(cx, cy, margin) {
				continue
			}
			dist := a.Track.LastBox.CentroidDistance(item.Box)
			if best == nil || dist < bestDist {
				best = a
				bestDist = dist
			}
		}

		if best != nil {
			best.Items[item.Type] = true
		}
	}
}
