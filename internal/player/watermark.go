package player

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// watermarkRefresh is the wall-clock cadence at which the freshness token
// in the overlay text changes. Independent of playback state and of the
// checkpoint cadence.
const watermarkRefresh = 5 * time.Second

// Rotator produces the overlay text: viewer identity, a freshness
// timestamp quantized to the refresh window, and the course label. If the
// identity momentarily goes missing it keeps serving the last-known text;
// the overlay must never go blank while media is on screen.
type Rotator struct {
	mu       sync.Mutex
	identity string
	course   string
	last     string
}

func NewRotator(identity, course string) *Rotator {
	return &Rotator{identity: identity, course: course}
}

// Update replaces the identity payload, e.g. after a session re-issue.
// Empty values are ignored so a degraded re-issue cannot blank the mark.
func (r *Rotator) Update(identity, course string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if identity != "" {
		r.identity = identity
	}
	if course != "" {
		r.course = course
	}
}

// Text returns the overlay text for the given instant. The timestamp is
// truncated to the refresh window so two calls inside one window agree and
// calls across a window boundary differ.
func (r *Rotator) Text(now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == "" {
		return r.last
	}
	stamp := now.UTC().Truncate(watermarkRefresh).Format("2006-01-02 15:04:05 UTC")
	r.last = fmt.Sprintf("%s | %s | %s", r.identity, stamp, r.course)
	return r.last
}

// Tile is one rendered instance of the watermark text. The overlay is a
// set of rotated rows sliding horizontally so no crop of the frame stays
// watermark-free.
type Tile struct {
	Text         string
	TopPercent   float64
	LeftPercent  float64
	AngleDegrees float64
}

// Overlay lays the rotated rows out across the frame. rows controls
// density; drift is a slow horizontal phase derived from the clock so the
// marks translate over time.
type Overlay struct {
	rotator *Rotator
	rows    int
}

func NewOverlay(rotator *Rotator, rows int) *Overlay {
	if rows <= 0 {
		rows = 4
	}
	return &Overlay{rotator: rotator, rows: rows}
}

// Layout returns the tile set for the given instant. It never fails: with
// no text available yet it returns an empty slice and the renderer simply
// draws nothing this frame.
func (o *Overlay) Layout(now time.Time) []Tile {
	text := o.rotator.Text(now)
	if text == "" {
		return nil
	}
	// repeat the text so a row spans the frame at any reasonable width
	row := strings.TrimSpace(strings.Repeat(text+"    ", 3))

	drift := float64(now.Unix()%60) / 60 * 10 // 0..10% over a minute
	tiles := make([]Tile, 0, o.rows)
	step := 100.0 / float64(o.rows)
	for i := 0; i < o.rows; i++ {
		offset := drift
		if i%2 == 1 {
			offset = -drift
		}
		tiles = append(tiles, Tile{
			Text:         row,
			TopPercent:   float64(i)*step + step/2,
			LeftPercent:  -10 + offset,
			AngleDegrees: -16,
		})
	}
	return tiles
}
