package player

import (
	"strings"
	"testing"
	"time"
)

func TestRotator_TextCarriesIdentityAndFreshToken(t *testing.T) {
	r := NewRotator("student@example.com", "Distributed Systems")
	now := time.Date(2026, 8, 31, 10, 0, 2, 0, time.UTC)

	text := r.Text(now)
	if !strings.Contains(text, "student@example.com") {
		t.Errorf("expected identity in %q", text)
	}
	if !strings.Contains(text, "Distributed Systems") {
		t.Errorf("expected course in %q", text)
	}
	if !strings.Contains(text, "UTC") {
		t.Errorf("expected timestamp in %q", text)
	}
}

func TestRotator_TextChangesAcrossRefreshWindows(t *testing.T) {
	r := NewRotator("student@example.com", "Distributed Systems")
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	first := r.Text(base.Add(1 * time.Second))
	sameWindow := r.Text(base.Add(3 * time.Second))
	nextWindow := r.Text(base.Add(6 * time.Second))

	if first != sameWindow {
		t.Errorf("texts within one window should agree: %q vs %q", first, sameWindow)
	}
	if first == nextWindow {
		t.Error("text should change across a 5-second window boundary")
	}
}

func TestRotator_MissingIdentityServesLastKnown(t *testing.T) {
	r := NewRotator("student@example.com", "Distributed Systems")
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	known := r.Text(now)

	r.Update("", "")
	if got := r.Text(now.Add(10 * time.Second)); got != known {
		// Update ignores empty values, so the identity survives
		t.Errorf("expected last-known text to survive, got %q", got)
	}

	empty := NewRotator("", "")
	if got := empty.Text(now); got != "" {
		t.Errorf("rotator with no identity and no history should be blank, got %q", got)
	}
}

func TestRotator_UpdateSwapsIdentity(t *testing.T) {
	r := NewRotator("old@example.com", "Old Course")
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	r.Text(now)

	r.Update("new@example.com", "New Course")
	text := r.Text(now)
	if !strings.Contains(text, "new@example.com") || !strings.Contains(text, "New Course") {
		t.Errorf("expected updated identity, got %q", text)
	}
}

func TestOverlay_TilesCoverFrameRotated(t *testing.T) {
	r := NewRotator("student@example.com", "Distributed Systems")
	o := NewOverlay(r, 4)
	now := time.Date(2026, 8, 31, 10, 0, 30, 0, time.UTC)

	tiles := o.Layout(now)
	if len(tiles) != 4 {
		t.Fatalf("expected 4 tiles, got %d", len(tiles))
	}
	for i, tile := range tiles {
		if tile.AngleDegrees == 0 {
			t.Errorf("tile %d must be rotated", i)
		}
		if !strings.Contains(tile.Text, "student@example.com") {
			t.Errorf("tile %d missing identity: %q", i, tile.Text)
		}
		if strings.Count(tile.Text, "student@example.com") < 2 {
			t.Errorf("tile %d should repeat the mark across the row", i)
		}
		if tile.TopPercent < 0 || tile.TopPercent > 100 {
			t.Errorf("tile %d top out of frame: %f", i, tile.TopPercent)
		}
	}
}

func TestOverlay_TilesDriftOverTime(t *testing.T) {
	r := NewRotator("student@example.com", "Distributed Systems")
	o := NewOverlay(r, 4)
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	early := o.Layout(base.Add(5 * time.Second))
	late := o.Layout(base.Add(35 * time.Second))

	if early[0].LeftPercent == late[0].LeftPercent {
		t.Error("tiles should translate over time")
	}
}

func TestOverlay_NoIdentityRendersNothing(t *testing.T) {
	o := NewOverlay(NewRotator("", ""), 4)
	if tiles := o.Layout(time.Now()); len(tiles) != 0 {
		t.Errorf("expected empty layout, got %d tiles", len(tiles))
	}
}
