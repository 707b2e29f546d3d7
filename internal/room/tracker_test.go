/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"testing"

	"github.com/friendsincode/tablemix/internal/models"
)

func testLayout() []models.Channel {
	return []models.Channel{
		models.NewChannel("bgm_1a", models.ChannelBGM, "music", "A"),
		models.NewChannel("bgm_1b", models.ChannelBGM, "music", "B"),
		models.NewChannel("sfx_1", models.ChannelSFX, "", ""),
	}
}

func src(name string) models.SourceRef {
	return models.SourceRef{Filename: name}
}

func TestTracker_FoldsBatches(t *testing.T) {
	tr := NewTracker(testLayout())
	changed := tr.Apply(models.NewBatch(0,
		models.Load{Channel: "bgm_1a", Source: src("tavern.ogg")},
		models.SetVolume{Channel: "bgm_1a", Volume: 2},
		models.SetLoop{Channel: "bgm_1a", Looping: true},
		models.Play{Channel: "bgm_1a"},
		models.Play{Channel: "bgm_1b"},
		models.SetLoop{Channel: "sfx_1", Looping: true},
		models.Play{Channel: "missing"},
	))
	if len(changed) != 1 || changed[0] != "bgm_1a" {
		t.Fatalf("expected only bgm_1a changed, got %v", changed)
	}

	ch, _ := tr.Channel("bgm_1a")
	if ch.State != models.StatePlaying || !ch.Looping || ch.Volume != models.MaxVolume {
		t.Fatalf("unexpected channel %+v", ch)
	}
	if b, _ := tr.Channel("bgm_1b"); b.State != models.StateStopped {
		t.Fatal("play without a source must not change state")
	}
	if s, _ := tr.Channel("sfx_1"); s.Looping {
		t.Fatal("sfx must never loop")
	}
}

func TestTracker_PauseRules(t *testing.T) {
	tr := NewTracker(testLayout())
	tr.Apply(models.NewBatch(0,
		models.Load{Channel: "bgm_1a", Source: src("a.ogg")},
		models.Load{Channel: "sfx_1", Source: src("hit.wav")},
		models.Play{Channel: "bgm_1a"},
		models.Play{Channel: "sfx_1"},
		models.Pause{Channel: "bgm_1a"},
		models.Pause{Channel: "sfx_1"},
	))
	if ch, _ := tr.Channel("bgm_1a"); ch.State != models.StatePaused {
		t.Fatalf("expected bgm paused, got %s", ch.State)
	}
	if ch, _ := tr.Channel("sfx_1"); ch.State != models.StatePlaying {
		t.Fatalf("sfx pause must be ignored, got %s", ch.State)
	}

	tr.Apply(models.NewBatch(0, models.Resume{Channel: "bgm_1a"}, models.Stop{Channel: "sfx_1"}))
	if ch, _ := tr.Channel("bgm_1a"); ch.State != models.StatePlaying {
		t.Fatalf("expected resumed, got %s", ch.State)
	}
	if ch, _ := tr.Channel("sfx_1"); ch.State != models.StateStopped {
		t.Fatalf("expected stopped, got %s", ch.State)
	}
}

func TestTracker_SnapshotOrder(t *testing.T) {
	tr := NewTracker(testLayout())
	tr.Apply(models.NewBatch(0,
		models.Load{Channel: "bgm_1a", Source: src("a.ogg")},
		models.Load{Channel: "bgm_1b", Source: src("b.ogg")},
		models.Load{Channel: "sfx_1", Source: src("hit.wav")},
		models.SetVolume{Channel: "bgm_1b", Volume: 0.5},
		models.SetLoop{Channel: "bgm_1a", Looping: true},
		models.Play{Channel: "bgm_1a"},
		models.Play{Channel: "sfx_1"},
	))

	snap := tr.SnapshotBatch()
	var kinds []models.OpKind
	for _, op := range snap.Operations {
		kinds = append(kinds, op.Kind())
	}
	want := []models.OpKind{models.OpLoad, models.OpLoad, models.OpLoad, models.OpVolume, models.OpLoop, models.OpPlay}
	if len(kinds) != len(want) {
		t.Fatalf("snapshot ops %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("snapshot ops %v, want %v", kinds, want)
		}
	}
	if p := snap.Operations[5].(models.Play); p.Channel != "bgm_1a" {
		t.Fatalf("expected only bgm_1a restarted, got %s", p.Channel)
	}
	if snap.FadeDuration != 0 {
		t.Fatal("snapshot must apply instantly")
	}
}

func TestTracker_SnapshotReplaysIntoEqualState(t *testing.T) {
	tr := NewTracker(testLayout())
	tr.Apply(models.NewBatch(0,
		models.Load{Channel: "bgm_1b", Source: src("b.ogg")},
		models.SetVolume{Channel: "bgm_1b", Volume: 0.25},
		models.SetLoop{Channel: "bgm_1b", Looping: true},
		models.Play{Channel: "bgm_1b"},
	))

	fresh := NewTracker(testLayout())
	fresh.Apply(tr.SnapshotBatch())
	a, _ := tr.Channel("bgm_1b")
	b, _ := fresh.Channel("bgm_1b")
	if a != b {
		t.Fatalf("replayed snapshot differs: %+v vs %+v", a, b)
	}
}

func TestTracker_Restore(t *testing.T) {
	tr := NewTracker(testLayout())
	sfx := models.NewChannel("sfx_1", models.ChannelSFX, "", "")
	sfx.State = models.StatePlaying
	sfx.Source = src("hit.wav")
	bgm := models.NewChannel("bgm_1a", models.ChannelBGM, "music", "A")
	bgm.State = models.StatePlaying
	bgm.Source = src("a.ogg")
	bgm.Looping = true
	bgm.Volume = 0.7
	ghost := models.NewChannel("gone", models.ChannelBGM, "music", "")

	tr.restore([]models.Channel{sfx, bgm, ghost})

	if ch, _ := tr.Channel("sfx_1"); ch.State != models.StateStopped || ch.Source != src("hit.wav") {
		t.Fatalf("expected restored sfx stopped with source, got %+v", ch)
	}
	if ch, _ := tr.Channel("bgm_1a"); ch.State != models.StatePlaying || !ch.Looping || ch.Volume != 0.7 {
		t.Fatalf("unexpected restored bgm %+v", ch)
	}
	if _, ok := tr.Channel("gone"); ok {
		t.Fatal("channels outside the layout must be ignored")
	}
}
