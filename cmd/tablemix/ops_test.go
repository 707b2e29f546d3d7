/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/tablemix/internal/mixer"
	"github.com/friendsincode/tablemix/internal/models"
)

func TestParseSource(t *testing.T) {
	cases := map[string]models.SourceRef{
		"tavern.ogg":             {Filename: "tavern.ogg"},
		"asset:42":               {AssetID: "42"},
		"https://cdn/rain.ogg":   {URL: "https://cdn/rain.ogg"},
		"s3://bucket/storm.flac": {URL: "s3://bucket/storm.flac"},
	}
	for in, want := range cases {
		if got := parseSource(in); got != want {
			t.Fatalf("parseSource(%q) = %+v, want %+v", in, got, want)
		}
	}
}

func TestParseOperation(t *testing.T) {
	cases := []struct {
		in   string
		want models.Operation
	}{
		{"load:bgm_1a=tavern.ogg", models.Load{Channel: "bgm_1a", Source: models.SourceRef{Filename: "tavern.ogg"}}},
		{"play:bgm_1a", models.Play{Channel: "bgm_1a"}},
		{"PLAY:bgm_1a=fade", models.Play{Channel: "bgm_1a", Fade: true}},
		{"stop:bgm_1b=fade", models.Stop{Channel: "bgm_1b", Fade: true}},
		{"pause:bgm_1a", models.Pause{Channel: "bgm_1a"}},
		{"resume:bgm_1a", models.Resume{Channel: "bgm_1a"}},
		{"volume:sfx_1=0.6", models.SetVolume{Channel: "sfx_1", Volume: 0.6}},
		{"loop:bgm_1a=on", models.SetLoop{Channel: "bgm_1a", Looping: true}},
		{"loop:bgm_1a=off", models.SetLoop{Channel: "bgm_1a"}},
	}
	for _, tc := range cases {
		got, err := parseOperation(tc.in)
		if err != nil {
			t.Fatalf("parseOperation(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseOperation(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestParseOperationRejectsMalformed(t *testing.T) {
	for _, in := range []string{"play", "play:", "play:=fade", "play:bgm_1a=loud", "volume:sfx_1=high", "loop:bgm_1a=maybe"} {
		if _, err := parseOperation(in); !errors.Is(err, models.ErrMalformedOperation) {
			t.Fatalf("parseOperation(%q): expected malformed, got %v", in, err)
		}
	}
	if _, err := parseOperation("rewind:bgm_1a"); !errors.Is(err, models.ErrUnknownOperation) {
		t.Fatalf("expected unknown operation, got %v", err)
	}
}

func TestBuildBatchKeepsOrder(t *testing.T) {
	b, err := buildBatch([]string{"load:bgm_1a=a.ogg", "play:bgm_1a=fade", "stop:bgm_1b=fade"}, "", 2*time.Second)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if b.Len() != 3 || b.FadeDuration != 2*time.Second {
		t.Fatalf("unexpected batch %+v", b)
	}
	if _, ok := b.Operations[0].(models.Load); !ok {
		t.Fatalf("expected load first, got %#v", b.Operations[0])
	}
	if _, err := buildBatch(nil, "", 0); err == nil {
		t.Fatal("expected empty batch to fail")
	}
}

func TestBatchesFor(t *testing.T) {
	cases := []struct {
		plan mixer.Plan
		want int
	}{
		{mixer.Plan{Strategy: mixer.StrategyNone}, 0},
		{mixer.Plan{Strategy: mixer.StrategyCrossfade, ToStart: []string{"a"}, ToStop: []string{"b"}}, 2},
		{mixer.Plan{Strategy: mixer.StrategyCrossfade, ToStart: []string{"a"}}, 1},
		{mixer.Plan{Strategy: mixer.StrategyFade, ToStart: []string{"a"}, ToStop: []string{"b"}}, 1},
	}
	for _, tc := range cases {
		if got := batchesFor(tc.plan); got != tc.want {
			t.Fatalf("batchesFor(%+v) = %d, want %d", tc.plan, got, tc.want)
		}
	}
}
