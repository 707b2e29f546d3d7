/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestBatchUnmarshal_PreservesOrderAndFade(t *testing.T) {
	raw := `{
		"operations": [
			{"trackId": "bgm_B", "operation": "play", "fade": true},
			{"trackId": "bgm_A", "operation": "stop", "fade": true},
			{"trackId": "sfx_1", "operation": "load", "filename": "door.wav", "asset_id": "a1", "s3_url": "s3://bucket/door.wav"},
			{"trackId": "bgm_A", "operation": "volume", "volume": 0.4},
			{"trackId": "bgm_A", "operation": "loop", "looping": true}
		],
		"fadeDurationMs": 2500
	}`

	var b Batch
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if b.FadeDuration != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s fade, got %s", b.FadeDuration)
	}
	if b.Len() != 5 {
		t.Fatalf("expected 5 operations, got %d", b.Len())
	}

	play, ok := b.Operations[0].(Play)
	if !ok || play.Channel != "bgm_B" || !play.Fade {
		t.Fatalf("unexpected first op: %#v", b.Operations[0])
	}
	if _, ok := b.Operations[1].(Stop); !ok {
		t.Fatalf("expected stop second, got %#v", b.Operations[1])
	}
	load := b.Operations[2].(Load)
	if load.Source.Filename != "door.wav" || load.Source.AssetID != "a1" || load.Source.URL != "s3://bucket/door.wav" {
		t.Fatalf("unexpected load source: %+v", load.Source)
	}
	if vol := b.Operations[3].(SetVolume); vol.Volume != 0.4 {
		t.Fatalf("expected volume 0.4, got %v", vol.Volume)
	}
	if loop := b.Operations[4].(SetLoop); !loop.Looping {
		t.Fatal("expected looping=true")
	}
}

func TestBatchUnmarshal_OmittedFadeIsInstant(t *testing.T) {
	var b Batch
	if err := json.Unmarshal([]byte(`{"operations":[{"trackId":"x","operation":"stop"}]}`), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if b.FadeDuration != 0 {
		t.Fatalf("expected no fade, got %s", b.FadeDuration)
	}
}

func TestBatchUnmarshal_RejectsUnknownAndMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"unknown op", `{"operations":[{"trackId":"x","operation":"rewind"}]}`, ErrUnknownOperation},
		{"volume without value", `{"operations":[{"trackId":"x","operation":"volume"}]}`, ErrMalformedOperation},
		{"loop without value", `{"operations":[{"trackId":"x","operation":"loop"}]}`, ErrMalformedOperation},
		{"missing track", `{"operations":[{"operation":"play"}]}`, ErrMalformedOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Batch
			err := json.Unmarshal([]byte(tt.raw), &b)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBatchMarshal_WireShape(t *testing.T) {
	b := NewBatch(1500*time.Millisecond,
		Play{Channel: "bgm_A", Fade: true},
		SetVolume{Channel: "bgm_A", Volume: 0.8},
	)
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		t.Fatalf("unmarshal generic: %v", err)
	}
	if generic["fadeDurationMs"] != float64(1500) {
		t.Fatalf("expected fadeDurationMs=1500, got %v", generic["fadeDurationMs"])
	}
	ops := generic["operations"].([]any)
	first := ops[0].(map[string]any)
	if first["trackId"] != "bgm_A" || first["operation"] != "play" || first["fade"] != true {
		t.Fatalf("unexpected wire op: %v", first)
	}
	if _, ok := first["volume"]; ok {
		t.Fatal("play should not carry a volume field")
	}
}

func TestClampVolume(t *testing.T) {
	if got := ClampVolume(2.0); got != MaxVolume {
		t.Fatalf("expected %v, got %v", MaxVolume, got)
	}
	if got := ClampVolume(-1); got != MinVolume {
		t.Fatalf("expected %v, got %v", MinVolume, got)
	}
	if got := ClampVolume(1.2); got != 1.2 {
		t.Fatalf("expected headroom to be kept, got %v", got)
	}
}

func TestChannelValidate(t *testing.T) {
	sfx := NewChannel("sfx_1", ChannelSFX, "music", "A")
	if sfx.Group != "" || sfx.Track != "" {
		t.Fatal("sfx channels should not carry group/track")
	}
	sfx.Looping = true
	if err := sfx.Validate(); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected looping sfx to be invalid, got %v", err)
	}

	sfx.Looping = false
	sfx.State = StatePaused
	if err := sfx.Validate(); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("expected paused sfx to be invalid, got %v", err)
	}

	bgm := NewChannel("bgm_A", ChannelBGM, "music", "A")
	bgm.State = StatePaused
	bgm.Looping = true
	if err := bgm.Validate(); err != nil {
		t.Fatalf("expected paused looping bgm to be valid: %v", err)
	}
}

func TestRoomChannelRoundTripDropsInvalidFlags(t *testing.T) {
	row := RoomChannel{RoomID: "r", ChannelID: "sfx_2", Kind: "sfx", State: "paused", Looping: true, Volume: 5}
	ch := row.Channel()
	if ch.Looping || ch.State != StateStopped || ch.Volume != MaxVolume {
		t.Fatalf("expected sanitized channel, got %+v", ch)
	}
	if err := ch.Validate(); err != nil {
		t.Fatalf("expected valid channel: %v", err)
	}
}
