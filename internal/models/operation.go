/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OpKind names an operation on the wire.
type OpKind string

const (
	OpLoad   OpKind = "load"
	OpPlay   OpKind = "play"
	OpPause  OpKind = "pause"
	OpResume OpKind = "resume"
	OpStop   OpKind = "stop"
	OpVolume OpKind = "volume"
	OpLoop   OpKind = "loop"
)

var (
	// ErrUnknownOperation indicates an operation name outside the supported set.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrMalformedOperation indicates a known operation with a missing or invalid field.
	ErrMalformedOperation = errors.New("malformed operation")
)

// Operation is a single one-shot channel command. The set of implementations is closed:
// Load, Play, Pause, Resume, Stop, SetVolume, SetLoop.
type Operation interface {
	ChannelID() string
	Kind() OpKind
	operation()
}

// Load assigns (or clears, when Source is zero) the channel's asset.
type Load struct {
	Channel string
	Source  SourceRef
}

// Play starts playback; on a paused channel it resumes.
type Play struct {
	Channel string
	Fade    bool
}

// Pause freezes a playing BGM channel.
type Pause struct {
	Channel string
}

// Resume continues a paused channel from its frozen position.
type Resume struct {
	Channel string
}

// Stop halts playback and rewinds.
type Stop struct {
	Channel string
	Fade    bool
}

// SetVolume changes channel gain.
type SetVolume struct {
	Channel string
	Volume  float64
}

// SetLoop toggles looping on a BGM channel.
type SetLoop struct {
	Channel string
	Looping bool
}

func (o Load) ChannelID() string      { return o.Channel }
func (o Play) ChannelID() string      { return o.Channel }
func (o Pause) ChannelID() string     { return o.Channel }
func (o Resume) ChannelID() string    { return o.Channel }
func (o Stop) ChannelID() string      { return o.Channel }
func (o SetVolume) ChannelID() string { return o.Channel }
func (o SetLoop) ChannelID() string   { return o.Channel }

func (Load) Kind() OpKind      { return OpLoad }
func (Play) Kind() OpKind      { return OpPlay }
func (Pause) Kind() OpKind     { return OpPause }
func (Resume) Kind() OpKind    { return OpResume }
func (Stop) Kind() OpKind      { return OpStop }
func (SetVolume) Kind() OpKind { return OpVolume }
func (SetLoop) Kind() OpKind   { return OpLoop }

func (Load) operation()      {}
func (Play) operation()      {}
func (Pause) operation()     {}
func (Resume) operation()    {}
func (Stop) operation()      {}
func (SetVolume) operation() {}
func (SetLoop) operation()   {}

// Batch is an ordered list of operations applied as one unit.
// A zero FadeDuration means instantaneous.
type Batch struct {
	Operations   []Operation
	FadeDuration time.Duration
}

// NewBatch builds a batch from operations.
func NewBatch(fade time.Duration, ops ...Operation) Batch {
	return Batch{Operations: ops, FadeDuration: fade}
}

// Len returns the number of operations.
func (b Batch) Len() int {
	return len(b.Operations)
}

// WireOperation is the JSON shape of an operation.
type WireOperation struct {
	TrackID   string   `json:"trackId"`
	Operation OpKind   `json:"operation"`
	Filename  string   `json:"filename,omitempty"`
	AssetID   string   `json:"asset_id,omitempty"`
	S3URL     string   `json:"s3_url,omitempty"`
	Looping   *bool    `json:"looping,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	Fade      bool     `json:"fade,omitempty"`
}

type wireBatch struct {
	Operations     []WireOperation `json:"operations"`
	FadeDurationMs *int64          `json:"fadeDurationMs,omitempty"`
}

// EncodeOperation converts an operation to its wire form.
func EncodeOperation(op Operation) WireOperation {
	w := WireOperation{TrackID: op.ChannelID(), Operation: op.Kind()}
	switch o := op.(type) {
	case Load:
		w.Filename = o.Source.Filename
		w.AssetID = o.Source.AssetID
		w.S3URL = o.Source.URL
	case Play:
		w.Fade = o.Fade
	case Stop:
		w.Fade = o.Fade
	case SetVolume:
		v := o.Volume
		w.Volume = &v
	case SetLoop:
		l := o.Looping
		w.Looping = &l
	}
	return w
}

// DecodeOperation converts a wire operation into its typed form.
func DecodeOperation(w WireOperation) (Operation, error) {
	if w.TrackID == "" {
		return nil, fmt.Errorf("%w: missing trackId", ErrMalformedOperation)
	}
	switch w.Operation {
	case OpLoad:
		return Load{Channel: w.TrackID, Source: SourceRef{Filename: w.Filename, AssetID: w.AssetID, URL: w.S3URL}}, nil
	case OpPlay:
		return Play{Channel: w.TrackID, Fade: w.Fade}, nil
	case OpPause:
		return Pause{Channel: w.TrackID}, nil
	case OpResume:
		return Resume{Channel: w.TrackID}, nil
	case OpStop:
		return Stop{Channel: w.TrackID, Fade: w.Fade}, nil
	case OpVolume:
		if w.Volume == nil {
			return nil, fmt.Errorf("%w: volume on %s without value", ErrMalformedOperation, w.TrackID)
		}
		return SetVolume{Channel: w.TrackID, Volume: *w.Volume}, nil
	case OpLoop:
		if w.Looping == nil {
			return nil, fmt.Errorf("%w: loop on %s without value", ErrMalformedOperation, w.TrackID)
		}
		return SetLoop{Channel: w.TrackID, Looping: *w.Looping}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, w.Operation)
	}
}

// MarshalJSON implements json.Marshaler.
func (b Batch) MarshalJSON() ([]byte, error) {
	wb := wireBatch{Operations: make([]WireOperation, 0, len(b.Operations))}
	for _, op := range b.Operations {
		wb.Operations = append(wb.Operations, EncodeOperation(op))
	}
	if b.FadeDuration > 0 {
		ms := b.FadeDuration.Milliseconds()
		wb.FadeDurationMs = &ms
	}
	return json.Marshal(wb)
}

// UnmarshalJSON implements json.Unmarshaler. A batch with any undecodable
// operation is rejected whole, since its ordering intent can't be honored.
func (b *Batch) UnmarshalJSON(data []byte) error {
	var wb wireBatch
	if err := json.Unmarshal(data, &wb); err != nil {
		return err
	}
	ops := make([]Operation, 0, len(wb.Operations))
	for i, w := range wb.Operations {
		op, err := DecodeOperation(w)
		if err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	b.Operations = ops
	b.FadeDuration = 0
	if wb.FadeDurationMs != nil && *wb.FadeDurationMs > 0 {
		b.FadeDuration = time.Duration(*wb.FadeDurationMs) * time.Millisecond
	}
	return nil
}
