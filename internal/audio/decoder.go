/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// Decoder turns raw asset bytes into a playable buffer.
type Decoder interface {
	Decode(name string, data []byte) (*Buffer, error)
}

// FormatDecoder decodes WAV, MP3 and Ogg Vorbis, resampling to SampleRate.
type FormatDecoder struct {
	SampleRate beep.SampleRate
	// Quality is passed to beep.Resample; 0 selects 4.
	Quality int
}

type container string

const (
	containerUnknown container = ""
	containerWAV     container = "wav"
	containerMP3     container = "mp3"
	containerVorbis  container = "vorbis"
)

// Decode implements Decoder.
func (d FormatDecoder) Decode(name string, data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s: empty asset", ErrDecode, name)
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch kind := detect(name, data); kind {
	case containerWAV:
		s, format, err = wav.Decode(bytes.NewReader(data))
	case containerMP3:
		s, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	case containerVorbis:
		s, format, err = vorbis.Decode(io.NopCloser(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("%w: %s: unrecognized format", ErrDecode, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, name, err)
	}
	defer s.Close()

	var src beep.Streamer = s
	if d.SampleRate > 0 && format.SampleRate != d.SampleRate {
		q := d.Quality
		if q <= 0 {
			q = 4
		}
		src = beep.Resample(q, format.SampleRate, d.SampleRate, s)
		format.SampleRate = d.SampleRate
	}

	buf, err := NewBuffer(format, src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: %s: no audio frames", ErrDecode, name)
	}
	return buf, nil
}

// detect sniffs magic bytes first and falls back to the file extension.
func detect(name string, data []byte) container {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return containerWAV
	case bytes.HasPrefix(data, []byte("OggS")):
		return containerVorbis
	case bytes.HasPrefix(data, []byte("ID3")):
		return containerMP3
	case len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return containerMP3
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return containerWAV
	case ".mp3":
		return containerMP3
	case ".ogg", ".oga":
		return containerVorbis
	}
	return containerUnknown
}
