/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/friendsincode/tablemix/internal/models"
)

// parseSource turns a command-line asset reference into a SourceRef:
// "asset:<id>" selects a catalog id, http(s):// and s3:// URLs are used as
// URLs, anything else is a file name under the media root.
func parseSource(s string) models.SourceRef {
	switch {
	case strings.HasPrefix(s, "asset:"):
		return models.SourceRef{AssetID: strings.TrimPrefix(s, "asset:")}
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "s3://"):
		return models.SourceRef{URL: s}
	default:
		return models.SourceRef{Filename: s}
	}
}

// parseOperation parses "kind:channel[=value]". play and stop accept the
// value "fade" to ride the batch fade.
func parseOperation(arg string) (models.Operation, error) {
	kind, rest, ok := strings.Cut(arg, ":")
	if !ok || rest == "" {
		return nil, fmt.Errorf("%w: %q, want kind:channel[=value]", models.ErrMalformedOperation, arg)
	}
	channel, value, hasValue := strings.Cut(rest, "=")
	if channel == "" {
		return nil, fmt.Errorf("%w: %q has no channel", models.ErrMalformedOperation, arg)
	}

	switch models.OpKind(strings.ToLower(kind)) {
	case models.OpLoad:
		return models.Load{Channel: channel, Source: parseSource(value)}, nil
	case models.OpPlay:
		fade, err := fadeFlag(arg, value, hasValue)
		return models.Play{Channel: channel, Fade: fade}, err
	case models.OpStop:
		fade, err := fadeFlag(arg, value, hasValue)
		return models.Stop{Channel: channel, Fade: fade}, err
	case models.OpPause:
		return models.Pause{Channel: channel}, nil
	case models.OpResume:
		return models.Resume{Channel: channel}, nil
	case models.OpVolume:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: volume: %w", models.ErrMalformedOperation, arg, err)
		}
		return models.SetVolume{Channel: channel, Volume: v}, nil
	case models.OpLoop:
		looping, err := parseSwitch(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", models.ErrMalformedOperation, arg, err)
		}
		return models.SetLoop{Channel: channel, Looping: looping}, nil
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownOperation, kind)
	}
}

func fadeFlag(arg, value string, hasValue bool) (bool, error) {
	if !hasValue {
		return false, nil
	}
	if value == "fade" {
		return true, nil
	}
	return false, fmt.Errorf("%w: %q: only \"fade\" may follow play or stop", models.ErrMalformedOperation, arg)
}

// parseSwitch accepts on/off style booleans.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}
