/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/tablemix/internal/models"
)

var sendFlags struct {
	fade time.Duration
	file string
}

var sendCmd = &cobra.Command{
	Use:   "send [kind:channel[=value]]...",
	Short: "Publish one batch to a room",
	Long: `Publish one batch to a room as an operator. Operations apply in order:

  load:bgm_1a=tavern.ogg   load:sfx_1=asset:42   load:amb_1=s3://bucket/rain.ogg
  play:bgm_1a              play:bgm_1a=fade      pause:bgm_1a   resume:bgm_1a
  stop:bgm_1b=fade         volume:sfx_1=0.6      loop:bgm_1a=on

--file reads a JSON batch instead ("-" for stdin).`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().DurationVar(&sendFlags.fade, "fade", 0, "batch fade duration for play/stop marked fade")
	sendCmd.Flags().StringVar(&sendFlags.file, "file", "", "JSON batch file, - for stdin")
}

func runSend(cmd *cobra.Command, args []string) error {
	if err := requireRoom(); err != nil {
		return err
	}
	batch, err := buildBatch(args, sendFlags.file, sendFlags.fade)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	if err := postBatch(ctx, http.DefaultClient, relayFlags.url, relayFlags.room, relayFlags.token, batch); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d operation(s) to room %s\n", batch.Len(), relayFlags.room)
	return nil
}

func buildBatch(args []string, file string, fade time.Duration) (models.Batch, error) {
	if file != "" {
		var (
			data []byte
			err  error
		)
		if file == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return models.Batch{}, fmt.Errorf("read batch: %w", err)
		}
		var b models.Batch
		if err := json.Unmarshal(data, &b); err != nil {
			return models.Batch{}, err
		}
		return b, nil
	}

	if len(args) == 0 {
		return models.Batch{}, fmt.Errorf("no operations given")
	}
	ops := make([]models.Operation, 0, len(args))
	for _, arg := range args {
		op, err := parseOperation(arg)
		if err != nil {
			return models.Batch{}, err
		}
		ops = append(ops, op)
	}
	return models.NewBatch(fade, ops...), nil
}

// postBatch publishes b through the relay's HTTP endpoint.
func postBatch(ctx context.Context, client *http.Client, base, roomID, token string, b models.Batch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	endpoint := strings.TrimRight(base, "/") + "/rooms/" + url.PathEscape(roomID) + "/batches"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("relay rejected batch: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
