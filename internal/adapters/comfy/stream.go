package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lccanvas/canvasd/internal/core/ports"
)

// ErrStreamTimeout marks a progress stream that went idle past the
// configured limit. Distinct from a clean close so callers can report a
// hung upstream instead of an empty result.
var ErrStreamTimeout = errors.New("upstream progress stream timed out")

// wsFrame is the envelope of every text frame on the progress socket.
// Binary frames carry preview bitmaps and are skipped.
type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// executingFrame with a null node signals the end of our prompt.
type executingFrame struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type progressFrame struct {
	Value float64 `json:"value"`
	Max   float64 `json:"max"`
}

// ReceiveImages follows the websocket stream until the prompt finishes,
// reporting sampler progress through onProgress, then fetches the ranked
// artifacts from history. A server-side close ends the stream without
// error; history decides what, if anything, was produced.
func (c *Client) ReceiveImages(ctx context.Context, promptID string, onProgress func(float64)) ([]ports.ImageOutput, error) {
	wsURL := c.wsBase + "/ws?clientId=" + url.QueryEscape(c.clientID)
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect progress stream: %w", err)
	}

	// Unblock the read loop when the job context is cancelled.
	streamDone := make(chan struct{})
	defer close(streamDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-streamDone:
			conn.Close()
		}
	}()

	if err := c.readUntilComplete(ctx, conn, promptID, onProgress); err != nil {
		return nil, err
	}

	history, err := c.getHistory(ctx, promptID)
	if err != nil {
		return nil, err
	}

	var outputs []ports.ImageOutput
	for _, ref := range selectArtifacts(history.Outputs, c.graph) {
		data, err := c.getImage(ctx, ref)
		if err != nil {
			c.logger.Warn("failed to fetch artifact", "filename", ref.Filename, "error", err)
			continue
		}
		outputs = append(outputs, ports.ImageOutput{Filename: ref.Filename, Data: data})
	}
	return outputs, nil
}

func (c *Client) readUntilComplete(ctx context.Context, conn *websocket.Conn, promptID string, onProgress func(float64)) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.idle)); err != nil {
			return fmt.Errorf("failed to arm read deadline: %w", err)
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrStreamTimeout
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				// Server closed the stream; fall through to history.
				c.logger.Info("progress stream closed by server", "code", closeErr.Code)
				return nil
			}
			return fmt.Errorf("progress stream failed: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("unparseable progress frame", "error", err)
			continue
		}
		switch frame.Type {
		case "executing":
			var exec executingFrame
			if err := json.Unmarshal(frame.Data, &exec); err != nil {
				continue
			}
			if exec.Node == nil && exec.PromptID == promptID {
				return nil
			}
		case "progress":
			var prog progressFrame
			if err := json.Unmarshal(frame.Data, &prog); err != nil {
				continue
			}
			if prog.Max > 0 && onProgress != nil {
				onProgress(prog.Value / prog.Max * 100)
			}
		}
	}
}
