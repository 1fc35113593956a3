// Package whatsapp implements the session adapter for one WhatsApp Web
// account. All browser mechanics live in an external driver process;
// this package speaks a small JSON request/response protocol to it over
// a websocket, so the bridge core stays free of DOM concerns.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// errCodeAuthRequired is the driver's code for a session that needs QR
// re-authentication.
const errCodeAuthRequired = "auth_required"

const defaultCallTimeout = 30 * time.Second

type request struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Code  string          `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// driverError carries the driver's error code alongside its message.
type driverError struct {
	Code    string
	Message string
}

func (e *driverError) Error() string {
	return fmt.Sprintf("driver error %s: %s", e.Code, e.Message)
}

// Driver is a synchronous client for the WhatsApp Web driver process.
// Calls are serialized: the driver operates one browser page and the
// protocol is strictly request/response.
type Driver struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	url     string
	timeout time.Duration
	log     zerolog.Logger
}

// Dial connects to the driver's websocket endpoint.
func Dial(ctx context.Context, url string, log zerolog.Logger) (*Driver, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing whatsapp driver at %s: %w", url, err)
	}
	return &Driver{
		conn:    conn,
		url:     url,
		timeout: defaultCallTimeout,
		log:     log.With().Str("component", "whatsapp-driver").Logger(),
	}, nil
}

// call performs one request/response round trip, decoding the response
// data into out when out is non-nil.
func (d *Driver) call(ctx context.Context, op string, params, out any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := d.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return err
	}

	req := request{ID: uuid.New().String(), Op: op, Params: params}
	if err := d.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("writing %s request: %w", op, err)
	}

	for {
		var resp response
		if err := d.conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("reading %s response: %w", op, err)
		}
		if resp.ID != req.ID {
			// Stale response from an earlier timed-out call.
			d.log.Debug().Str("id", resp.ID).Msg("discarding stale driver response")
			continue
		}
		if !resp.OK {
			return &driverError{Code: resp.Code, Message: resp.Error}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", op, err)
		}
		return nil
	}
}

// redial tears down the current connection and establishes a new one.
func (d *Driver) redial(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn.Close()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return fmt.Errorf("redialing whatsapp driver: %w", err)
	}
	d.conn = conn
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Close()
}

func isAuthRequired(err error) bool {
	var de *driverError
	return errors.As(err, &de) && de.Code == errCodeAuthRequired
}
