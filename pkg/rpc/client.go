package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Client is a lightweight JSON-over-TCP RPC client. It dials lazily and
// redials after a broken connection. Calls are serialised over the single
// connection.
type Client struct {
	addr        string
	dialTimeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	nextID  int64
}

func NewClient(addr string) *Client {
	return &Client{addr: addr, dialTimeout: 5 * time.Second}
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.addr, err)
	}
	c.conn = conn
	c.encoder = json.NewEncoder(conn)
	c.decoder = json.NewDecoder(conn)
	return nil
}

func (c *Client) reset() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.encoder, c.decoder = nil, nil, nil
}

// Call invokes the named method with params and decodes the response data
// into result, which may be nil. The context deadline bounds the whole
// exchange. A remote failure is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return err
	}
	// A zero deadline clears the one left by a previous call.
	deadline, _ := ctx.Deadline()
	c.conn.SetDeadline(deadline)

	c.nextID++
	req := Request{Method: method, ID: strconv.FormatInt(c.nextID, 10), Params: raw}
	if err := c.encoder.Encode(req); err != nil {
		c.reset()
		return fmt.Errorf("sending request: %w", err)
	}
	var resp Response
	if err := c.decoder.Decode(&resp); err != nil {
		c.reset()
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.ID != req.ID {
		c.reset()
		return fmt.Errorf("response id %s does not match request %s", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return &Error{Code: resp.Code, Message: resp.Error}
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("unmarshaling into result: %w", err)
		}
	}
	return nil
}

// Close closes the underlying TCP connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
