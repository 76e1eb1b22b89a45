// Package camera drives GoPro cameras over their per-camera point-to-point
// USB-Ethernet links: discovery, control endpoints, media listing and the
// keep-alive that stops a camera sleeping mid-transfer.
package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/uball/court-agent/internal/faults"
)

// ControlPort is the fixed HTTP port of the wired control surface.
const ControlPort = 8080

// Client talks to one camera's HTTP control surface.
type Client struct {
	addr       string // peer IPv4
	port       int
	httpClient *http.Client
}

// NewClient creates a client for the camera at addr.
func NewClient(addr string) *Client {
	return NewClientWithPort(addr, ControlPort)
}

// NewClientWithPort creates a client against a non-standard port. Real
// cameras always answer on ControlPort; this exists for test doubles.
func NewClientWithPort(addr string, port int) *Client {
	return &Client{
		addr: addr,
		port: port,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Addr returns the camera's peer address.
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("http://%s:%d%s", c.addr, c.port, path)
}

// State is the camera status document. Only the fields the controller reads
// are modelled; the camera reports dozens more.
type State struct {
	SSID      string
	Recording bool
}

type stateDoc struct {
	Status map[string]json.RawMessage `json:"status"`
}

// GetState fetches and decodes the camera state document.
// The SSID lives at status.30; the busy/recording flag at status.8.
func (c *Client) GetState(ctx context.Context) (*State, error) {
	var doc stateDoc
	if err := c.getJSON(ctx, "/gopro/camera/state", &doc); err != nil {
		return nil, err
	}

	st := &State{}
	if raw, ok := doc.Status["30"]; ok {
		json.Unmarshal(raw, &st.SSID)
	}
	if raw, ok := doc.Status["8"]; ok {
		var busy int
		json.Unmarshal(raw, &busy)
		st.Recording = busy != 0
	}
	return st, nil
}

// Probe checks whether a camera answers at this address within budget.
func (c *Client) Probe(ctx context.Context, budget time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/gopro/camera/state"), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// EnableWiredControl turns on USB control mode. Required before any other
// control call after the camera reboots or the cable is replugged.
func (c *Client) EnableWiredControl(ctx context.Context) error {
	return c.get(ctx, "/gopro/camera/control/wired_usb?p=1")
}

// SetVideoPreset switches the camera to the video preset group.
func (c *Client) SetVideoPreset(ctx context.Context) error {
	return c.get(ctx, "/gopro/camera/presets/set_group?id=1000")
}

// StopShutter stops an active recording.
func (c *Client) StopShutter(ctx context.Context) error {
	return c.get(ctx, "/gopro/camera/shutter/stop")
}

// KeepAlive pings the camera so it does not sleep during long transfers.
// The camera expects one at most every 30 seconds while busy.
func (c *Client) KeepAlive(ctx context.Context) error {
	return c.get(ctx, "/gopro/camera/keep_alive")
}

// DeleteAllMedia bulk-deletes every file on the camera's SD card.
func (c *Client) DeleteAllMedia(ctx context.Context) error {
	return c.get(ctx, "/gopro/media/delete/all")
}

// MediaURL returns the range-serving download URL for an on-camera file.
func (c *Client) MediaURL(directory, filename string) string {
	return c.url(fmt.Sprintf("/videos/DCIM/%s/%s", directory, filename))
}

// RunKeepAlive pings the camera every interval until ctx is cancelled. It is
// the cooperative task the transfer engine runs next to each active transfer.
func (c *Client) RunKeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.KeepAlive(ctx); err != nil && ctx.Err() == nil {
				log.Warn("keep-alive ping failed", "camera", c.addr, "error", err)
			}
		}
	}
}

func (c *Client) get(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return faults.New(faults.CameraControl, fmt.Errorf("camera %s: %w", c.addr, err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return faults.Newf(faults.CameraControl, "camera %s: %s returned status %d", c.addr, path, resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return faults.New(faults.CameraControl, fmt.Errorf("camera %s: %w", c.addr, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return faults.Newf(faults.CameraControl, "camera %s: %s returned status %d", c.addr, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("camera %s: decode %s: %w", c.addr, path, err)
	}
	return nil
}
