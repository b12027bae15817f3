package gateway

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/relabs-tech/gateway/core/logger"
)

// The metadata headers attached to every request
const (
	HeaderUserRole     = "X-User-Role"
	HeaderDeviceType   = "X-Device-Type"
	HeaderScreenWidth  = "X-Screen-Width"
	HeaderScreenHeight = "X-Screen-Height"
	HeaderPixelRatio   = "X-Pixel-Ratio"
	HeaderAppMode      = "X-App-Mode"
	HeaderTimezone     = "X-Timezone"
)

// Device describes the viewport of the client
type Device struct {
	Width      int
	Height     int
	PixelRatio float64
	// Standalone is true if the app runs installed rather than in a browser tab
	Standalone bool
}

// FormFactor classifies the viewport width as mobile, tablet or desktop
func (d Device) FormFactor() string {
	switch {
	case d.Width > 0 && d.Width < 768:
		return "mobile"
	case d.Width > 0 && d.Width < 1024:
		return "tablet"
	}
	return "desktop"
}

// Mode is "standalone" or "browser"
func (d Device) Mode() string {
	if d.Standalone {
		return "standalone"
	}
	return "browser"
}

// resolveTimezone returns an IANA timezone name. An explicit valid name wins, then the local
// zone, then TZ, then UTC.
func resolveTimezone(name string) string {
	if name != "" {
		if _, err := time.LoadLocation(name); err == nil {
			return name
		}
	}
	if local := time.Local.String(); local != "" && local != "Local" {
		return local
	}
	if tz := os.Getenv("TZ"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}
	return "UTC"
}

// annotate attaches credentials and client metadata to r and records the attempt on c
func (g *Gateway) annotate(ctx context.Context, r *http.Request, c *call) {
	for key, values := range c.req.Header {
		for _, v := range values {
			r.Header.Add(key, v)
		}
	}
	if len(c.body) > 0 && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json")
	}

	token := g.session.AccessToken()
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if role := g.session.Role(); role != "" {
		r.Header.Set(HeaderUserRole, string(role))
	}

	r.Header.Set(HeaderDeviceType, g.device.FormFactor())
	if g.device.Width > 0 {
		r.Header.Set(HeaderScreenWidth, strconv.Itoa(g.device.Width))
	}
	if g.device.Height > 0 {
		r.Header.Set(HeaderScreenHeight, strconv.Itoa(g.device.Height))
	}
	if g.device.PixelRatio > 0 {
		r.Header.Set(HeaderPixelRatio, strconv.FormatFloat(g.device.PixelRatio, 'f', -1, 64))
	}
	r.Header.Set(HeaderAppMode, g.device.Mode())
	r.Header.Set(HeaderTimezone, g.timezone)
	if id := logger.RequestIDFromContext(ctx); id != "" {
		r.Header.Set(logger.RequestIDHeader, id)
	}

	c.token = token
	c.issuedAt = g.now()
}
