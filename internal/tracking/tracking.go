package tracking

import (
	"errors"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultImageSize = 256

// Provider derives customer-facing tracking URLs from order identifiers and
// encodes them as scannable images. The order id itself is the token; no
// secret derivation is applied.
type Provider struct {
	baseURL   string
	imageSize int
}

// NewProvider constructs a Provider over the given public base URL.
func NewProvider(baseURL string) (*Provider, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("tracking: base url is required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, errors.New("tracking: base url is invalid")
	}
	return &Provider{
		baseURL:   trimmed,
		imageSize: defaultImageSize,
	}, nil
}

// URL builds the stable tracking URL for an order. Pure string templating.
func (p *Provider) URL(orderID string) string {
	if p == nil {
		return ""
	}
	return p.baseURL + "/track/" + url.PathEscape(strings.TrimSpace(orderID))
}

// QRCode encodes the URL as a PNG image. Pure given the input.
func (p *Provider) QRCode(trackingURL string) ([]byte, error) {
	if strings.TrimSpace(trackingURL) == "" {
		return nil, errors.New("tracking: url is required")
	}
	size := defaultImageSize
	if p != nil && p.imageSize > 0 {
		size = p.imageSize
	}
	return qrcode.Encode(trackingURL, qrcode.Medium, size)
}
