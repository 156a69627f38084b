package tracking

import (
	"bytes"
	"testing"
)

func TestNewProviderValidatesBaseURL(t *testing.T) {
	if _, err := NewProvider("   "); err == nil {
		t.Fatal("expected error for empty base url")
	}
	provider, err := NewProvider("https://orders.example.com/")
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if got := provider.URL("abc"); got != "https://orders.example.com/track/abc" {
		t.Fatalf("trailing slash not trimmed: %q", got)
	}
}

func TestURLEscapesOrderID(t *testing.T) {
	provider, err := NewProvider("https://orders.example.com")
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if got := provider.URL("ord/1 2"); got != "https://orders.example.com/track/ord%2F1%202" {
		t.Fatalf("url = %q", got)
	}
}

func TestQRCodeEncodesPNG(t *testing.T) {
	provider, err := NewProvider("https://orders.example.com")
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	png, err := provider.QRCode(provider.URL("cod_01TEST"))
	if err != nil {
		t.Fatalf("QRCode: %v", err)
	}
	if !bytes.HasPrefix(png, []byte{0x89, 'P', 'N', 'G'}) {
		t.Fatal("output is not a PNG")
	}

	if _, err := provider.QRCode(""); err == nil {
		t.Fatal("expected error for empty url")
	}
}
