package vision

import "testing"

func TestMIMEForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"photos/receipt.jpg", "image/jpeg"},
		{"photos/receipt.JPEG", "image/jpeg"},
		{"receipt.png", "image/png"},
		{"receipt.webp", "image/webp"},
		{"receipt.gif", "image/gif"},
		{"receipt.heic", "application/octet-stream"},
		{"noextension", "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := MIMEForPath(tt.path); got != tt.want {
			t.Errorf("MIMEForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
