package logger

import "testing"

func TestRedactURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://cdn.example.com/live/index.m3u8", "https://cdn.example.com/live/index.m3u8"},
		{"https://user:pw@cdn.example.com/a.m3u8", "https://REDACTED@cdn.example.com/a.m3u8"},
		{"https://cdn.example.com/a.m3u8?token=abc&x=1", "https://cdn.example.com/a.m3u8?token=REDACTED&x=1"},
		{"https://cdn.example.com/a.m3u8?x=1&Sig=zz", "https://cdn.example.com/a.m3u8?x=1&Sig=REDACTED"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := RedactURL(tc.in); got != tc.want {
			t.Errorf("RedactURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
