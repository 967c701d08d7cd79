package security

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMaskCredential(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"abc":               "***",
		"abcdefg":           "ab*****",
		"sk-1234567890abcd": "sk-1*********abcd",
	}
	for in, want := range tests {
		if got := MaskCredential(in); got != want {
			t.Errorf("MaskCredential(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		secret string
	}{
		{"openai key", "invalid key sk-proj-abcdefghijklmnopqrstuvwx", "abcdefghijklmnopqrstuvwx"},
		{"telegram url", `Post "https://api.telegram.org/bot123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw/sendMessage": timeout`, "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"},
		{"dsn", "connect postgres://analyst:hunter2secret@db:5432/charts failed", "hunter2secret"},
		{"key value", "config api_key=supersecretvalue123 rejected", "supersecretvalue123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.input)
			if strings.Contains(got, tt.secret) {
				t.Errorf("Redact() leaked secret: %s", got)
			}
		})
	}

	plain := "chart image not found: charts/BTC_USDT_4h.png"
	if Redact(plain) != plain {
		t.Errorf("Redact() changed a message without credentials: %s", Redact(plain))
	}
}

func TestRedactErrorKeepsChain(t *testing.T) {
	sentinel := errors.New("telegram down")
	err := fmt.Errorf("send via /bot123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw/sendMessage: %w", sentinel)

	red := RedactError(err)
	if strings.Contains(red.Error(), "AAHdqTcv") {
		t.Errorf("token leaked: %s", red)
	}
	if !errors.Is(red, sentinel) {
		t.Error("redacted error lost its cause")
	}
	if RedactError(sentinel) != sentinel {
		t.Error("clean error should be returned unchanged")
	}
	if RedactError(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestPropertyMaskHidesMiddle(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("masked value keeps length and hides the middle", prop.ForAll(
		func(s string) bool {
			masked := MaskCredential(s)
			if len(masked) != len(s) {
				return false
			}
			if len(s) > 8 && masked[4:len(s)-4] != strings.Repeat("*", len(s)-8) {
				return false
			}
			return len(s) == 0 || masked != s || strings.Trim(s, "*") == ""
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
