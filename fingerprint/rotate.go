package fingerprint

import (
	"errors"
	"strings"

	"github.com/use-agent/harvest/apperr"
	"github.com/use-agent/harvest/models"
)

// antiBotMarkers are substrings that indicate bot detection when found in an
// error message. Matching is case-insensitive and used only as a fallback
// classifier; typed errors with an upstream HTTP status are checked first.
var antiBotMarkers = []string{
	"captcha",
	"bot detection",
	"access denied",
	"forbidden",
	"rate limit",
	"security check",
	"cloudflare",
	"recaptcha",
}

// ShouldRotate reports whether err looks like anti-bot blocking and the
// configuration allows rotating to a fresh fingerprint for a retry.
func (a *Advisor) ShouldRotate(err error, cfg *models.FingerprintConfig) bool {
	if err == nil {
		return false
	}

	rotate := a.defaults.RotateOnAntiBot
	if cfg != nil && cfg.RotateOnAntiBot != nil {
		rotate = *cfg.RotateOnAntiBot
	}
	if !rotate {
		return false
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if appErr.UpstreamStatus == 403 || appErr.UpstreamStatus == 429 {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range antiBotMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
