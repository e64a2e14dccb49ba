package capture

import (
	"net/url"
	"strings"
)

// ValidURL is an absolute http(s) URL with a host. The zero value is not valid
// and is only produced outside ValidateURL.
type ValidURL struct {
	u *url.URL
}

// String returns the URL as submitted (after trimming).
func (v ValidURL) String() string {
	if v.u == nil {
		return ""
	}
	return v.u.String()
}

// Hostname returns the lowercase host without port.
func (v ValidURL) Hostname() string {
	if v.u == nil {
		return ""
	}
	return strings.ToLower(v.u.Hostname())
}

// IsZero reports whether v was not produced by ValidateURL.
func (v ValidURL) IsZero() bool {
	return v.u == nil
}

// ValidateURL classifies candidate as an acceptable capture target.
func ValidateURL(candidate string) (ValidURL, error) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ValidURL{}, &ValidationError{Reason: ReasonEmptyInput, Message: "URL parameter is required"}
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || !parsed.IsAbs() {
		return ValidURL{}, &ValidationError{Reason: ReasonMalformedURL, Message: "Invalid URL format"}
	}
	switch parsed.Scheme {
	case "http", "https":
	default:
		return ValidURL{}, &ValidationError{
			Reason:  ReasonUnsupportedScheme,
			Message: "URL must use HTTP or HTTPS protocol",
		}
	}
	if parsed.Hostname() == "" {
		return ValidURL{}, &ValidationError{Reason: ReasonMissingHost, Message: "URL must have a valid hostname"}
	}
	return ValidURL{u: parsed}, nil
}
