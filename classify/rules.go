package classify

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrStorage marks failures raised by a cache storage backend. Wrap an error
// with errors.Mark(err, ErrStorage) to have it classified as KindCache.
var ErrStorage = errors.New("cache storage failure")

// Matcher reports whether a rule applies. msg is the lowercased failure message.
type Matcher func(msg string, err error) bool

// Any matches when msg contains at least one of the tokens.
func Any(tokens ...string) Matcher {
	return func(msg string, _ error) bool {
		for _, token := range tokens {
			if strings.Contains(msg, token) {
				return true
			}
		}
		return false
	}
}

// All matches when msg contains every token.
func All(tokens ...string) Matcher {
	return func(msg string, _ error) bool {
		for _, token := range tokens {
			if !strings.Contains(msg, token) {
				return false
			}
		}
		return true
	}
}

// Marked matches when err carries the reference error (errors.Is).
func Marked(reference error) Matcher {
	return func(_ string, err error) bool {
		return err != nil && errors.Is(err, reference)
	}
}

// Either matches when any of the matchers does.
func Either(matchers ...Matcher) Matcher {
	return func(msg string, err error) bool {
		for _, m := range matchers {
			if m(msg, err) {
				return true
			}
		}
		return false
	}
}

// Template is the outcome a rule assigns.
type Template struct {
	Code           Code
	Severity       Severity
	Retryable      bool
	ActionRequired bool
	UserMessage    string
}

// CodeRule selects a specific code inside a matched Kind.
type CodeRule struct {
	Match    Matcher
	Template Template
}

// Rule is one entry of the ordered classification table.
type Rule struct {
	Kind  Kind
	Match Matcher
	// Codes are tried in order; Fallback applies when none match.
	Codes    []CodeRule
	Fallback Template
}

func (r Rule) resolve(msg string, err error) Template {
	for _, code := range r.Codes {
		if code.Match(msg, err) {
			return code.Template
		}
	}
	return r.Fallback
}

var unknownTemplate = Template{
	Severity:    SeverityMedium,
	Retryable:   true,
	UserMessage: GenericMessage,
}

// DefaultRules returns the standard table: network, validation, NFC, server,
// auth, permission, cache. Order matters, the first match wins.
func DefaultRules() []Rule {
	network := Template{Severity: SeverityHigh, Retryable: true}
	validation := Template{Severity: SeverityLow, ActionRequired: true}
	nfc := Template{Severity: SeverityMedium}
	auth := Template{Severity: SeverityHigh, ActionRequired: true}
	permission := Template{Severity: SeverityMedium, ActionRequired: true}

	return []Rule{
		{
			Kind:  KindNetwork,
			Match: Any("network", "connection", "fetch"),
			Codes: []CodeRule{
				{Any("timeout"), with(network, CodeTimeout, "The request timed out. Check your internet connection.")},
				{Any("offline", "no internet"), Template{CodeNoInternet, SeverityHigh, true, true, "No internet connection. Check your connection."}},
				{Any("server unreachable", "network request failed"), with(network, CodeServerUnreachable, "Cannot reach the server. Please try again.")},
			},
			Fallback: with(network, "", "A network problem occurred. Please try again."),
		},
		{
			Kind:  KindValidation,
			Match: Any("validation", "invalid", "required"),
			Codes: []CodeRule{
				{Any("email"), with(validation, CodeInvalidEmail, "Enter a valid email address.")},
				{Any("password"), with(validation, CodeWeakPassword, "The password must have at least 6 characters.")},
			},
			Fallback: with(validation, CodeRequiredField, "Fill in all required fields."),
		},
		{
			Kind:  KindNFC,
			Match: Any("nfc"),
			Codes: []CodeRule{
				{Any("not supported"), withAction(with(nfc, CodeNFCNotSupported, "This device does not support NFC."))},
				{Any("disabled"), withAction(with(nfc, CodeNFCDisabled, "Turn on NFC in the device settings."))},
			},
			Fallback: withRetry(with(nfc, CodeTagReadError, "Could not read the candle. Please try again.")),
		},
		{
			Kind:  KindServer,
			Match: Any("500", "server error", "503", "maintenance", "429", "rate limit"),
			Codes: []CodeRule{
				{Any("500", "server error"), Template{CodeInternalError, SeverityHigh, true, false, "Server problem. Please try again in a moment."}},
				{Any("503", "maintenance"), Template{CodeMaintenance, SeverityMedium, true, false, "The service is under maintenance. Please try again later."}},
				{Any("429", "rate limit"), Template{CodeRateLimit, SeverityMedium, true, false, "Too many attempts. Wait a moment before trying again."}},
			},
			Fallback: Template{CodeInternalError, SeverityHigh, true, false, "Server problem. Please try again in a moment."},
		},
		{
			Kind:  KindAuth,
			Match: Any("auth", "login", "session"),
			Codes: []CodeRule{
				{Any("invalid", "credentials"), with(auth, CodeInvalidCredentials, "Invalid email or password.")},
				{Any("not found", "user"), with(auth, CodeUserNotFound, "No user was found for this email address.")},
				{Any("expired", "session"), with(auth, CodeSessionExpired, "Your session has expired. Sign in again.")},
				{All("email", "confirm"), with(auth, CodeEmailNotConfirmed, "Confirm your email address before signing in.")},
			},
			Fallback: with(auth, "", "Authentication failed. Sign in again."),
		},
		{
			Kind:  KindPermission,
			Match: Any("permission", "denied"),
			Codes: []CodeRule{
				{Any("location"), with(permission, CodeLocationDenied, "Location permission is required.")},
				{Any("camera"), with(permission, CodeCameraDenied, "Camera permission is required.")},
				{Any("storage"), with(permission, CodeStorageDenied, "Storage permission is required.")},
			},
			Fallback: with(permission, CodePermissionDenied, "Required permissions are missing."),
		},
		{
			Kind:     KindCache,
			Match:    Either(Marked(ErrStorage), Any("cache")),
			Fallback: Template{CodeStorageFailure, SeverityLow, true, false, "Local data could not be read. Please try again."},
		},
	}
}

func with(base Template, code Code, message string) Template {
	base.Code = code
	base.UserMessage = message
	return base
}

func withAction(t Template) Template {
	t.ActionRequired = true
	t.Retryable = false
	return t
}

func withRetry(t Template) Template {
	t.Retryable = true
	return t
}
