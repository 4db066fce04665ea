// Package i18n resolves ooth error codes to localized user-facing messages
// using universal-translator. The core falls back to its built-in English
// message whenever a locale or key is missing, so an empty catalog is safe.
package i18n

import (
	"github.com/go-playground/locales"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"

	ooth "github.com/nickredmark/ooth-sub000"
)

// Translator implements ooth.Translator over a universal-translator
// catalog. English messages for every core error code are pre-registered.
type Translator struct {
	uni *ut.UniversalTranslator
}

// CodeValidation is deliberately absent: validation errors carry a
// field-specific English message, and a catalog entry would flatten them
// all into one generic string.
var defaultEnglish = map[string]string{
	ooth.CodeNotLoggedIn:            "Not logged in",
	ooth.CodeAlreadyLoggedIn:        "Already logged in",
	ooth.CodeAlreadyRegistered:      "Already registered",
	ooth.CodeNotRegisteredWith:      "Not registered with this strategy",
	ooth.CodeInvalidCredentials:     "Invalid credentials",
	ooth.CodeAmbiguousIdentity:      "Credentials match more than one account",
	ooth.CodeForeignStrategyBinding: "These credentials belong to another account",
	ooth.CodeBackend:                "Something went wrong",
	ooth.CodeTokenInvalid:           "Invalid token",
	ooth.CodeTokenExpired:           "Token expired",
	ooth.CodeMethodNotFound:         "Unknown method",
	ooth.CodeInternal:               "Something went wrong",
}

// New builds a Translator with English as the fallback locale.
func New() *Translator {
	enLocale := en.New()
	t := &Translator{uni: ut.New(enLocale, enLocale)}
	for code, message := range defaultEnglish {
		_ = t.Add("en", code, message)
	}
	return t
}

// Add registers or overrides the message for a key in a locale. The locale
// must have been added to the catalog (English always is).
func (t *Translator) Add(locale, key, message string) error {
	trans, found := t.uni.GetTranslator(locale)
	if !found {
		trans = t.uni.GetFallback()
	}
	return trans.Add(key, message, true)
}

// AddLocale makes another locale available for Add and Translate.
func (t *Translator) AddLocale(l locales.Translator) error {
	return t.uni.AddTranslator(l, true)
}

// Translate resolves key for the locale, falling back to the English
// catalog and finally to the caller-supplied fallback message.
func (t *Translator) Translate(locale, key, fallback string) string {
	trans, _ := t.uni.FindTranslator(locale)
	if msg, err := trans.T(key); err == nil {
		return msg
	}
	if msg, err := t.uni.GetFallback().T(key); err == nil {
		return msg
	}
	return fallback
}
