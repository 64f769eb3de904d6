// Package translate provides batch text translation.
package translate

import "context"

// Translator converts text between languages. Language arguments are
// short ISO codes ("en", "es"). Implementations fail closed with
// classified errors; the equal-language short-circuit and the
// permanent-failure passthrough live in the fan-out caller.
type Translator interface {
	Translate(ctx context.Context, text, fromLang, toLang string) (string, error)
}

// Func adapts a function to the Translator interface.
type Func func(ctx context.Context, text, fromLang, toLang string) (string, error)

// Translate implements Translator.
func (f Func) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	return f(ctx, text, fromLang, toLang)
}
