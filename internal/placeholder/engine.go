// Package placeholder expands {{name}} and {{name:arg:...}} tokens in response
// and callback templates with freshly generated values.
package placeholder

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// Generator produces one value for a token. Returning an error leaves the token as written.
type Generator func(args []string) (string, error)

var tokenPattern = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*(?::[^}]*)?)\}\}`)

// Engine holds an immutable generator table and is safe for concurrent use.
type Engine struct {
	generators map[string]Generator
	now        func() time.Time
}

type Option func(*Engine)

// WithClock overrides the time source used by the time generators.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.generators = e.builtins()
	return e
}

// Replace substitutes every recognised token in text. Unknown names and
// generator failures are passed through verbatim.
func (e *Engine) Replace(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		inner := token[2 : len(token)-2]
		parts := strings.Split(inner, ":")
		gen, ok := e.generators[parts[0]]
		if !ok {
			return token
		}
		value, err := run(gen, parts[1:])
		if err != nil {
			return token
		}
		return value
	})
}

// run calls gen and turns a panic into an error.
func run(gen Generator, args []string) (value string, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		value, err = gen(args)
	})
	if r := pc.Recovered(); r != nil {
		return "", fmt.Errorf("generator panicked: %v", r.Value)
	}
	return value, err
}

var defaultEngine = New()

// Replace expands text using a shared engine with the builtin generators.
func Replace(text string) string {
	return defaultEngine.Replace(text)
}

func (e *Engine) builtins() map[string]Generator {
	uuidGen := func([]string) (string, error) { return newUUID(), nil }
	randomInt := func(args []string) (string, error) { return randomIntArgs(args) }
	randomBool := func([]string) (string, error) { return randomBoolean(), nil }

	return map[string]Generator{
		"uuid":  uuidGen,
		"uuid4": uuidGen,
		"guid":  uuidGen,

		"timestamp": func([]string) (string, error) {
			return fmt.Sprintf("%d", e.now().UTC().UnixMilli()), nil
		},
		"timestamp_iso": func([]string) (string, error) {
			return e.now().UTC().Format(time.RFC3339Nano), nil
		},
		"timestamp_unix": func([]string) (string, error) {
			return fmt.Sprintf("%d", e.now().UTC().Unix()), nil
		},
		"date": func([]string) (string, error) {
			return e.now().UTC().Format("2006-01-02"), nil
		},
		"datetime": func([]string) (string, error) {
			return e.now().UTC().Format("2006-01-02 15:04:05"), nil
		},
		"time": func([]string) (string, error) {
			return e.now().UTC().Format("15:04:05"), nil
		},

		"random":       randomInt,
		"random_int":   randomInt,
		"random_float": randomFloatArgs,

		"random_string": func(args []string) (string, error) {
			return randomFromCharset(args, 10, letters)
		},
		"random_hex": func(args []string) (string, error) {
			return randomFromCharset(args, 16, hexDigits)
		},
		"random_alphanumeric": func(args []string) (string, error) {
			return randomFromCharset(args, 10, letters+digits)
		},

		"random_name": func([]string) (string, error) {
			return pick(firstNames) + " " + pick(lastNames), nil
		},
		"random_first_name": func([]string) (string, error) { return pick(firstNames), nil },
		"random_last_name":  func([]string) (string, error) { return pick(lastNames), nil },
		"random_email": func([]string) (string, error) {
			return randomString(8, lowerLetters) + "@" + pick(emailDomains), nil
		},
		"random_username": func([]string) (string, error) {
			return randomString(10, lowerLetters+digits), nil
		},

		"random_bool":    randomBool,
		"random_boolean": randomBool,
	}
}
