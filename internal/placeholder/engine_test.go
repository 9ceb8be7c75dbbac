package placeholder

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplace_UUIDSynonyms(t *testing.T) {
	e := New()
	for _, name := range []string{"uuid", "uuid4", "guid"} {
		t.Run(name, func(t *testing.T) {
			out := e.Replace("{{" + name + "}}")
			id, err := uuid.Parse(out)
			require.NoError(t, err)
			assert.Equal(t, uuid.Version(4), id.Version())
		})
	}
}

func TestReplace_FreshValuePerToken(t *testing.T) {
	e := New()
	out := e.Replace(`{{uuid}} {{uuid}}`)
	parts := strings.Split(out, " ")
	require.Len(t, parts, 2)
	assert.NotEqual(t, parts[0], parts[1])
	assert.NotEqual(t, e.Replace("{{uuid}}"), e.Replace("{{uuid}}"))
}

func TestReplace_TimeGenerators(t *testing.T) {
	fixed := time.Date(2024, 3, 9, 14, 5, 7, 0, time.FixedZone("X", 3600))
	e := New(WithClock(func() time.Time { return fixed }))

	tests := []struct {
		template string
		want     string
	}{
		{"{{timestamp}}", strconv.FormatInt(fixed.UnixMilli(), 10)},
		{"{{timestamp_unix}}", strconv.FormatInt(fixed.Unix(), 10)},
		{"{{timestamp_iso}}", "2024-03-09T13:05:07Z"},
		{"{{date}}", "2024-03-09"},
		{"{{datetime}}", "2024-03-09 13:05:07"},
		{"{{time}}", "13:05:07"},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Replace(tt.template))
		})
	}
}

func TestReplace_RandomInt(t *testing.T) {
	e := New()

	tests := []struct {
		template string
		min, max int
	}{
		{"{{random}}", 0, 1000},
		{"{{random_int}}", 0, 1000},
		{"{{random_int:10}}", 0, 10},
		{"{{random_int:5:5}}", 5, 5},
		{"{{random:-3:3}}", -3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				n, err := strconv.Atoi(e.Replace(tt.template))
				require.NoError(t, err)
				assert.GreaterOrEqual(t, n, tt.min)
				assert.LessOrEqual(t, n, tt.max)
			}
		})
	}
}

func TestReplace_RandomFloat(t *testing.T) {
	e := New()
	for i := 0; i < 50; i++ {
		out := e.Replace("{{random_float:1:2}}")
		f, err := strconv.ParseFloat(out, 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, f, 1.0)
		assert.LessOrEqual(t, f, 2.0)
		if dot := strings.IndexByte(out, '.'); dot >= 0 {
			assert.LessOrEqual(t, len(out)-dot-1, 2, "at most two decimals: %s", out)
		}
	}
}

func TestReplace_StringGenerators(t *testing.T) {
	e := New()

	assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z]{10}$`), e.Replace("{{random_string}}"))
	assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z]{4}$`), e.Replace("{{random_string:4}}"))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), e.Replace("{{random_hex}}"))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), e.Replace("{{random_hex:32}}"))
	assert.Regexp(t, regexp.MustCompile(`^[a-zA-Z0-9]{10}$`), e.Replace("{{random_alphanumeric}}"))
	assert.Equal(t, "", e.Replace("{{random_string:0}}"))
}

func TestReplace_IdentityGenerators(t *testing.T) {
	e := New()

	name := strings.Split(e.Replace("{{random_name}}"), " ")
	require.Len(t, name, 2)
	assert.Contains(t, firstNames, name[0])
	assert.Contains(t, lastNames, name[1])

	assert.Contains(t, firstNames, e.Replace("{{random_first_name}}"))
	assert.Contains(t, lastNames, e.Replace("{{random_last_name}}"))

	email := e.Replace("{{random_email}}")
	local, domain, ok := strings.Cut(email, "@")
	require.True(t, ok)
	assert.Regexp(t, `^[a-z]{8}$`, local)
	assert.Contains(t, emailDomains, domain)

	assert.Regexp(t, `^[a-z0-9]{10}$`, e.Replace("{{random_username}}"))
}

func TestReplace_Boolean(t *testing.T) {
	e := New()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[e.Replace("{{random_bool}}")] = true
		seen[e.Replace("{{random_boolean}}")] = true
	}
	assert.Equal(t, map[string]bool{"true": true, "false": true}, seen)
}

func TestReplace_FailOpen(t *testing.T) {
	e := New()

	tests := []string{
		"{{unknown_thing}}",
		"{{random_int:abc}}",
		"{{random_int:9:1}}",
		"{{random_string:-1}}",
		"{{random_string:2000000000}}",
		"{{random_hex:65537}}",
		"{{random_alphanumeric:70000}}",
		"{{random_float:x:y}}",
		"{{ uuid }}",
		"{{1abc}}",
	}
	for _, tmpl := range tests {
		t.Run(tmpl, func(t *testing.T) {
			assert.Equal(t, tmpl, e.Replace(tmpl))
		})
	}
}

func TestReplace_RandomIntFullWidthRanges(t *testing.T) {
	e := New()

	tests := []struct {
		tmpl   string
		lo, hi int64
	}{
		{"{{random_int:0:9223372036854775807}}", 0, math.MaxInt64},
		{"{{random_int:-9223372036854775808:9223372036854775807}}", math.MinInt64, math.MaxInt64},
		{"{{random_int:-9223372036854775808:0}}", math.MinInt64, 0},
		{"{{random_int:9223372036854775807:9223372036854775807}}", math.MaxInt64, math.MaxInt64},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				out := e.Replace(tt.tmpl)
				v, err := strconv.ParseInt(out, 10, 64)
				require.NoError(t, err, out)
				assert.GreaterOrEqual(t, v, tt.lo)
				assert.LessOrEqual(t, v, tt.hi)
			}
		})
	}
}

func TestReplace_RandomStringLengthCap(t *testing.T) {
	out := New().Replace("{{random_string:65536}}")
	assert.Len(t, out, 65536)
}

func TestReplace_GeneratorPanicKeepsToken(t *testing.T) {
	e := New()
	e.generators["explode"] = func(args []string) (string, error) {
		panic("generator bug")
	}

	assert.NotPanics(t, func() {
		assert.Equal(t, `{"a":"{{explode:1}}","b":7}`, e.Replace(`{"a":"{{explode:1}}","b":{{random_int:7:7}}}`))
	})
}

func TestReplace_MixedJSONTemplate(t *testing.T) {
	out := Replace(`{"id":"{{uuid}}","count":{{random_int:5:5}},"keep":"{{nope}}","plain":"x"}`)

	assert.Contains(t, out, `"count":5`)
	assert.Contains(t, out, `"keep":"{{nope}}"`)
	assert.Contains(t, out, `"plain":"x"`)
	assert.NotContains(t, out, "{{uuid}}")
}

func TestEngine_ConcurrentUse(t *testing.T) {
	e := New()
	done := make(chan string, 20)
	for i := 0; i < 20; i++ {
		go func() { done <- e.Replace("{{uuid}}") }()
	}
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		seen[<-done] = true
	}
	assert.Len(t, seen, 20)
}
