package stencil

import (
	"context"
	"strconv"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatetimeformat(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"default format", "{{ t|datetimeformat }}", "14:07 / 05-03-2024"},
		{"directives", "{{ t|datetimeformat('%Y-%m-%d %H:%M:%S %a %b %j') }}", "2024-03-05 14:07:09 Tue Mar 065"},
		{"twelve hour clock", "{{ t|datetimeformat('%I %p %A %B') }}", "02 PM Tuesday March"},
		{"literal percent", "{{ t|datetimeformat('100%% %Q') }}", "100% %Q"},
		{"time zone argument", "{{ t|datetimeformat('%H:%M %Z', 'Europe/Berlin') }}", "15:07 CET"},
		{"unix seconds", "{{ 0|datetimeformat('%Y') }}", "1970"},
		{"unix milliseconds", "{{ 1709647629000|datetimeformat('%Y-%m-%d %H:%M') }}", "2024-03-05 14:07"},
		{"date string", "{{ '2024-03-05'|datetimeformat('%d.%m.%y') }}", "05.03.24"},
		{"keyword format", "{{ t|datetimeformat(format='%e') }}", " 5"},
	}

	e := newTestEngine(t, nil)
	data := map[string]interface{}{"t": time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.src, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatetimeformatUsesConfiguredTimezone(t *testing.T) {
	e := newTestEngine(t, nil, func(c *Config) { c.Timezone = "Europe/Berlin" })
	got, err := e.Render("{{ t|datetimeformat('%H %z') }}", map[string]interface{}{
		"t": time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "12 +0200", got)
}

func TestDatetimeformatErrors(t *testing.T) {
	e := newTestEngine(t, nil)
	for _, src := range []string{
		"{{ 'not a date'|datetimeformat }}",
		"{{ 0|datetimeformat('%Y', 'Mars/Olympus') }}",
	} {
		res := e.RenderForResult(context.Background(), src, nil)
		assert.NotEmpty(t, res.Errors, src)
	}
}

func TestDateFunction(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"numeric pattern", "{{ fn:date('dd.MM.yyyy HH:mm', t) }}", "05.03.2024 14:07"},
		{"names and quoted text", `{{ fn:date("EEEE, MMMM d, yyyy 'at' h a", t) }}`, "Tuesday, March 5, 2024 at 2 PM"},
		{"short names", "{{ fn:date('EEE d MMM yy', t) }}", "Tue 5 Mar 24"},
		{"escaped quote", "{{ fn:date(\"HH''mm\", t) }}", "14'07"},
		{"offset", "{{ fn:date('yyyy-MM-dd XXX', t) }}", "2024-03-05 Z"},
		{"missing date", "[{{ fn:date('yyyy', none) }}]", "[]"},
	}

	e := newTestEngine(t, nil)
	data := map[string]interface{}{"t": time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.src, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNowFunction(t *testing.T) {
	got, err := newTestEngine(t, nil).Render("{{ fn:now()|datetimeformat('%Y') }}", nil)
	require.NoError(t, err)
	year, err := strconv.Atoi(got)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, year, time.Now().Year()-1)
}
