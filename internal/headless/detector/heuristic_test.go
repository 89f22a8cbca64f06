package detector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristic_Incomplete_DefaultKeywords(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{})
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "empty body", body: "", want: true},
		{name: "whitespace body", body: "  \n\t", want: true},
		{name: "js notice", body: "<noscript>Please enable JS to continue</noscript>", want: true},
		{name: "captcha mixed case", body: "<div class=\"CAPTCHA-box\"></div>", want: true},
		{name: "cloudflare script", body: "<script data-cfasync=\"false\"></script>", want: true},
		{name: "recaptcha", body: "<div class=\"g-recaptcha\"></div>", want: true},
		{name: "ordinary article", body: "<html><body><p>Inflation cooled in May.</p></body></html>", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, h.Incomplete(tt.body))
		})
	}
}

func TestHeuristic_Incomplete_CustomKeywordsReplaceDefaults(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{Keywords: []string{" Access Denied ", ""}})
	require.True(t, h.Incomplete("<h1>access denied</h1>"))
	require.False(t, h.Incomplete("<div class=\"g-recaptcha\"></div>"))
	require.Equal(t, []string{"access denied"}, h.Matched("ACCESS DENIED"))
}

func TestHeuristic_Incomplete_MinBodyAndSelectors(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{
		Keywords:          []string{},
		MinBodyBytes:      10,
		RequiredSelectors: []string{"#content"},
	})
	require.True(t, h.Incomplete("hi"))
	require.True(t, h.Incomplete(`<html><body><div id="other"></div></body></html>`))
	require.False(t, h.Incomplete(`<div id="content">ok</div> and enough bytes`))
}

func TestHeuristic_Incomplete_SPA(t *testing.T) {
	t.Parallel()

	off := NewHeuristic(Config{Keywords: []string{}})
	require.False(t, off.Incomplete(`<div id="__next"></div>`))

	on := NewHeuristic(Config{Keywords: []string{}, DetectSPA: true, SPAThreshold: 1000})
	require.True(t, on.Incomplete(`<div id="__next"></div>`))
	require.True(t, on.Incomplete(`<html><script>var a=1;</script><p>t</p></html>`))
	require.False(t, on.Incomplete(`<html><body><p>plain server rendered text</p></body></html>`))
}
