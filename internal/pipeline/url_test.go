package pipeline

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeURL(t *testing.T) {
	tests := []struct {
		name    string
		jobURL  string
		baseURL string
		want    string
	}{
		{
			name:   "no base url",
			jobURL: "https://example.com/about?x=1",
			want:   "https://example.com/about?x=1",
		},
		{
			name:    "base params are added",
			jobURL:  "https://example.com/about",
			baseURL: "https://example.com?token=abc",
			want:    "https://example.com/about?token=abc",
		},
		{
			name:    "job params override base params",
			jobURL:  "https://example.com/about?token=job&page=2",
			baseURL: "https://example.com/?token=base&debug=1",
			want:    "https://example.com/about?debug=1&page=2&token=job",
		},
		{
			name:    "base origin wins",
			jobURL:  "https://www.example.com/news",
			baseURL: "http://staging.example.com:8080",
			want:    "http://staging.example.com:8080/news",
		},
		{
			name:    "job host differs from base host",
			jobURL:  "https://stage.example.org/blog/post?lang=de",
			baseURL: "https://www.example.com/?auth=secret&lang=en",
			want:    "https://www.example.com/blog/post?auth=secret&lang=de",
		},
		{
			name:    "base without host keeps job url",
			jobURL:  "https://example.com/about?x=1",
			baseURL: "/relative?y=2",
			want:    "https://example.com/about?x=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergeURL(tt.jobURL, tt.baseURL)
			require.NoError(t, err)

			want, err := url.Parse(tt.want)
			require.NoError(t, err)
			gotURL, err := url.Parse(got)
			require.NoError(t, err)

			assert.Equal(t, want.Scheme, gotURL.Scheme)
			assert.Equal(t, want.Host, gotURL.Host)
			assert.Equal(t, want.Path, gotURL.Path)
			assert.Equal(t, want.Query(), gotURL.Query())
		})
	}
}

func TestParseCookies(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	cookies, err := ParseCookies("session=abc; theme=dark;broken; =x; token=a=b", "https://example.com:8443/page", now)
	require.NoError(t, err)
	require.Len(t, cookies, 3)

	assert.Equal(t, "session", cookies[0].Name)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.Equal(t, "example.com", cookies[0].Domain)
	assert.Equal(t, "/", cookies[0].Path)
	assert.Equal(t, now.Add(time.Hour), cookies[0].Expires)

	assert.Equal(t, "theme", cookies[1].Name)
	assert.Equal(t, "a=b", cookies[2].Value)
}

func TestParseCookies_Empty(t *testing.T) {
	cookies, err := ParseCookies("  ", "https://example.com", time.Now())
	require.NoError(t, err)
	assert.Empty(t, cookies)
}
