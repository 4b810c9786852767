package ytutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVideoID(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out string
		err string
	}{
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ", ""},
		{"  dQw4w9WgXcQ\n", "dQw4w9WgXcQ", ""},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", ""},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s&list=LL", "dQw4w9WgXcQ", ""},
		{"http://youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", ""},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", ""},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", ""},
		{"www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", ""},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", ""},
		{"youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ", ""},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", ""},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1", "dQw4w9WgXcQ", ""},
		{"https://www.youtube.com/live/dQw4w9WgXcQ/", "dQw4w9WgXcQ", ""},
		{"https://www.youtube.com/watch?v=short", "", "invalid video id"},
		{"https://www.youtube.com/watch", "", "no video id"},
		{"https://youtu.be/", "", "no video id"},
		{"https://example.com/watch?v=dQw4w9WgXcQ", "", "could not find a known pattern"},
		{"https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw", "", "could not find a known pattern"},
		{"", "", "could not find a known pattern"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			a := assert.New(t)

			id, err := ExtractVideoID(tc.in)
			if tc.err != "" {
				a.ErrorContains(err, tc.err)
				return
			}

			a.NoError(err)
			a.Equal(tc.out, id)
		})
	}
}

func TestWatchURL(t *testing.T) {
	a := assert.New(t)

	a.Equal("https://www.youtube.com/watch?v=dQw4w9WgXcQ", WatchURL("dQw4w9WgXcQ"))
}

func TestParseISODuration(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out string
	}{
		{"PT4M13S", "4:13"},
		{"PT1H2M3S", "1:02:03"},
		{"PT1H", "1:00:00"},
		{"PT45S", "0:45"},
		{"PT10M", "10:00"},
		{"PT0S", "0:00"},
		{"PT", ""},
		{"P1DT2H", "26:00:00"},
		{"-PT5S", ""},
		{"4:13", ""},
		{"", ""},
	} {
		t.Run(tc.in, func(t *testing.T) {
			a := assert.New(t)
			a.Equal(tc.out, ParseISODuration(tc.in))
		})
	}
}

func TestFormatSeconds(t *testing.T) {
	a := assert.New(t)

	a.Equal("3:32", FormatSeconds(212))
	a.Equal("1:01:01", FormatSeconds(3661))
	a.Equal("", FormatSeconds(0))
}
