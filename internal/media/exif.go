package media

import (
	"bytes"
	"fmt"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// CaptureDate reads the capture time from image EXIF, preferring
// DateTimeOriginal, then CreateDate, then ModifyDate. ok is false when the
// image carries none of them.
func CaptureDate(data []byte) (t time.Time, ok bool, err error) {
	exif, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode EXIF: %w", err)
	}

	for _, candidate := range []time.Time{exif.DateTimeOriginal(), exif.CreateDate(), exif.ModifyDate()} {
		if !candidate.IsZero() {
			log.Debug().Time("captured", candidate).Msg("EXIF capture date found")
			return candidate, true, nil
		}
	}
	return time.Time{}, false, nil
}

// SuggestDate proposes when to post a photo captured at captured: the same
// month and day at 10:00 UTC, this year if that is still ahead of now,
// otherwise next year. Feb 29 falls back to Feb 28 in non-leap years.
func SuggestDate(captured, now time.Time) time.Time {
	now = now.UTC()
	at := anniversary(captured, now.Year())
	if !at.After(now) {
		at = anniversary(captured, now.Year()+1)
	}
	return at
}

func anniversary(captured time.Time, year int) time.Time {
	m, d := captured.Month(), captured.Day()
	if m == time.February && d == 29 && !isLeap(year) {
		d = 28
	}
	return time.Date(year, m, d, 10, 0, 0, 0, time.UTC)
}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// NextWeekday returns 10:00 UTC on the first day strictly after now that
// falls on one of days. With no days every day qualifies.
func NextWeekday(now time.Time, days []time.Weekday) time.Time {
	now = now.UTC()
	allowed := map[time.Weekday]bool{}
	for _, d := range days {
		allowed[d] = true
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 7; i++ {
		c := start.AddDate(0, 0, i)
		if len(allowed) == 0 || allowed[c.Weekday()] {
			return c
		}
	}
	return start.AddDate(0, 0, 1)
}
