package scanner

import (
	"time"

	"github.com/djherbis/times"
)

type FileTimes struct {
	CreationTime string
	AccessTime   string
	ChangeTime   string
}

// fileTimes reads the timestamps of path without following a final link.
// Birth and change times stay empty where the platform does not keep them.
func fileTimes(path string) (FileTimes, error) {
	ts, err := times.Lstat(path)
	if err != nil {
		return FileTimes{}, err
	}
	result := FileTimes{AccessTime: formatTime(ts.AccessTime())}
	if ts.HasChangeTime() {
		result.ChangeTime = formatTime(ts.ChangeTime())
	}
	if ts.HasBirthTime() {
		result.CreationTime = formatTime(ts.BirthTime())
	}
	return result, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
