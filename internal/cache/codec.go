package cache

import (
	"encoding/json"
	"fmt"

	"github.com/dolr-ai/github-report/internal/activity"
)

func encodeSnapshot(snapshot activity.DailySnapshot) ([]byte, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot %s: %w", snapshot.Date, err)
	}
	return payload, nil
}

// decodeSnapshot never fails. An unreadable payload comes back as a snapshot
// that does not pass validation so callers re-fetch the date.
func decodeSnapshot(date string, payload []byte) activity.DailySnapshot {
	var snapshot activity.DailySnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return activity.DailySnapshot{Date: date}
	}
	if snapshot.Date == "" {
		snapshot.Date = date
	}
	return snapshot
}
