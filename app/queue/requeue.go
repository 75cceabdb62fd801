package queue

import (
	"encoding/json"
	"fmt"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
)

// JobFromDeadLetter rebuilds a fresh job from a dead letter so it can be
// published again.
func JobFromDeadLetter(letter *entity.DeadLetter) (Job, error) {
	if letter.Recipient == "" || letter.Template == "" {
		return Job{}, fmt.Errorf("dead letter %d: %w", letter.ID, errInvalidJob)
	}

	payload := map[string]string{}
	if letter.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(letter.PayloadJSON), &payload); err != nil {
			return Job{}, fmt.Errorf("dead letter %d: decode payload: %w", letter.ID, err)
		}
	}

	return NewJob(letter.Recipient, letter.Template, payload), nil
}
