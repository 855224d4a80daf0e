package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	qstashx "github.com/tanpawarit/echobot/pkg/qstash"
)

// FirePayload is the body QStash delivers back to the fire callback.
type FirePayload struct {
	ReminderID int64 `json:"reminder_id"`
}

type QStashDeliverer struct {
	client      *qstashx.Client
	callbackURL string
	now         func() time.Time
}

func NewQStashDeliverer(client *qstashx.Client, callbackURL string) *QStashDeliverer {
	return &QStashDeliverer{client: client, callbackURL: callbackURL, now: time.Now}
}

func (d *QStashDeliverer) Deliver(ctx context.Context, r Reminder, at time.Time) error {
	body, err := json.Marshal(FirePayload{ReminderID: r.ID})
	if err != nil {
		return err
	}
	delay := at.Sub(d.now())
	if delay < 0 {
		delay = 0
	}

	_, err = d.client.Publish(ctx, qstashx.PublishRequest{
		Destination:     d.callbackURL,
		Body:            body,
		Delay:           delay,
		DeduplicationID: fmt.Sprintf("reminder-%d", r.ID),
	})
	return err
}
