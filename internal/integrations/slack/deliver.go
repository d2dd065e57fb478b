package slackbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"slackdigest/internal/digest"
)

// DMDeliverer sends the digest as a direct message to each recipient.
// Recipients may be user ids or email addresses; emails are resolved once.
type DMDeliverer struct {
	Client     *Client
	Recipients []string

	mu  sync.Mutex
	ids []string
}

func (d *DMDeliverer) Name() string { return "slack-dm" }

func (d *DMDeliverer) Deliver(ctx context.Context, del digest.Delivery) error {
	ids, err := d.recipientIDs(ctx)
	if len(ids) == 0 {
		return errors.Join(err, errors.New("no resolvable DM recipients"))
	}
	errs := []error{err}
	for _, id := range ids {
		if err := d.Client.SendDM(ctx, id, del.Content); err != nil {
			errs = append(errs, fmt.Errorf("dm %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (d *DMDeliverer) recipientIDs(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ids != nil {
		return d.ids, nil
	}
	ids, unresolved, err := resolveRecipients(ctx, d.Client, d.Recipients)
	if err != nil {
		return nil, err
	}
	if len(unresolved) > 0 {
		return ids, fmt.Errorf("unresolved DM recipients: %s", strings.Join(unresolved, ", "))
	}
	d.ids = ids
	return ids, nil
}
