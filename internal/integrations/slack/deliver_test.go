package slackbot

import (
	"context"
	"testing"

	"slackdigest/internal/digest"
)

func TestDMDelivererResolvesEmailsOnce(t *testing.T) {
	api := &fakeAPI{emails: map[string]string{"ann@example.com": "U0AAAAAAA1"}}
	d := &DMDeliverer{Client: newTestClient(api), Recipients: []string{"ann@example.com", "U0BBBBBBB2", "U0BBBBBBB2"}}

	for i := 0; i < 2; i++ {
		if err := d.Deliver(context.Background(), digest.Delivery{Content: "hello"}); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	if api.emailLookups != 1 {
		t.Fatalf("expected one email lookup, got %d", api.emailLookups)
	}
	if len(api.posted) != 4 {
		t.Fatalf("expected 4 DMs, got %d", len(api.posted))
	}
	if api.posted[0].Channel != "D-U0AAAAAAA1" || api.posted[1].Channel != "D-U0BBBBBBB2" {
		t.Fatalf("unexpected DM targets: %s, %s", api.posted[0].Channel, api.posted[1].Channel)
	}
	if d.Name() != "slack-dm" {
		t.Fatalf("unexpected name %q", d.Name())
	}
}

func TestDMDelivererReportsUnresolved(t *testing.T) {
	api := &fakeAPI{}
	d := &DMDeliverer{Client: newTestClient(api), Recipients: []string{"U0AAAAAAA1", "ghost@example.com", "not-a-user"}}

	err := d.Deliver(context.Background(), digest.Delivery{Content: "hello"})
	if err == nil {
		t.Fatalf("expected unresolved recipients error")
	}
	if got := err.Error(); got != "unresolved DM recipients: ghost@example.com, not-a-user" {
		t.Fatalf("unexpected error: %q", got)
	}
	if len(api.posted) != 1 || api.posted[0].Channel != "D-U0AAAAAAA1" {
		t.Fatalf("resolved recipient should still get the digest, posted=%v", api.posted)
	}

	// Unresolved lookups are retried on the next delivery.
	_ = d.Deliver(context.Background(), digest.Delivery{Content: "again"})
	if api.emailLookups != 2 {
		t.Fatalf("expected lookup retry, got %d lookups", api.emailLookups)
	}
}

func TestDMDelivererWithoutRecipients(t *testing.T) {
	d := &DMDeliverer{Client: newTestClient(&fakeAPI{}), Recipients: []string{"nobody"}}
	if err := d.Deliver(context.Background(), digest.Delivery{}); err == nil {
		t.Fatalf("expected error when nobody resolves")
	}
}

func TestIsLikelySlackID(t *testing.T) {
	cases := map[string]bool{
		"U012ABCDEF": true,
		"W012ABCDEF": true,
		"U012":       false,
		"C012ABCDEF": false,
		"u012abcdef": false,
		"ann@x.com":  false,
	}
	for in, want := range cases {
		if got := isLikelySlackID(in); got != want {
			t.Fatalf("isLikelySlackID(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestUniqueStrings(t *testing.T) {
	got := uniqueStrings([]string{"a", "", "b", "a"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected %v", got)
	}
}
