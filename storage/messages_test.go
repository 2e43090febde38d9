package storage

import (
	"errors"
	"testing"

	"p2pchat/models"
)

func TestMessageCRUD(t *testing.T) {
	store := newTestStore(t)

	oldSent := nowUnixMilli() - 10_000
	newSent := nowUnixMilli()

	for _, message := range []models.Message{
		{MessageID: "msg-old", PeerName: "bob", Direction: models.DirectionOutbound, Content: "old message", Timestamp: oldSent},
		{MessageID: "msg-new", PeerName: "bob", Direction: models.DirectionOutbound, Content: "new message", Timestamp: newSent},
		{MessageID: "msg-reply", PeerName: "bob", Direction: models.DirectionInbound, Content: "reply", Timestamp: newSent + 1},
		{MessageID: "msg-other", PeerName: "carol", Direction: models.DirectionInbound, Content: "hi", Timestamp: newSent + 2},
	} {
		if err := store.SaveMessage(message); err != nil {
			t.Fatalf("SaveMessage %q failed: %v", message.MessageID, err)
		}
	}

	conversation, err := store.GetMessages("bob", 10, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(conversation) != 3 {
		t.Fatalf("expected 3 conversation messages, got %d", len(conversation))
	}
	if conversation[0].MessageID != "msg-old" || conversation[2].MessageID != "msg-reply" {
		t.Fatalf("messages are not ordered by timestamp ascending: %+v", conversation)
	}

	recent, err := store.RecentMessages(2)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(recent) != 2 || recent[0].MessageID != "msg-reply" || recent[1].MessageID != "msg-other" {
		t.Fatalf("unexpected recent messages %+v", recent)
	}

	got, err := store.GetMessageByID("msg-reply")
	if err != nil {
		t.Fatalf("GetMessageByID failed: %v", err)
	}
	if got.Direction != models.DirectionInbound || got.Content != "reply" {
		t.Fatalf("unexpected message %+v", got)
	}
	if _, err := store.GetMessageByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	pruned, err := store.PruneMessages(nowUnixMilli() - 5_000)
	if err != nil {
		t.Fatalf("PruneMessages failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %d", pruned)
	}
}

func TestSaveMessageIgnoresDuplicateID(t *testing.T) {
	store := newTestStore(t)

	message := models.Message{MessageID: "dup", PeerName: "bob", Direction: models.DirectionInbound, Content: "first"}
	if err := store.SaveMessage(message); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	message.Content = "second"
	if err := store.SaveMessage(message); err != nil {
		t.Fatalf("SaveMessage duplicate failed: %v", err)
	}

	got, err := store.GetMessageByID("dup")
	if err != nil {
		t.Fatalf("GetMessageByID failed: %v", err)
	}
	if got.Content != "first" || got.Timestamp == 0 {
		t.Fatalf("unexpected stored message %+v", got)
	}
}

func TestSaveMessageValidatesInput(t *testing.T) {
	store := newTestStore(t)

	for _, message := range []models.Message{
		{PeerName: "bob", Direction: models.DirectionInbound},
		{MessageID: "m1", Direction: models.DirectionInbound},
		{MessageID: "m1", PeerName: "bob", Direction: "sideways"},
	} {
		if err := store.SaveMessage(message); err == nil {
			t.Fatalf("expected SaveMessage(%+v) to fail", message)
		}
	}
}
