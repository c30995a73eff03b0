package notify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHub_PublishReachesLotSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	eventsA, cancelA := hub.Subscribe("lot-a")
	defer cancelA()
	eventsB, cancelB := hub.Subscribe("lot-b")
	defer cancelB()

	hub.Publish(Event{Kind: EventSessionStarted, LotID: "lot-a", SessionID: "s1", At: time.Now()})

	select {
	case event := <-eventsA:
		if event.SessionID != "s1" {
			t.Errorf("Expected session s1, got %s", event.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("Subscriber on lot-a never received the event")
	}

	select {
	case event := <-eventsB:
		t.Errorf("Subscriber on lot-b received foreign event: %+v", event)
	default:
	}
}

func TestHub_MultipleSubscribersSameLot(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	first, cancelFirst := hub.Subscribe("lot-a")
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe("lot-a")
	defer cancelSecond()

	hub.Publish(Event{Kind: EventSessionEnded, LotID: "lot-a", At: time.Now()})

	for i, events := range []<-chan Event{first, second} {
		select {
		case <-events:
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d never received the event", i)
		}
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	_, cancel := hub.Subscribe("lot-a")
	defer cancel()

	// Nobody drains the channel; publishing past the buffer must not
	// block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(Event{Kind: EventSpotAvailability, LotID: "lot-a", At: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestHub_CancelRemovesSubscriber(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	events, cancel := hub.Subscribe("lot-a")
	if got := hub.SubscriberCount("lot-a"); got != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", got)
	}

	cancel()
	if got := hub.SubscriberCount("lot-a"); got != 0 {
		t.Fatalf("Expected 0 subscribers after cancel, got %d", got)
	}

	// Channel is closed so range-based consumers terminate.
	if _, ok := <-events; ok {
		t.Error("Expected closed channel after cancel")
	}

	// Cancel twice is safe.
	cancel()
}

func TestHub_PublishAfterCancelIsNoop(t *testing.T) {
	hub := NewHub(zerolog.Nop())

	_, cancel := hub.Subscribe("lot-a")
	cancel()

	// Must not panic on the closed channel.
	hub.Publish(Event{Kind: EventSessionStarted, LotID: "lot-a", At: time.Now()})
}
