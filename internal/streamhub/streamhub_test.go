package streamhub

import "testing"

func TestPublishDeliversToSubscribedObserver(t *testing.T) {
	h := New(nil)
	obs := h.Subscribe("job-1")
	h.Publish(Event{Type: "chunk_complete", JobID: "job-1"})

	select {
	case e := <-obs.Events():
		if e.Type != "chunk_complete" {
			t.Fatalf("unexpected event type %q", e.Type)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestPublishIgnoresOtherJobs(t *testing.T) {
	h := New(nil)
	obs := h.Subscribe("job-1")
	h.Publish(Event{Type: "chunk_complete", JobID: "job-2"})

	select {
	case <-obs.Events():
		t.Fatal("observer should not receive events for a different job")
	default:
	}
}

func TestPublishDropsOnFullBufferWithoutBlocking(t *testing.T) {
	var dropped int
	h := New(func() { dropped++ })
	obs := h.Subscribe("job-1")

	for i := 0; i < sendBuffer+5; i++ {
		h.Publish(Event{Type: "tick", JobID: "job-1"})
	}
	if dropped != 5 {
		t.Fatalf("expected 5 dropped events, got %d", dropped)
	}
	if len(obs.Events()) != sendBuffer {
		t.Fatalf("expected buffer full at %d, got %d", sendBuffer, len(obs.Events()))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New(nil)
	obs := h.Subscribe("job-1")
	h.Unsubscribe(obs)
	if _, ok := <-obs.Events(); ok {
		t.Fatal("expected observer channel to be closed after unsubscribe")
	}
}

func TestGenerationChannelIsIndependentOfJobStream(t *testing.T) {
	h := New(nil)
	genCh := h.SubscribeGeneration()
	obs := h.Subscribe("job-1")

	h.PublishGeneration(Event{Type: "section_complete"})

	select {
	case <-genCh:
	default:
		t.Fatal("expected generation subscriber to receive event")
	}
	select {
	case <-obs.Events():
		t.Fatal("job observer should not receive generation events")
	default:
	}
}
