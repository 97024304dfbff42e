package sink

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	posenats "github.com/smazurov/posenode/internal/nats"
)

func TestNATSSinkPublishesRecord(t *testing.T) {
	server := posenats.NewServer(posenats.ServerOptions{Port: 14230, Logger: quietLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	sub, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe(posenats.SubjectPoses(DefaultMeasurement), msgs); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	client := posenats.NewClient(server.ClientURL(), "test", quietLogger())
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	s := NewNATS(client, quietLogger())
	if err := s.WriteRecord(context.Background(), testRecord()); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	select {
	case msg := <-msgs:
		got, err := posenats.UnmarshalPoseRecord(msg.Data)
		if err != nil {
			t.Fatalf("UnmarshalPoseRecord: %v", err)
		}
		if got.Subjects["Person 0"].Score != 22 || got.Subjects["Person 1"].Score != 40 {
			t.Errorf("unexpected subjects %+v", got.Subjects)
		}
		if got.Timestamp != "2024-01-01T12:00:00Z" || got.Tags["session"] != "s-1" {
			t.Errorf("unexpected record %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("record not published")
	}
}

func TestNATSSinkOfflineIsSilent(t *testing.T) {
	client := posenats.NewClient("nats://localhost:59997", "test", quietLogger())
	_ = client.Connect()

	s := NewNATS(client, quietLogger())
	if err := s.WriteRecord(context.Background(), testRecord()); err != nil {
		t.Errorf("offline WriteRecord = %v, want nil", err)
	}
}
