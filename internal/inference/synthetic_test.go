package inference

import (
	"bufio"
	"bytes"
	"context"
	"testing"

	"github.com/smazurov/posenode/internal/capture"
	"github.com/smazurov/posenode/internal/pose"
)

func TestSyntheticIsDeterministic(t *testing.T) {
	m, err := NewLoader(testLogger()).Load(context.Background(), Config{Runtime: RuntimeSynthetic, Engine: "dnn", Accelerator: "cpu"})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	frame := capture.Frame{Seq: 7, Width: 1280, Height: 720}
	a, err := m.Infer(context.Background(), frame)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.Infer(context.Background(), frame)

	if len(a.Poses) != 3 {
		t.Fatalf("frame 7 has %d people, want 3", len(a.Poses))
	}
	for i := range a.Poses {
		if a.Poses[i].Score != b.Poses[i].Score {
			t.Errorf("score %d differs between runs", i)
		}
		if len(a.Poses[i].Keypoints) != len(pose.COCOKeypoints) {
			t.Errorf("pose %d has %d keypoints", i, len(a.Poses[i].Keypoints))
		}
	}

	kept := pose.Filter(a.Poses, 20)
	if len(kept) != 2 {
		t.Errorf("threshold 20 keeps %d of 3, want 2", len(kept))
	}
	if m.Describe().ModelID != "synthetic" || m.Describe().Accelerator != "cpu" {
		t.Errorf("Describe() = %+v", m.Describe())
	}
}

func TestSyntheticHonoursContext(t *testing.T) {
	m := newSynthetic(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Infer(ctx, capture.Frame{Seq: 1}); err == nil {
		t.Error("expected context error")
	}
}

func TestUnknownRuntime(t *testing.T) {
	if _, err := NewLoader(testLogger()).Load(context.Background(), Config{Runtime: "tensorrt"}); err == nil {
		t.Error("expected error for unknown runtime")
	}
}

func TestCodecsFrameMessages(t *testing.T) {
	for _, name := range []string{CodecJSON, CodecMsgpack} {
		t.Run(name, func(t *testing.T) {
			c, err := newCodec(name)
			if err != nil {
				t.Fatal(err)
			}
			var buf bytes.Buffer
			for seq := uint64(1); seq <= 2; seq++ {
				if err := c.Write(&buf, request{Type: msgInfer, Seq: seq, JPEG: []byte{0xFF, 0x00, '\n'}}); err != nil {
					t.Fatal(err)
				}
			}

			r := bufio.NewReader(&buf)
			for seq := uint64(1); seq <= 2; seq++ {
				var got request
				if err := c.Read(r, &got); err != nil {
					t.Fatalf("Read: %v", err)
				}
				if got.Seq != seq || !bytes.Equal(got.JPEG, []byte{0xFF, 0x00, '\n'}) {
					t.Errorf("message %d = %+v", seq, got)
				}
			}
		})
	}
}

func TestConfigWithEngine(t *testing.T) {
	primary := Config{ModelID: "movenet", Engine: "openvino", Accelerator: "gpu"}
	fallback := primary.WithEngine("dnn", "cpu")
	if fallback.ModelID != "movenet" || fallback.Engine != "dnn" || fallback.Accelerator != "cpu" {
		t.Errorf("WithEngine() = %+v", fallback)
	}
	if primary.Engine != "openvino" {
		t.Error("WithEngine must not modify the receiver")
	}
}
