package inference

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/smazurov/posenode/internal/pose"
	"github.com/vmihailenco/msgpack/v5"
)

// Worker wire formats.
const (
	// CodecJSON is one JSON document per line; JPEG bytes are base64.
	CodecJSON = "json"
	// CodecMsgpack is a 4-byte big-endian length followed by a msgpack body.
	CodecMsgpack = "msgpack"
)

const maxMessageSize = 32 << 20

// Message types.
const (
	msgReady  = "ready"
	msgInfer  = "infer"
	msgResult = "result"
	msgError  = "error"
)

// request is sent to the worker for every frame.
type request struct {
	Type   string `json:"type" msgpack:"type"`
	Seq    uint64 `json:"seq" msgpack:"seq"`
	Width  int    `json:"width" msgpack:"width"`
	Height int    `json:"height" msgpack:"height"`
	JPEG   []byte `json:"jpeg" msgpack:"jpeg"`
}

// message is anything the worker writes: the ready handshake, a result or
// an error.
type message struct {
	Type        string     `json:"type" msgpack:"type"`
	Seq         uint64     `json:"seq" msgpack:"seq"`
	DurationMs  float64    `json:"duration_ms" msgpack:"duration_ms"`
	Poses       []wirePose `json:"poses" msgpack:"poses"`
	Error       string     `json:"error,omitempty" msgpack:"error,omitempty"`
	ModelID     string     `json:"model,omitempty" msgpack:"model,omitempty"`
	Engine      string     `json:"engine,omitempty" msgpack:"engine,omitempty"`
	Accelerator string     `json:"accelerator,omitempty" msgpack:"accelerator,omitempty"`
	Version     string     `json:"version,omitempty" msgpack:"version,omitempty"`
}

type wirePose struct {
	Score     float64        `json:"score" msgpack:"score"`
	Keypoints []wireKeypoint `json:"keypoints" msgpack:"keypoints"`
}

type wireKeypoint struct {
	Name string  `json:"name" msgpack:"name"`
	X    float64 `json:"x" msgpack:"x"`
	Y    float64 `json:"y" msgpack:"y"`
}

func (m message) poses() []pose.Pose {
	out := make([]pose.Pose, len(m.Poses))
	for i, wp := range m.Poses {
		kps := make([]pose.Keypoint, len(wp.Keypoints))
		for j, k := range wp.Keypoints {
			kps[j] = pose.Keypoint{Name: k.Name, X: k.X, Y: k.Y}
		}
		out[i] = pose.Pose{Score: wp.Score, Keypoints: kps}
	}
	return out
}

// codec frames messages on a byte stream.
type codec interface {
	Write(w io.Writer, v any) error
	Read(r *bufio.Reader, v any) error
}

func newCodec(name string) (codec, error) {
	switch name {
	case CodecJSON, "":
		return jsonLines{}, nil
	case CodecMsgpack:
		return msgpackFrames{}, nil
	default:
		return nil, fmt.Errorf("unknown worker codec %q", name)
	}
}

type jsonLines struct{}

func (jsonLines) Write(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// Read skips blank lines and lines that are not JSON objects, so stray
// prints from the worker do not break the stream.
func (jsonLines) Read(r *bufio.Reader, v any) error {
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > maxMessageSize {
			return fmt.Errorf("message of %d bytes exceeds limit", len(line))
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 && line[0] == '{' {
			return json.Unmarshal(line, v)
		}
		if err != nil {
			return err
		}
	}
}

type msgpackFrames struct{}

func (msgpackFrames) Write(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err = w.Write(frame)
	return err
}

func (msgpackFrames) Read(r *bufio.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return msgpack.Unmarshal(body, v)
}
