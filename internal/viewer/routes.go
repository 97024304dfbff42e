package viewer

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/posenode/internal/events"
	"github.com/smazurov/posenode/internal/pipeline"
	"github.com/smazurov/posenode/internal/version"
)

// keepaliveInterval resends the last frame to idle video clients.
const keepaliveInterval = 5 * time.Second

// StatusBody is the /api/status payload.
type StatusBody struct {
	pipeline.Status
	ExitRequested bool `json:"exit_requested" doc:"User asked the pipeline to exit"`
	ViewerClients int  `json:"viewer_clients" doc:"Connected video clients"`
}

// StatusResponse wraps StatusBody.
type StatusResponse struct {
	Body StatusBody
}

// ExitBody is the /api/exit payload.
type ExitBody struct {
	Exiting bool   `json:"exiting" example:"true" doc:"Exit was requested"`
	Message string `json:"message" example:"Pipeline is shutting down" doc:"Human readable result"`
}

// ExitResponse is returned by POST /api/exit.
type ExitResponse struct {
	Body ExitBody
}

// VersionResponse wraps version.Info.
type VersionResponse struct {
	Body version.Info
}

func (v *Viewer) registerRoutes() {
	v.mux.HandleFunc("GET /{$}", v.handleIndex)
	v.mux.HandleFunc("GET /video.mjpg", v.handleVideo)
	if v.opts.MetricsHandler != nil {
		v.mux.Handle("GET /metrics", v.opts.MetricsHandler)
	}

	huma.Register(v.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Pipeline status",
		Description: "Model, throughput, queue and sink counters of the running pipeline",
		Tags:        []string{"pipeline"},
	}, func(_ context.Context, _ *struct{}) (*StatusResponse, error) {
		resp := &StatusResponse{}
		if v.opts.Status != nil {
			resp.Body.Status = v.opts.Status()
		}
		resp.Body.ExitRequested = v.ShouldExit()
		resp.Body.ViewerClients = v.Clients()
		return resp, nil
	})

	huma.Register(v.api, huma.Operation{
		OperationID:   "request-exit",
		Method:        http.MethodPost,
		Path:          "/api/exit",
		Summary:       "Stop the pipeline",
		Description:   "Ask the capture loop to end; the pipeline then shuts down gracefully",
		Tags:          []string{"pipeline"},
		DefaultStatus: http.StatusAccepted,
	}, func(_ context.Context, _ *struct{}) (*ExitResponse, error) {
		v.RequestExit()
		return &ExitResponse{Body: ExitBody{Exiting: true, Message: "Pipeline is shutting down"}}, nil
	})

	huma.Register(v.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Build information",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*VersionResponse, error) {
		return &VersionResponse{Body: version.Get()}, nil
	})

	v.registerSSERoutes()
}

func (v *Viewer) registerSSERoutes() {
	sse.Register(v.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Overlay text, pipeline state and sink results as they happen",
		Tags:        []string{"events"},
	}, map[string]any{
		"overlay":        events.OverlayEvent{},
		"state":          events.PipelineStateEvent{},
		"record-written": events.RecordWrittenEvent{},
		"sink-error":     events.SinkErrorEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		if v.opts.Bus == nil {
			<-ctx.Done()
			return
		}

		eventCh := make(chan any, 16)
		unsubscribers := []func(){
			events.SubscribeToChannel[events.OverlayEvent](v.opts.Bus, eventCh),
			events.SubscribeToChannel[events.PipelineStateEvent](v.opts.Bus, eventCh),
			events.SubscribeToChannel[events.RecordWrittenEvent](v.opts.Bus, eventCh),
			events.SubscribeToChannel[events.SinkErrorEvent](v.opts.Bus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-v.done:
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

func (v *Viewer) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

// handleVideo streams annotated frames as multipart MJPEG.
func (v *Viewer) handleVideo(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, last := v.subscribe()
	defer v.unsubscribe(ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	current := last
	if current == nil {
		current = placeholderJPEG(640, 480)
	}

	timer := time.NewTimer(keepaliveInterval)
	defer timer.Stop()

	for {
		if err := writePart(w, current); err != nil {
			v.logger.Debug("Video client disconnected", "error", err)
			return
		}
		flusher.Flush()

		timer.Reset(keepaliveInterval)
		select {
		case <-r.Context().Done():
			return
		case <-v.done:
			return
		case data := <-ch:
			current = data
		case <-timer.C:
		}
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	header := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: " + strconv.Itoa(len(data)) + "\r\n\r\n"
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
