package handler

import "github.com/maauso/wan-ti2v-api/internal/generation"

// StatusSuccess is the status reported by a successful generation.
const StatusSuccess = "success"

// Event is a serverless job event as delivered by the queue.
type Event struct {
	ID    string           `json:"id,omitempty"`
	Input generation.Input `json:"input"`
}

// Timing reports where a generation spent its time, in milliseconds.
type Timing struct {
	DecodeMS    int64 `json:"decode_ms"`
	InferenceMS int64 `json:"inference_ms"`
	EncodeMS    int64 `json:"encode_ms"`
	TotalMS     int64 `json:"total_ms"`
}

// Response is the job output. Exactly one of Video or Error is set.
// NumFrames echoes the requested count; FramesProduced is what the MP4
// actually holds, which the model may round up.
type Response struct {
	Video          string    `json:"video,omitempty"`
	Status         string    `json:"status,omitempty"`
	NumFrames      int       `json:"num_frames,omitempty"`
	FramesProduced int       `json:"frames_produced,omitempty"`
	FPS            int       `json:"fps,omitempty"`
	Prompt         string    `json:"prompt,omitempty"`
	Timing         *Timing   `json:"timing,omitempty"`
	Error          string    `json:"error,omitempty"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
}

// Failed reports whether the response carries an error.
func (r Response) Failed() bool {
	return r.Error != ""
}
