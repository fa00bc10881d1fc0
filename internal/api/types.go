package api

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8719
)

type TaskStatus string

// Statuses reported by the Midjourney proxy.
const (
	StatusNotStart   TaskStatus = "NOT_START"
	StatusSubmitted  TaskStatus = "SUBMITTED"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusSuccess    TaskStatus = "SUCCESS"
	StatusFailure    TaskStatus = "FAILURE"
)

// ProgressDone is the progress string of a finished render.
const ProgressDone = "100%"

// GenerationTask is one snapshot of a backend task as returned by the fetch endpoint.
type GenerationTask struct {
	ID         string         `json:"id"`
	Action     string         `json:"action,omitempty"`
	Status     TaskStatus     `json:"status"`
	Progress   string         `json:"progress"`
	ImageURL   string         `json:"imageUrl,omitempty"`
	FailReason string         `json:"failReason,omitempty"`
	Properties TaskProperties `json:"properties"`
}

type TaskProperties struct {
	MessageHash string `json:"messageHash,omitempty"`
	FinalPrompt string `json:"finalPrompt,omitempty"`
}

// Done reports whether the snapshot is a completed render.
func (t *GenerationTask) Done() bool {
	return t.Status == StatusSuccess && t.Progress == ProgressDone
}

type BotType string

const (
	BotMidjourney BotType = "MID_JOURNEY"
	BotNiji       BotType = "NIJI_JOURNEY"
)

type ImagineRequest struct {
	Base64Array []string `json:"base64Array"`
	BotType     BotType  `json:"botType"`
	NotifyHook  string   `json:"notifyHook"`
	Prompt      string   `json:"prompt"`
	State       string   `json:"state"`
}

type ActionSubmitRequest struct {
	CustomID string `json:"customId"`
	TaskID   string `json:"taskId"`
}

// ImageGenerationRequest is the SiliconFlow /image/generations body.
type ImageGenerationRequest struct {
	Prompt            string `json:"prompt"`
	Model             string `json:"model"`
	NumInferenceSteps int    `json:"num_inference_steps,omitempty"`
	ImageSize         string `json:"image_size,omitempty"`
	Image             string `json:"image,omitempty"`
	Seed              int64  `json:"seed,omitempty"`
	NegativePrompt    string `json:"negative_prompt,omitempty"`
}

type ImageGenerationResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
	Timings struct {
		Inference float64 `json:"inference"`
	} `json:"timings"`
	Seed    int64  `json:"seed"`
	Message string `json:"message,omitempty"`
}

type JobKind string

const (
	JobImagine JobKind = "imagine"
	JobAction  JobKind = "action"
	JobDraw    JobKind = "draw"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobTimeout   JobStatus = "timeout"
	JobAbandoned JobStatus = "abandoned"
)

// Terminal reports whether no further transition is expected.
func (s JobStatus) Terminal() bool {
	return s != JobRunning
}

// Job is the local record of a generation started by this daemon.
type Job struct {
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	Kind          JobKind   `json:"kind"`
	Prompt        string    `json:"prompt"`
	BackendTaskID string    `json:"backend_task_id,omitempty"`
	Status        JobStatus `json:"status"`
	ImageURL      string    `json:"image_url,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     string    `json:"created_at"`
	UpdatedAt     string    `json:"updated_at"`
}

type ImagineJobRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
	Bot    string `json:"bot"`
}

type ActionJobRequest struct {
	UserID   string `json:"user_id"`
	Action   string `json:"action"`
	Position string `json:"position"`
	TaskID   string `json:"task_id"`
}

type ActionKind string

const (
	ActionUpscale   ActionKind = "UPSCALE"
	ActionVariation ActionKind = "VARIATION"
	ActionReroll    ActionKind = "REROLL"
)

// ActionRequest asks for a follow-up render on one quadrant of a finished grid.
// Position is 1-4 and ignored for rerolls.
type ActionRequest struct {
	Action       ActionKind `json:"action"`
	Position     int        `json:"position"`
	SourceTaskID string     `json:"source_task_id"`
}
