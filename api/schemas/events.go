package schemas

// Step names one stage of the automation pipeline, in fixed order.
type Step string

const (
	StepPrepare       Step = "prepare"
	StepLaunchBrowser Step = "launch_browser"
	StepNavigateUSCIS Step = "navigate_uscis"
	StepLogin         Step = "login"
	StepCaptchaWait   Step = "captcha_wait"
	StepNavigateForm  Step = "navigate_form"
	StepFillFields    Step = "fill_fields"
	StepReview        Step = "review"
	StepDone          Step = "done"
)

// Pipeline returns the automation steps in execution order.
func Pipeline() []Step {
	return []Step{
		StepPrepare,
		StepLaunchBrowser,
		StepNavigateUSCIS,
		StepLogin,
		StepCaptchaWait,
		StepNavigateForm,
		StepFillFields,
		StepReview,
		StepDone,
	}
}

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StatusPending    StepStatus = "pending"
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
	StatusWaiting    StepStatus = "waiting"
	StatusSkipped    StepStatus = "skipped"
)

// EventType tags a record on the automation event stream.
type EventType string

const (
	EventStep       EventType = "step"
	EventField      EventType = "field"
	EventScreenshot EventType = "screenshot"
	EventError      EventType = "error"
	EventComplete   EventType = "complete"
)

// FieldOutcome is the per-field result inside the fill_fields step.
type FieldOutcome string

const (
	FieldFilled  FieldOutcome = "filled"
	FieldSkipped FieldOutcome = "skipped"
	FieldFailed  FieldOutcome = "failed"
)

// StepEvent is emitted the instant a step changes status.
type StepEvent struct {
	Step    Step       `json:"step"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message,omitempty"`
}

// FieldEvent reports one field interaction. Values for sensitive paths are
// redacted before the event is emitted.
type FieldEvent struct {
	FieldPath string       `json:"fieldPath"`
	Label     string       `json:"label,omitempty"`
	Value     string       `json:"value"`
	Outcome   FieldOutcome `json:"outcome"`
	Message   string       `json:"message,omitempty"`
}

// ScreenshotEvent carries a quality-reduced JPEG, base64 encoded.
type ScreenshotEvent struct {
	Step Step   `json:"step"`
	Data string `json:"data"`
}

// ErrorEvent reports a problem. Recoverable errors leave the run in a state a
// human can continue from; non-recoverable ones terminate it.
type ErrorEvent struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// CompleteEvent closes a run with final tallies and duration.
type CompleteEvent struct {
	FieldsFilled  int    `json:"fieldsFilled"`
	FieldsSkipped int    `json:"fieldsSkipped"`
	FieldsFailed  int    `json:"fieldsFailed"`
	DurationMs    int64  `json:"durationMs"`
	Message       string `json:"message,omitempty"`
}

// Credential holds a username and password pair for the login step. Empty or
// demo credentials park the login step in waiting instead of submitting.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
