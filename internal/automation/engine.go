// internal/automation/engine.go
package automation

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/config"
)

// DriverFactory creates the page driver for a run. Swapped for a fake in
// tests.
type DriverFactory func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (PageDriver, error)

// RunRequest is everything one automation run needs. Mappings are filtered by
// confidence again at this boundary; the engine performs real side effects
// and never trusts the caller to have filtered.
type RunRequest struct {
	RunID       string
	FormCode    string
	Mappings    []schemas.AIFieldMapping
	Credentials schemas.Credential
	TargetURL   string
}

// Engine drives one browser session through the fixed step pipeline. A run is
// single-flow: one browser, one page, sequential steps, because each step
// depends on the page state left by the previous one.
type Engine struct {
	cfg           config.AutomationConfig
	browserCfg    config.BrowserConfig
	minConfidence float64
	logger        *zap.Logger
	newDriver     DriverFactory
}

// NewEngine creates an engine. A nil factory uses the real Chrome driver.
func NewEngine(cfg *config.Config, logger *zap.Logger, factory DriverFactory) *Engine {
	if factory == nil {
		factory = func(ctx context.Context, bc config.BrowserConfig, l *zap.Logger) (PageDriver, error) {
			return NewChromeDriver(ctx, bc, l)
		}
	}
	min := cfg.Mapping.MinConfidence
	if min <= 0 {
		min = schemas.DefaultMinConfidence
	}
	return &Engine{
		cfg:           cfg.Automation,
		browserCfg:    cfg.Browser,
		minConfidence: min,
		logger:        logger.Named("automation.engine"),
		newDriver:     factory,
	}
}

// run holds the mutable state of one execution.
type run struct {
	req     RunRequest
	sink    EventSink
	driver  PageDriver
	start   time.Time
	states  []stepState
	filled  int
	skipped int
	failed  int
}

// setStatus records a step's live status for the final summary log.
func (r *run) setStatus(step schemas.Step, status schemas.StepStatus) {
	for i := range r.states {
		if r.states[i].step == step {
			r.states[i].status = status
			return
		}
	}
}

// Run executes the pipeline. Field- and step-level problems are absorbed into
// status events; only the global timeout and unexpected driver failures end
// the run, and only those force-close the browser. On success the browser is
// deliberately left open for a human reviewer.
func (e *Engine) Run(ctx context.Context, req RunRequest, sink EventSink) error {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.GlobalTimeout)
	defer cancel()

	r := &run{req: req, sink: sink, start: time.Now(), states: newStepStates()}
	r.req.Mappings = schemas.FilterByConfidence(req.Mappings, e.minConfidence)

	log := e.logger.With(zap.String("run_id", req.RunID), zap.String("form_code", req.FormCode))
	log.Info("Starting automation run", zap.Int("mappings", len(r.req.Mappings)))

	err := e.runSteps(runCtx, r, log)
	if err != nil {
		// Fatal path: report, then tear the browser down. Everything
		// recoverable was already absorbed inside the steps.
		msg := err.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			msg = "global timeout reached, run aborted"
		}
		sink.Emit(schemas.EventError, schemas.ErrorEvent{Message: msg, Recoverable: false})
		if r.driver != nil {
			r.driver.Close()
		}
		sink.Close()
		log.Error("Automation run failed", zap.Error(err))
		return err
	}

	sink.Emit(schemas.EventComplete, schemas.CompleteEvent{
		FieldsFilled:  r.filled,
		FieldsSkipped: r.skipped,
		FieldsFailed:  r.failed,
		DurationMs:    time.Since(r.start).Milliseconds(),
		Message:       "browser left open for review",
	})
	sink.Close()
	log.Info("Automation run complete",
		zap.Int("filled", r.filled), zap.Int("skipped", r.skipped), zap.Int("failed", r.failed),
		zap.Any("steps", r.stepSummary()))
	return nil
}

// stepSummary reports each step's final status for the run log.
func (r *run) stepSummary() map[string]string {
	summary := make(map[string]string, len(r.states))
	for _, s := range r.states {
		summary[string(s.step)] = string(s.status)
	}
	return summary
}

func (e *Engine) runSteps(ctx context.Context, r *run, log *zap.Logger) error {
	type stepFunc func(context.Context, *run) error
	steps := []struct {
		step schemas.Step
		fn   stepFunc
	}{
		{schemas.StepPrepare, e.stepPrepare},
		{schemas.StepLaunchBrowser, e.stepLaunchBrowser},
		{schemas.StepNavigateUSCIS, e.stepNavigateUSCIS},
		{schemas.StepLogin, e.stepLogin},
		{schemas.StepCaptchaWait, e.stepCaptchaWait},
		{schemas.StepNavigateForm, e.stepNavigateForm},
		{schemas.StepFillFields, e.stepFillFields},
		{schemas.StepReview, e.stepReview},
		{schemas.StepDone, e.stepDone},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debug("Entering step", zap.String("step", string(s.step)))
		if err := s.fn(ctx, r); err != nil {
			e.emitStep(r, s.step, schemas.StatusFailed, err.Error())
			return fmt.Errorf("step %s: %w", s.step, err)
		}
	}
	return nil
}

func (e *Engine) emitStep(r *run, step schemas.Step, status schemas.StepStatus, message string) {
	r.setStatus(step, status)
	r.sink.Emit(schemas.EventStep, schemas.StepEvent{Step: step, Status: status, Message: message})
}

func (e *Engine) emitField(r *run, m schemas.AIFieldMapping, outcome schemas.FieldOutcome, message string) {
	r.sink.Emit(schemas.EventField, schemas.FieldEvent{
		FieldPath: m.FieldPath,
		Label:     m.Label,
		Value:     redactValue(m.FieldPath, m.EffectiveValue()),
		Outcome:   outcome,
		Message:   message,
	})
}

func (e *Engine) emitScreenshot(ctx context.Context, r *run, step schemas.Step) {
	if r.driver == nil {
		return
	}
	shot, err := r.driver.Screenshot(ctx, e.cfg.ScreenshotQuality)
	if err != nil {
		e.logger.Debug("Screenshot failed", zap.Error(err))
		return
	}
	r.sink.Emit(schemas.EventScreenshot, schemas.ScreenshotEvent{
		Step: step,
		Data: base64.StdEncoding.EncodeToString(shot),
	})
}

// -- Steps --

func (e *Engine) stepPrepare(_ context.Context, r *run) error {
	e.emitStep(r, schemas.StepPrepare, schemas.StatusInProgress, "")
	msg := fmt.Sprintf("%d fields ready to fill", len(r.req.Mappings))
	e.emitStep(r, schemas.StepPrepare, schemas.StatusCompleted, msg)
	return nil
}

func (e *Engine) stepLaunchBrowser(ctx context.Context, r *run) error {
	e.emitStep(r, schemas.StepLaunchBrowser, schemas.StatusInProgress, "")
	driver, err := e.newDriver(ctx, e.browserCfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	r.driver = driver
	e.emitStep(r, schemas.StepLaunchBrowser, schemas.StatusCompleted, "")
	return nil
}

func (e *Engine) stepNavigateUSCIS(ctx context.Context, r *run) error {
	e.emitStep(r, schemas.StepNavigateUSCIS, schemas.StatusInProgress, "")
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()
	if err := r.driver.Navigate(stepCtx, e.cfg.BaseURL); err != nil {
		return fmt.Errorf("failed to reach %s: %w", e.cfg.BaseURL, err)
	}
	e.emitStep(r, schemas.StepNavigateUSCIS, schemas.StatusCompleted, "")
	return nil
}

var (
	emailSelectors = []string{
		`input[type="email"]`,
		`input[name="email"]`,
		`input[name="user[email]"]`,
		`#email`,
		`input[autocomplete="username"]`,
		`input[name="username"]`,
	}
	passwordSelectors = []string{
		`input[type="password"]`,
		`input[name="password"]`,
		`input[name="user[password]"]`,
		`#password`,
	}
	submitSelectors = []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`button[name="commit"]`,
	}
	captchaSelectors = []string{
		`iframe[src*="captcha"]`,
		`iframe[title*="reCAPTCHA"]`,
		`.g-recaptcha`,
		`#captcha`,
		`[data-sitekey]`,
	}
	fileFormSelectors = []string{
		`a[href*="file-online"]`,
		`a[href*="file-a-form"]`,
		`[data-testid="file-a-form"]`,
	}
)

// stepLogin locates the sign-in inputs from a prioritized candidate list and
// types credentials character by character, pacing deliberate enough for a
// human-observed demo. Submission happens only with real credentials; demo or
// missing credentials park the step in waiting for the human to continue.
func (e *Engine) stepLogin(ctx context.Context, r *run) error {
	e.emitStep(r, schemas.StepLogin, schemas.StatusInProgress, "")
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)

	emailSel := e.firstExisting(stepCtx, r.driver, emailSelectors)
	passwordSel := e.firstExisting(stepCtx, r.driver, passwordSelectors)
	cancel()

	if emailSel == "" || passwordSel == "" {
		e.emitStep(r, schemas.StepLogin, schemas.StatusWaiting, "sign-in form not found, please sign in manually")
		if e.waitForURLChange(ctx, r) {
			e.emitStep(r, schemas.StepLogin, schemas.StatusCompleted, "")
		} else {
			e.emitStep(r, schemas.StepLogin, schemas.StatusSkipped, "no sign-in detected within the wait window")
		}
		return nil
	}

	creds := r.req.Credentials
	if creds.Username != "" {
		if err := e.typeField(ctx, r, "login.email", emailSel, creds.Username); err != nil {
			e.logger.Warn("Failed to type username", zap.Error(err))
		}
	}
	if creds.Password != "" {
		if err := e.typeField(ctx, r, "login.password", passwordSel, creds.Password); err != nil {
			e.logger.Warn("Failed to type password", zap.Error(err))
		}
	}

	if isRealCredential(creds) {
		submitCtx, cancelSubmit := context.WithTimeout(ctx, e.cfg.StepTimeout)
		defer cancelSubmit()
		if sel := e.firstExisting(submitCtx, r.driver, submitSelectors); sel != "" {
			if err := r.driver.Click(submitCtx, sel); err != nil {
				e.logger.Warn("Sign-in submit failed", zap.Error(err))
			}
		}
		e.emitStep(r, schemas.StepLogin, schemas.StatusCompleted, "")
		return nil
	}

	// Grace period so the human sees the typed values before taking over.
	sleepCtx(ctx, e.cfg.LoginGracePeriod)
	e.emitStep(r, schemas.StepLogin, schemas.StatusWaiting, "credentials entered, please review and sign in")
	if e.waitForURLChange(ctx, r) {
		e.emitStep(r, schemas.StepLogin, schemas.StatusCompleted, "")
	} else {
		e.emitStep(r, schemas.StepLogin, schemas.StatusSkipped, "no sign-in detected within the wait window")
	}
	return nil
}

// typeField types one login input and reports it as a field event, with the
// value redacted when the path is sensitive.
func (e *Engine) typeField(ctx context.Context, r *run, fieldPath, selector, value string) error {
	fieldCtx, cancel := context.WithTimeout(ctx, e.cfg.FieldTimeout)
	defer cancel()
	err := r.driver.TypeChars(fieldCtx, selector, value, e.cfg.TypeDelay)
	outcome := schemas.FieldFilled
	if err != nil {
		outcome = schemas.FieldFailed
	}
	r.sink.Emit(schemas.EventField, schemas.FieldEvent{
		FieldPath: fieldPath,
		Value:     redactValue(fieldPath, value),
		Outcome:   outcome,
	})
	return err
}

// stepCaptchaWait is an explicit human-in-the-loop step: no solving, just a
// bounded poll until the CAPTCHA container disappears.
func (e *Engine) stepCaptchaWait(ctx context.Context, r *run) error {
	e.emitStep(r, schemas.StepCaptchaWait, schemas.StatusInProgress, "")

	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	captchaSel := e.firstExisting(probeCtx, r.driver, captchaSelectors)
	cancel()

	if captchaSel == "" {
		e.emitStep(r, schemas.StepCaptchaWait, schemas.StatusSkipped, "no CAPTCHA present")
		return nil
	}

	e.emitStep(r, schemas.StepCaptchaWait, schemas.StatusWaiting, "please complete the CAPTCHA")
	deadline := time.Now().Add(e.cfg.WaitTimeout)
	for time.Now().Before(deadline) {
		if !sleepCtx(ctx, e.cfg.PollInterval) {
			return ctx.Err()
		}
		present, err := r.driver.Exists(ctx, captchaSel)
		if err != nil {
			e.logger.Debug("CAPTCHA probe failed", zap.Error(err))
			continue
		}
		if !present {
			e.emitStep(r, schemas.StepCaptchaWait, schemas.StatusCompleted, "")
			return nil
		}
	}
	e.emitStep(r, schemas.StepCaptchaWait, schemas.StatusFailed, "CAPTCHA not completed within the wait window")
	return nil
}

// stepNavigateForm tries the known navigation heuristics, then degrades to
// waiting on a URL change as the signal that the human navigated manually.
func (e *Engine) stepNavigateForm(ctx context.Context, r *run) error {
	e.emitStep(r, schemas.StepNavigateForm, schemas.StatusInProgress, "")
	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	if r.req.TargetURL != "" {
		if err := r.driver.Navigate(stepCtx, r.req.TargetURL); err == nil {
			e.emitStep(r, schemas.StepNavigateForm, schemas.StatusCompleted, "")
			return nil
		}
	}

	if sel := e.firstExisting(stepCtx, r.driver, fileFormSelectors); sel != "" {
		if err := r.driver.Click(stepCtx, sel); err == nil {
			e.emitStep(r, schemas.StepNavigateForm, schemas.StatusCompleted, "")
			return nil
		}
	}

	e.emitStep(r, schemas.StepNavigateForm, schemas.StatusWaiting, "could not locate the form, please navigate manually")
	if e.waitForURLChange(ctx, r) {
		e.emitStep(r, schemas.StepNavigateForm, schemas.StatusCompleted, "")
	} else {
		e.emitStep(r, schemas.StepNavigateForm, schemas.StatusFailed, "no navigation detected within the wait window")
	}
	return nil
}

// stepFillFields iterates the resolved mappings. Each field individually
// fills, skips (no element found), or fails (interaction error); none of
// these outcomes aborts the run.
func (e *Engine) stepFillFields(ctx context.Context, r *run) error {
	e.emitStep(r, schemas.StepFillFields, schemas.StatusInProgress, "")

	for _, m := range r.req.Mappings {
		if err := ctx.Err(); err != nil {
			return err
		}

		fieldCtx, cancel := context.WithTimeout(ctx, e.cfg.FieldTimeout)
		selector, err := e.locate(fieldCtx, r.driver, m)
		if err == nil && selector == "" {
			cancel()
			r.skipped++
			e.emitField(r, m, schemas.FieldSkipped, "no matching element found")
			continue
		}
		if err == nil {
			err = e.interact(fieldCtx, r.driver, m, selector)
		}
		cancel()

		if err != nil {
			r.failed++
			e.emitField(r, m, schemas.FieldFailed, err.Error())
		} else {
			r.filled++
			e.emitField(r, m, schemas.FieldFilled, "")
		}

		// Pacing so a human can follow the automation.
		sleepCtx(ctx, e.cfg.InterFieldDelay)
	}

	e.emitScreenshot(ctx, r, schemas.StepFillFields)
	e.emitStep(r, schemas.StepFillFields, schemas.StatusCompleted,
		fmt.Sprintf("%d filled, %d skipped, %d failed", r.filled, r.skipped, r.failed))
	return nil
}

// locate resolves a mapping to an interactable selector through the cascade:
// the mapping's own selector, label-text lookup, then placeholder prefix on
// the first two label words. An empty selector with nil error means "not on
// this page" — a skip, not a failure.
func (e *Engine) locate(ctx context.Context, d PageDriver, m schemas.AIFieldMapping) (string, error) {
	if m.Selector != "" {
		exists, err := d.Exists(ctx, m.Selector)
		if err != nil {
			return "", err
		}
		if exists {
			return m.Selector, nil
		}
	}

	if m.Label != "" {
		sel, err := d.FindByLabelText(ctx, m.Label)
		if err != nil {
			return "", err
		}
		if sel != "" {
			return sel, nil
		}

		words := strings.Fields(m.Label)
		if len(words) > 2 {
			words = words[:2]
		}
		sel, err = d.FindByPlaceholderPrefix(ctx, strings.Join(words, " "))
		if err != nil {
			return "", err
		}
		if sel != "" {
			return sel, nil
		}
	}
	return "", nil
}

// interact performs the type-appropriate action on a located element.
func (e *Engine) interact(ctx context.Context, d PageDriver, m schemas.AIFieldMapping, selector string) error {
	value := m.EffectiveValue()

	switch m.InputType {
	case schemas.InputClickSequence:
		for _, sel := range m.ClickSequence {
			if err := d.Click(ctx, sel); err != nil {
				return err
			}
		}
		return nil
	case schemas.InputClickElement:
		return d.Click(ctx, selector)
	case schemas.InputSelect:
		if err := d.SelectOption(ctx, selector, value); err == nil {
			return nil
		}
		// Non-native dropdown: open it, then click the matching option.
		if err := d.Click(ctx, selector); err != nil {
			return err
		}
		return d.ClickOptionText(ctx, value)
	case schemas.InputCheckbox:
		return d.SetChecked(ctx, selector, m.Value == "true")
	case schemas.InputRadio:
		return d.SetChecked(ctx, selector, true)
	default:
		return d.TypeChars(ctx, selector, value, e.cfg.TypeDelay)
	}
}

func (e *Engine) stepReview(ctx context.Context, r *run) error {
	e.emitStep(r, schemas.StepReview, schemas.StatusInProgress, "")
	e.emitScreenshot(ctx, r, schemas.StepReview)
	e.emitStep(r, schemas.StepReview, schemas.StatusCompleted, "session left open for review, nothing was submitted")
	return nil
}

func (e *Engine) stepDone(_ context.Context, r *run) error {
	e.emitStep(r, schemas.StepDone, schemas.StatusCompleted, "")
	return nil
}

// -- Helpers --

func (e *Engine) firstExisting(ctx context.Context, d PageDriver, selectors []string) string {
	for _, sel := range selectors {
		exists, err := d.Exists(ctx, sel)
		if err != nil {
			return ""
		}
		if exists {
			return sel
		}
	}
	return ""
}

// waitForURLChange polls the page location until it changes or the wait
// timeout elapses. The URL change is the proxy for "the human did the thing".
func (e *Engine) waitForURLChange(ctx context.Context, r *run) bool {
	baseline, err := r.driver.CurrentURL(ctx)
	if err != nil {
		return false
	}
	deadline := time.Now().Add(e.cfg.WaitTimeout)
	for time.Now().Before(deadline) {
		if !sleepCtx(ctx, e.cfg.PollInterval) {
			return false
		}
		current, err := r.driver.CurrentURL(ctx)
		if err != nil {
			continue
		}
		if current != baseline {
			return true
		}
	}
	return false
}

func isRealCredential(c schemas.Credential) bool {
	return c.Username != "" && c.Password != "" && !strings.EqualFold(c.Username, "demo")
}

// sleepCtx sleeps unless the context ends first; returns false on context
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
