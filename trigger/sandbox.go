package trigger

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/recallkit/recallkit/core"
	"github.com/recallkit/recallkit/logging"
)

// DefaultTimeout is the mandatory wall-clock limit for a single evaluation.
const DefaultTimeout = time.Second

// ErrTimeout is returned when a script exceeds the evaluation timeout.
var ErrTimeout = errors.New("trigger evaluation timed out")

// ValidationResult is the outcome of a trigger smoke test.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Options configures a Sandbox.
type Options struct {
	// Timeout bounds every evaluation. Values <= 0 or above DefaultTimeout
	// are clamped to DefaultTimeout; the hard limit is not opt-out.
	Timeout time.Duration
	// Logger receives fail-closed evaluation errors.
	Logger logging.Logger
}

// Sandbox evaluates trigger scripts. It is stateless between evaluations:
// every call builds a fresh runtime so a timed-out or corrupted script can
// never affect the next one. Safe for concurrent use.
type Sandbox struct {
	timeout time.Duration
	logger  logging.Logger
}

// NewSandbox creates a sandbox with optional overrides.
func NewSandbox(optFns ...func(o *Options)) *Sandbox {
	opts := Options{Timeout: DefaultTimeout, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Timeout <= 0 || opts.Timeout > DefaultTimeout {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Sandbox{timeout: opts.Timeout, logger: opts.Logger}
}

// ExecuteSandboxed runs code with the given globals installed and returns
// the exported result value. Cap timeout at the sandbox limit; zero means
// the sandbox default.
func (s *Sandbox) ExecuteSandboxed(code string, globals map[string]any, timeout time.Duration) (any, error) {
	if timeout <= 0 || timeout > s.timeout {
		timeout = s.timeout
	}
	value, err := s.run(code, timeout, func(vm *goja.Runtime) error {
		for name, val := range globals {
			if err := vm.Set(name, val); err != nil {
				return fmt.Errorf("set global %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	return value.Export(), nil
}

// EvaluateTrigger runs a trigger script against the live conversation
// context and coerces its result to a boolean. Any sandbox error is logged
// and treated as not triggered.
func (s *Sandbox) EvaluateTrigger(code string, ec core.ConversationContext) bool {
	triggered, err := s.evaluate(code, ec)
	if err != nil {
		s.logger.Warn("trigger evaluation failed", "error", err.Error())
		return false
	}
	return triggered
}

// TestTrigger smoke-tests a script against a fixed synthetic context. It is
// the pre-commit gate for long-term memory create/update: a script that
// errors or times out here is rejected before it reaches the store.
func (s *Sandbox) TestTrigger(code string) ValidationResult {
	if _, err := s.evaluate(code, mockContext()); err != nil {
		return ValidationResult{Valid: false, Error: err.Error()}
	}
	return ValidationResult{Valid: true}
}

func (s *Sandbox) evaluate(code string, ec core.ConversationContext) (bool, error) {
	value, err := s.run(code, s.timeout, func(vm *goja.Runtime) error {
		if err := vm.Set("context", contextGlobal(ec)); err != nil {
			return err
		}
		if err := vm.Set("match_keys", matchKeysFunc(vm)); err != nil {
			return err
		}
		return vm.Set("match_keys_all", matchKeysAllFunc(vm))
	})
	if err != nil {
		return false, err
	}
	if value == nil {
		return false, nil
	}
	return value.ToBoolean(), nil
}

// run executes code on a fresh runtime with the interrupt timer armed.
// Panics from the runtime or installed host functions are captured into the
// returned error so sandbox failures can never crash the host.
func (s *Sandbox) run(code string, timeout time.Duration, install func(vm *goja.Runtime) error) (value goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("sandbox panic: %v", r)
		}
	}()

	vm := goja.New()
	if install != nil {
		if err := install(vm); err != nil {
			return nil, err
		}
	}

	timer := time.AfterFunc(timeout, func() { vm.Interrupt(ErrTimeout) })
	defer timer.Stop()

	value, runErr := vm.RunString(code)
	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, fmt.Errorf("script error: %w", runErr)
	}
	return value, nil
}

// contextGlobal converts the conversation context to plain maps so scripts
// see ordinary JS objects and the matchers can round-trip the values.
func contextGlobal(ec core.ConversationContext) map[string]any {
	messages := make([]map[string]any, len(ec.Messages))
	for i, msg := range ec.Messages {
		messages[i] = map[string]any{"role": msg.Role, "content": msg.Content}
	}
	global := map[string]any{
		"messages":       messages,
		"conversationId": ec.ConversationID,
	}
	if len(ec.Participants) > 0 {
		participants := make([]any, len(ec.Participants))
		for i, p := range ec.Participants {
			participants[i] = p
		}
		global["participants"] = participants
	}
	return global
}

// mockContext is the canned conversation used by TestTrigger.
func mockContext() core.ConversationContext {
	return core.ConversationContext{
		ConversationID: "trigger-smoke-test",
		Messages: []core.Message{
			{Role: core.RoleUser, Content: "Hello, I would like to talk about my day."},
			{Role: core.RoleAssistant, Content: "Of course, tell me what happened."},
		},
	}
}
