package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Stage is a registered handler together with its execution settings.
type Stage struct {
	Name         string
	Label        string
	Handler      Handler
	Timeout      time.Duration
	StartEvent   string
	SuccessEvent string

	schema    *jsonschema.Schema
	completed func(Result) string
}

type StageOption func(s *Stage) error

// WithParamsSchema validates submitted params against a JSON schema document.
func WithParamsSchema(schema string) StageOption {
	return func(s *Stage) error {
		compiler := jsonschema.NewCompiler()
		name := s.Name + ".schema.json"
		if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
			return fmt.Errorf("failed to add params schema for %s: %w", s.Name, err)
		}
		compiled, err := compiler.Compile(name)
		if err != nil {
			return fmt.Errorf("failed to compile params schema for %s: %w", s.Name, err)
		}
		s.schema = compiled
		return nil
	}
}

func WithTimeout(d time.Duration) StageOption {
	return func(s *Stage) error {
		s.Timeout = d
		return nil
	}
}

func WithLabel(label string) StageOption {
	return func(s *Stage) error {
		s.Label = label
		return nil
	}
}

// WithEntityEvents declares the lifecycle events applied when a job of this stage
// starts and when it succeeds.
func WithEntityEvents(start, success string) StageOption {
	return func(s *Stage) error {
		s.StartEvent = start
		s.SuccessEvent = success
		return nil
	}
}

// WithCompletionMessage overrides the job_completed message for non skipped results.
func WithCompletionMessage(fn func(Result) string) StageOption {
	return func(s *Stage) error {
		s.completed = fn
		return nil
	}
}

func (s *Stage) CompletionMessage(result Result) string {
	if result.IsSkipped() {
		return fmt.Sprintf("Skipped %s: %s.", s.Label, result.SkipReason())
	}
	if s.completed != nil && len(result) > 0 {
		return s.completed(result)
	}
	return fmt.Sprintf("Completed %s.", s.Label)
}

// ValidateParams checks params against the stage schema, if one was registered.
func (s *Stage) ValidateParams(params map[string]any) error {
	if s.schema == nil {
		return nil
	}

	// round trip so that the validator sees plain JSON types
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}

	if err := s.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}
	return nil
}

// Registry maps stage names to handlers. Stages are registered once at startup.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]*Stage
}

func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]*Stage)}
}

func (r *Registry) Register(name string, h Handler, opts ...StageOption) error {
	if name == "" || h == nil {
		return fmt.Errorf("stage name and handler are required")
	}

	stage := &Stage{
		Name:    name,
		Label:   strings.ReplaceAll(name, "_", " "),
		Handler: h,
	}
	for _, o := range opts {
		if err := o(stage); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.stages[name]; found {
		return fmt.Errorf("%w: %q", ErrDuplicateRegistration, name)
	}
	r.stages[name] = stage
	return nil
}

// MustRegister panics on error. Registration mistakes are programming errors.
func (r *Registry) MustRegister(name string, h Handler, opts ...StageOption) {
	if err := r.Register(name, h, opts...); err != nil {
		panic(err)
	}
}

func (r *Registry) Resolve(name string) (Handler, error) {
	stage, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return stage.Handler, nil
}

func (r *Registry) Lookup(name string) (*Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stage, found := r.stages[name]
	if !found {
		return nil, unknownStage(name)
	}
	return stage, nil
}

// Stages returns the registered stage names, sorted.
func (r *Registry) Stages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
