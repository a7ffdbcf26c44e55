package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// Stage is one gate in a route's request pipeline. It either returns the
// request to hand to the next stage, possibly carrying new context values,
// or an error that ends the request.
type Stage interface {
	Name() string
	Run(w http.ResponseWriter, r *http.Request) (*http.Request, error)
}

// ErrorHandler writes the response for an error returned by a stage
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Pipeline runs its stages in order and stops at the first error.
// The stage list is fixed at construction.
type Pipeline struct {
	stages  []Stage
	onError ErrorHandler
	logger  *zap.Logger
}

// NewPipeline creates a pipeline over stages
func NewPipeline(logger *zap.Logger, onError ErrorHandler, stages ...Stage) *Pipeline {
	return &Pipeline{
		stages:  append([]Stage(nil), stages...),
		onError: onError,
		logger:  logger,
	}
}

// With returns a new pipeline with extra stages appended
func (p *Pipeline) With(stages ...Stage) *Pipeline {
	combined := make([]Stage, 0, len(p.stages)+len(stages))
	combined = append(combined, p.stages...)
	combined = append(combined, stages...)
	return &Pipeline{stages: combined, onError: p.onError, logger: p.logger}
}

// Stages returns the names of the stages in order
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Then wraps h so it only runs when every stage passes
func (p *Pipeline) Then(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, stage := range p.stages {
			next, err := stage.Run(w, r)
			if err != nil {
				p.logger.Debug("request rejected",
					zap.String("request_id", GetRequestIDFromContext(r.Context())),
					zap.String("stage", stage.Name()),
					zap.Error(err))
				p.onError(w, r, err)
				return
			}
			if next != nil {
				r = next
			}
		}
		h.ServeHTTP(w, r)
	})
}

// ThenFunc is Then for a handler function
func (p *Pipeline) ThenFunc(fn http.HandlerFunc) http.Handler {
	return p.Then(fn)
}
