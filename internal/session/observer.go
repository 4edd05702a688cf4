package session

import "github.com/ngalo-coder/simclient/internal/domain"

// Observer presents controller output. Calls are made without the controller
// lock held, so an observer may call back into the controller.
type Observer interface {
	StateChanged(State)
	MessageUpdated(domain.Message)
	EvaluationReady(domain.Evaluation)
	Redirected(path string, kind domain.ErrorKind)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) StateChanged(State)                   {}
func (NopObserver) MessageUpdated(domain.Message)        {}
func (NopObserver) EvaluationReady(domain.Evaluation)    {}
func (NopObserver) Redirected(string, domain.ErrorKind) {}
