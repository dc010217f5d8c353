package workflow

// Observer receives workflow events. Implementations must be safe for
// concurrent use when the Engine is shared.
type Observer interface {
	OnStep(Step)
	OnFinish(Result)
}

type nopObserver struct{}

func (nopObserver) OnStep(Step)     {}
func (nopObserver) OnFinish(Result) {}

type multiObserver []Observer

func (m multiObserver) OnStep(s Step) {
	for _, o := range m {
		o.OnStep(s)
	}
}

func (m multiObserver) OnFinish(r Result) {
	for _, o := range m {
		o.OnFinish(r)
	}
}

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}
