package agent

import "github.com/nawafHinai/thinx-firmware-esp8266/pkg/update"

// progression holds an update message that waits for the session to be
// subscribed before it can be published.
type progression struct {
	target update.Action
}

func (p *progression) SetTarget(t update.Action) {
	p.target = t
}

func (p *progression) GetTarget() update.Action {
	return p.target
}

func (p *progression) Reset() {
	p.target = update.Action{}
}

func (p *progression) Valid() bool {
	return p.target.Kind == update.ActionNotifySuccess || p.target.Kind == update.ActionRequestConfirmation
}
