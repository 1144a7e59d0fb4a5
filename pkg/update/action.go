package update

import "fmt"

// ActionKind is what the agent has to do after an update decision.
type ActionKind int

const (
	// ActionNone needs nothing further.
	ActionNone ActionKind = iota
	// ActionNotifySuccess publishes the success message on the session.
	ActionNotifySuccess
	// ActionRequestConfirmation publishes the confirmation prompt on the
	// session and waits for a notification.
	ActionRequestConfirmation
	// ActionApply flashes the firmware at the action's URL.
	ActionApply
	// ActionDenied records that the user turned the update down.
	ActionDenied
)

func (k ActionKind) String() string {
	switch k {
	case ActionNone:
		return "none"
	case ActionNotifySuccess:
		return "notify-success"
	case ActionRequestConfirmation:
		return "request-confirmation"
	case ActionApply:
		return "apply"
	case ActionDenied:
		return "denied"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

var (
	// SuccessMessage is published once the device runs the update it was
	// offered.
	SuccessMessage = []byte(`{"title":"Update Successful","body":"The device has been successfully updated.","type":"success"}`)
	// ConfirmationPrompt asks the user whether an offered update should be
	// installed. The answer arrives as a notification.
	ConfirmationPrompt = []byte(`{"title":"Update Available","body":"There is an update available for this device. Do you want to install it now?","type":"actionable","response_type":"bool"}`)
)

// Action is the outcome of an update decision.
type Action struct {
	Kind ActionKind
	// URL is the firmware location for ActionApply.
	URL string
	// Message is the payload to publish for ActionNotifySuccess and
	// ActionRequestConfirmation.
	Message []byte
}

func notifySuccess() Action {
	return Action{Kind: ActionNotifySuccess, Message: SuccessMessage}
}

func requestConfirmation() Action {
	return Action{Kind: ActionRequestConfirmation, Message: ConfirmationPrompt}
}

func apply(url string) Action {
	return Action{Kind: ActionApply, URL: url}
}
