// Package provision accepts device credentials from the local network while
// the device serves its own access point, and hands them to the agent.
package provision

// Request carries credentials entered by the user. Empty fields are left
// as they are.
type Request struct {
	APIKey string `json:"apikey" validate:"omitempty,min=5,max=64"`
	Owner  string `json:"owner" validate:"omitempty,max=64"`
}

// Empty reports whether the request carries nothing to apply.
func (r Request) Empty() bool {
	return r.APIKey == "" && r.Owner == ""
}

const queueDepth = 4

// Queue passes requests from the server to the scheduler.
type Queue struct {
	requests chan Request
}

func NewQueue() *Queue {
	return &Queue{requests: make(chan Request, queueDepth)}
}

// Submit queues the request. It returns false when the scheduler has
// fallen behind.
func (q *Queue) Submit(r Request) bool {
	select {
	case q.requests <- r:
		return true
	default:
		return false
	}
}

// Drain returns every queued request without blocking.
func (q *Queue) Drain() []Request {
	var pending []Request
	for {
		select {
		case r := <-q.requests:
			pending = append(pending, r)
		default:
			return pending
		}
	}
}
