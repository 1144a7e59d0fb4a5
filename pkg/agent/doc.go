// Agent drives the device through its boot sequence - joining the wireless
// network, checking in with the cloud and keeping the command session - one
// cooperative tick at a time. Every state machine and the identity store are
// owned by the goroutine calling Tick; the MQTT client and the provisioning
// server only hand work over through queues drained at the start of a tick.
//
// The Agent makes no update decision of its own: it carries out the actions
// decided by the dispatcher and the update orchestrator.
package agent
