package protocol

// NoOpHandler implements MessageHandler with no-op methods.
type NoOpHandler struct{}

func (NoOpHandler) HandlePushAck(*Envelope, *PushAck)           {}
func (NoOpHandler) HandleStatusReport(*Envelope, *StatusReport) {}
func (NoOpHandler) HandleCDRSubmit(*Envelope, *CDRSubmit)       {}

var _ MessageHandler = NoOpHandler{}
