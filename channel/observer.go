package channel

// NopObserver is a zero-value Observer embeddable by callers that only
// care about a subset of events — override just the methods you need.
type NopObserver struct{}

func (NopObserver) OnHandshake(Channel)       {}
func (NopObserver) OnIncomingCall(Channel)    {}
func (NopObserver) OnOutgoingCall(Channel)    {}
func (NopObserver) OnDrain(Channel)           {}
func (NopObserver) OnEOT(Channel)             {}
func (NopObserver) OnError(Channel, error) {}
