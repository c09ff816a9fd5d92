package mqtt

// Topics builds the serialgate topic scheme under a configurable prefix.
//
// The scheme:
//
//	<prefix>/status   retained bridge status (online/offline, LWT on crash)
//	<prefix>/rx       every record received from the serial port
//	<prefix>/tx/send  inbound send requests forwarded to the serial port
type Topics struct {
	Prefix string
}

// Status returns the retained bridge status topic.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Receive returns the topic serial receive records are published to.
func (t Topics) Receive() string {
	return t.Prefix + "/rx"
}

// Send returns the topic inbound send requests arrive on.
func (t Topics) Send() string {
	return t.Prefix + "/tx/send"
}
