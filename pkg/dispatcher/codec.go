package dispatcher

import "encoding/json"

// DecodeEnvelope parses the raw bytes of a transport message into a
// request envelope. Field-level problems are left for Dispatch, which
// reports them to the sender; only undecodable bytes fail here.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// EncodeResponse serializes a response envelope for the wire.
func EncodeResponse(resp *ResponseEnvelope) ([]byte, error) {
	return json.Marshal(resp)
}
