package wire

// Valid reports whprobeer m is structurally valid: its type is known and its
// cached payload re-deserializes cleanly through the same variant decoder
// used on the wire (§4.2). On the common valid-message path this only
// re-runs the variant's own decode, no extra scratch allocation.
func Valid(m Message) bool {
	if m == nil {
		return false
	}
	return ValidBytes(m.Type(), m.Payload())
}

// ValidBytes validates a type tag and raw payload without requiring a
// constructed Message, used when checking bytes straight off the wire.
func ValidBytes(t MessageType, payload []byte) bool {
	if !IsKnown(t) {
		return false
	}
	if len(payload) > MaxFrameLen-1 {
		return false
	}
	if t == TypeHeartbeat && len(payload) > MaxHeartbeatLen {
		return false
	}
	_, err := Deserialize(t, payload)
	return err == nil
}
