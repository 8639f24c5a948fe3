package config

import "fmt"

// minSCTPReceiveBufferBytes is the smallest receive buffer pion/sctp accepts
// during association setup. Smaller values break INIT/INIT-ACK validation.
const minSCTPReceiveBufferBytes = 1500

const defaultSCTPReceiveBufferFloor = 1 << 20 // 1MiB

// defaultSCTPReceiveBufferBytes keeps the buffer at twice the message cap so
// a little in-flight data does not stall the association.
func defaultSCTPReceiveBufferBytes(maxMessageBytes int) int {
	if maxMessageBytes < 0 {
		maxMessageBytes = 0
	}
	buf := defaultSCTPReceiveBufferFloor
	if twice := maxMessageBytes * 2; twice > buf {
		buf = twice
	}
	if buf < minSCTPReceiveBufferBytes {
		buf = minSCTPReceiveBufferBytes
	}
	return buf
}

func validateSCTPReceiveBufferBytes(buf, maxMessageBytes int) error {
	if buf < minSCTPReceiveBufferBytes {
		return fmt.Errorf("sctp-max-receive-buffer-bytes must be >= %d", minSCTPReceiveBufferBytes)
	}
	if buf < maxMessageBytes {
		return fmt.Errorf("sctp-max-receive-buffer-bytes (%d) must be >= max-message-bytes (%d)", buf, maxMessageBytes)
	}
	if uint64(buf) > uint64(^uint32(0)) {
		return fmt.Errorf("sctp-max-receive-buffer-bytes (%d) overflows uint32", buf)
	}
	return nil
}
