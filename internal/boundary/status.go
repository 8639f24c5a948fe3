package boundary

import "strconv"

// Status is the numeric result of a boundary operation.
type Status uint32

const (
	StatusOK              Status = 0
	StatusMissingCallback Status = 1
	// StatusNotBound covers a failed bind at Start and any operation against
	// an inactive (closed or placeholder) session.
	StatusNotBound          Status = 2
	StatusInvalidAddress    Status = 3
	StatusInvalidConfig     Status = 4
	StatusDisconnectFailed  Status = 5
	StatusInvalidHandle     Status = 6
	StatusNegotiationFailed Status = 12
	StatusSendFailed        Status = 13
	StatusNotFound          Status = 17
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMissingCallback:
		return "missing_callback"
	case StatusNotBound:
		return "not_bound"
	case StatusInvalidAddress:
		return "invalid_address"
	case StatusInvalidConfig:
		return "invalid_config"
	case StatusDisconnectFailed:
		return "disconnect_failed"
	case StatusInvalidHandle:
		return "invalid_handle"
	case StatusNegotiationFailed:
		return "negotiation_failed"
	case StatusSendFailed:
		return "send_failed"
	case StatusNotFound:
		return "not_found"
	default:
		return "status_" + strconv.FormatUint(uint64(s), 10)
	}
}
