package channel

import "github.com/sagernet/sing-socket/common/buf"

type MessageSizeEstimator interface {
	Size(message any) int
}

var DefaultMessageSizeEstimator MessageSizeEstimator = &messageSizeEstimator{unknownSize: 8}

func NewMessageSizeEstimator(unknownSize int) (MessageSizeEstimator, error) {
	if unknownSize < 0 {
		return nil, newConfigurationError(OptionMessageSizeEstimator, unknownSize, "unknown size must be >= 0")
	}
	return &messageSizeEstimator{unknownSize: unknownSize}, nil
}

type messageSizeEstimator struct {
	unknownSize int
}

func (e *messageSizeEstimator) Size(message any) int {
	switch m := message.(type) {
	case *buf.Buffer:
		return m.Len()
	case []byte:
		return len(m)
	case interface{ Len() int }:
		return m.Len()
	default:
		return e.unknownSize
	}
}
