package channel

import (
	"math"
	"sort"
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"
)

type Option string

const (
	OptionConnectTimeoutMillis Option = "connectTimeoutMillis"
	OptionWriteSpinCount       Option = "writeSpinCount"
	OptionMaxMessagesPerWrite  Option = "maxMessagesPerWrite"
	OptionMaxMessagesPerRead   Option = "maxMessagesPerRead"
	OptionAutoRead             Option = "autoRead"
	OptionAutoClose            Option = "autoClose"
	OptionAllowHalfClosure     Option = "allowHalfClosure"
	OptionWriteBufferWaterMark Option = "writeBufferWaterMark"
	OptionBufferAllocator      Option = "bufferAllocator"
	OptionRecvBufferAllocator  Option = "recvBufferAllocator"
	OptionMessageSizeEstimator Option = "messageSizeEstimator"

	OptionSoLinger           Option = "soLinger"
	OptionTCPNoDelay         Option = "tcpNoDelay"
	OptionSoKeepAlive        Option = "soKeepAlive"
	OptionSoRcvBuf           Option = "soRcvBuf"
	OptionSoSndBuf           Option = "soSndBuf"
	OptionTCPFastOpenConnect Option = "tcpFastOpenConnect"
	OptionTCPKeepIdle        Option = "tcpKeepIdle"
	OptionTCPKeepInterval    Option = "tcpKeepInterval"
	OptionTCPUserTimeout     Option = "tcpUserTimeout"
	OptionTCPMD5Sig          Option = "tcpMD5Sig"
)

func (o Option) String() string {
	return string(o)
}

func intValue(option Option, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		if v > math.MaxInt32 || v < math.MinInt32 {
			return 0, newConfigurationError(option, value, "out of range")
		}
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		if v > math.MaxInt32 {
			return 0, newConfigurationError(option, value, "out of range")
		}
		return int(v), nil
	case time.Duration:
		var unit time.Duration
		switch option {
		case OptionConnectTimeoutMillis, OptionTCPUserTimeout:
			unit = time.Millisecond
		case OptionTCPKeepIdle, OptionTCPKeepInterval:
			unit = time.Second
		default:
			return 0, newConfigurationError(option, value, "expected an integer, not a duration")
		}
		if v/unit > math.MaxInt32 {
			return 0, newConfigurationError(option, value, "out of range")
		}
		return int(v / unit), nil
	default:
		return 0, newConfigurationError(option, value, "expected an integer")
	}
}

func boolValue(option Option, value any) (bool, error) {
	v, ok := value.(bool)
	if !ok {
		return false, newConfigurationError(option, value, "expected a boolean")
	}
	return v, nil
}

func typedValue[T any](option Option, value any) (T, error) {
	v, ok := value.(T)
	if !ok {
		var defaultValue T
		return defaultValue, newConfigurationError(option, value, "unexpected type")
	}
	return v, nil
}

// setOptions applies every option in name order and keeps going after failures.
func setOptions(values map[Option]any, setOption func(Option, any) (bool, error)) (bool, error) {
	names := make([]Option, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i] < names[j]
	})
	setAll := true
	var errors []error
	for _, name := range names {
		ok, err := setOption(name, values[name])
		if err != nil {
			errors = append(errors, err)
		}
		if !ok {
			setAll = false
		}
	}
	return setAll, E.Errors(errors...)
}
