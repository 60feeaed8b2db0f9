package rabbitmq

import (
	"fmt"
	"time"
)

// Settings keys accepted by NewConnectionFactoryFromSettings. Durations are
// given in milliseconds unless the value is already a time.Duration.
const (
	SettingHost                 = "host"
	SettingHosts                = "hosts"
	SettingPort                 = "port"
	SettingUsername             = "username"
	SettingPassword             = "password"
	SettingVHost                = "vhost"
	SettingURI                  = "uri"
	SettingHeartbeat            = "requested-heartbeat"
	SettingConnectionTimeout    = "connection-timeout"
	SettingChannelMax           = "requested-channel-max"
	SettingAutomaticRecovery    = "automatically-recover"
	SettingTopologyRecovery     = "automatically-recover-topology"
	SettingNetworkRecoveryDelay = "network-recovery-delay"
)

// NewConnectionFactoryFromSettings builds a factory from a settings map, the
// shape configuration files typically deserialize into. Unknown keys are
// rejected rather than ignored so typos fail loudly. The "uri" key is
// applied first; explicit host, port, credential and vhost keys override it.
func NewConnectionFactoryFromSettings(settings map[string]interface{}) (*ConnectionFactory, error) {
	cf := NewConnectionFactory()

	for key := range settings {
		switch key {
		case SettingHost, SettingHosts, SettingPort, SettingUsername,
			SettingPassword, SettingVHost, SettingURI, SettingHeartbeat,
			SettingConnectionTimeout, SettingChannelMax,
			SettingAutomaticRecovery, SettingTopologyRecovery,
			SettingNetworkRecoveryDelay:
		default:
			return nil, fmt.Errorf("unknown setting %q", key)
		}
	}

	if v, ok := settings[SettingURI]; ok {
		s, err := settingString(SettingURI, v)
		if err != nil {
			return nil, err
		}
		if err := cf.SetURI(s); err != nil {
			return nil, err
		}
	}

	if v, ok := settings[SettingHost]; ok {
		s, err := settingString(SettingHost, v)
		if err != nil {
			return nil, err
		}
		cf.Host = s
	}

	if v, ok := settings[SettingHosts]; ok {
		hosts, err := settingStringSlice(SettingHosts, v)
		if err != nil {
			return nil, err
		}
		cf.Hosts = hosts
	}

	if v, ok := settings[SettingPort]; ok {
		n, err := settingInt(SettingPort, v)
		if err != nil {
			return nil, err
		}
		cf.Port = n
	}

	if v, ok := settings[SettingUsername]; ok {
		s, err := settingString(SettingUsername, v)
		if err != nil {
			return nil, err
		}
		cf.Username = s
	}

	if v, ok := settings[SettingPassword]; ok {
		s, err := settingString(SettingPassword, v)
		if err != nil {
			return nil, err
		}
		cf.Password = s
	}

	if v, ok := settings[SettingVHost]; ok {
		s, err := settingString(SettingVHost, v)
		if err != nil {
			return nil, err
		}
		cf.VHost = s
	}

	if v, ok := settings[SettingHeartbeat]; ok {
		d, err := settingDuration(SettingHeartbeat, v)
		if err != nil {
			return nil, err
		}
		cf.Heartbeat = d
	}

	if v, ok := settings[SettingConnectionTimeout]; ok {
		d, err := settingDuration(SettingConnectionTimeout, v)
		if err != nil {
			return nil, err
		}
		cf.ConnectionTimeout = d
	}

	if v, ok := settings[SettingChannelMax]; ok {
		n, err := settingInt(SettingChannelMax, v)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > 65535 {
			return nil, fmt.Errorf("setting %q out of range: %d", SettingChannelMax, n)
		}
		cf.ChannelMax = uint16(n)
	}

	if v, ok := settings[SettingAutomaticRecovery]; ok {
		b, err := settingBool(SettingAutomaticRecovery, v)
		if err != nil {
			return nil, err
		}
		cf.AutomaticRecovery = b
	}

	if v, ok := settings[SettingTopologyRecovery]; ok {
		b, err := settingBool(SettingTopologyRecovery, v)
		if err != nil {
			return nil, err
		}
		cf.TopologyRecovery = b
	}

	if v, ok := settings[SettingNetworkRecoveryDelay]; ok {
		d, err := settingDuration(SettingNetworkRecoveryDelay, v)
		if err != nil {
			return nil, err
		}
		cf.NetworkRecoveryDelay = d
	}

	if err := cf.Validate(); err != nil {
		return nil, err
	}

	return cf, nil
}

func settingString(key string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("setting %q must be a string, got %T", key, v)
	}
	return s, nil
}

func settingStringSlice(key string, v interface{}) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, len(t))
		for i, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("setting %q must be a list of strings, got %T element", key, e)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("setting %q must be a list of strings, got %T", key, v)
	}
}

func settingInt(key string, v interface{}) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("setting %q must be an integer, got %v", key, t)
		}
		return int(t), nil
	default:
		return 0, fmt.Errorf("setting %q must be an integer, got %T", key, v)
	}
}

func settingBool(key string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("setting %q must be a boolean, got %T", key, v)
	}
	return b, nil
}

func settingDuration(key string, v interface{}) (time.Duration, error) {
	if d, ok := v.(time.Duration); ok {
		return d, nil
	}
	ms, err := settingInt(key, v)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("setting %q cannot be negative, got %d", key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
