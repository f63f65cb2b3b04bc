package common

// LocalNode mirrors what the locally attached device reported about itself
// during the config handshake.
type LocalNode struct {
	MyInfo        MyNodeInfo
	Metadata      DeviceMetadata
	Configs       []ConfigRecord
	ModuleConfigs []ConfigRecord
	Channels      []Channel
	// Nonce is the want_config_id the handshake completed with
	Nonce uint32
}

// Num returns the node number of the local device
func (l LocalNode) Num() NodeNum {
	return l.MyInfo.MyNodeNum
}

// Apply records a handshake message. It returns false for messages that are
// not part of the local node description.
func (l *LocalNode) Apply(msg *FromRadio) bool {
	switch msg.Variant {
	case FromRadioMyInfo:
		if msg.MyInfo != nil {
			l.MyInfo = *msg.MyInfo
		}
	case FromRadioMetadata:
		if msg.Metadata != nil {
			l.Metadata = *msg.Metadata
		}
	case FromRadioConfig:
		if msg.Config != nil {
			l.Configs = upsertConfig(l.Configs, *msg.Config)
		}
	case FromRadioModuleConfig:
		if msg.Config != nil {
			l.ModuleConfigs = upsertConfig(l.ModuleConfigs, *msg.Config)
		}
	case FromRadioChannel:
		if msg.Channel != nil {
			l.Channels = upsertChannel(l.Channels, *msg.Channel)
		}
	default:
		return false
	}
	return true
}

// Clone returns a deep copy that shares no slices with l
func (l LocalNode) Clone() LocalNode {
	out := l
	out.Configs = append([]ConfigRecord(nil), l.Configs...)
	out.ModuleConfigs = append([]ConfigRecord(nil), l.ModuleConfigs...)
	out.Channels = append([]Channel(nil), l.Channels...)
	return out
}

// PrimaryChannel returns the channel with the primary role, if any
func (l LocalNode) PrimaryChannel() (Channel, bool) {
	for _, ch := range l.Channels {
		if ch.Role == 1 {
			return ch, true
		}
	}
	return Channel{}, false
}

func upsertConfig(list []ConfigRecord, rec ConfigRecord) []ConfigRecord {
	for i := range list {
		if list[i].Section == rec.Section {
			list[i] = rec
			return list
		}
	}
	return append(list, rec)
}

func upsertChannel(list []Channel, ch Channel) []Channel {
	for i := range list {
		if list[i].Index == ch.Index {
			list[i] = ch
			return list
		}
	}
	return append(list, ch)
}
