package usb

// DescriptorTable serves GET_DESCRIPTOR lookups from pre-encoded descriptors
// so that lookups on the control path never allocate.
type DescriptorTable struct {
	device  []byte
	config  []byte
	langs   []byte
	strings map[uint8][]byte
	cfgVal  uint8
}

// NewDescriptorTable encodes d once and returns a table serving it.
func NewDescriptorTable(d *Descriptor) *DescriptorTable {
	t := &DescriptorTable{
		device:  d.Device.Bytes(),
		config:  d.ConfigBytes(),
		langs:   EncodeLangIDs(LangIDEnglishUS),
		strings: make(map[uint8][]byte, len(d.Strings)),
		cfgVal:  d.Config.BConfigurationValue,
	}
	for idx, s := range d.Strings {
		if idx == 0 {
			continue
		}
		t.strings[idx] = EncodeStringDescriptor(s)
	}
	return t
}

// Descriptor returns the encoded descriptor for typ/index. String descriptors
// other than index zero must be requested with a supported language ID.
func (t *DescriptorTable) Descriptor(typ, index uint8, langID uint16) ([]byte, bool) {
	switch typ {
	case DeviceDescType:
		return t.device, index == 0
	case ConfigDescType:
		return t.config, index == 0
	case StringDescType:
		if index == 0 {
			return t.langs, true
		}
		if langID != LangIDEnglishUS {
			return nil, false
		}
		s, ok := t.strings[index]
		return s, ok
	default:
		return nil, false
	}
}

// ValidConfiguration reports whether v may be passed to SET_CONFIGURATION.
// Zero always is: it returns the device to the addressed state.
func (t *DescriptorTable) ValidConfiguration(v uint8) bool {
	return v == 0 || v == t.cfgVal
}
