package advert

import (
	"bytes"

	"github.com/versatilecz/evac/internal/models"
)

// Advertisement tags understood by Interpret
const (
	TagShortName    byte = 8
	TagCompleteName byte = 9
	TagServiceData  byte = 22
)

// VendorSignature prefixes service data emitted by supported buttons
var VendorSignature = []byte{210, 252}

const (
	batteryOffset = 6
	buttonOffset  = 8
)

// Result is the outcome of interpreting one advertisement
type Result struct {
	// Changed is set when the device record was modified
	Changed bool
	// Events are candidate events not yet attributed to a scanner
	Events []models.EventKind
}

// ButtonEvent maps a vendor button code to an event kind
func ButtonEvent(code byte) (models.EventKind, bool) {
	switch code {
	case 1:
		return models.EventButtonPressed, true
	case 2:
		return models.EventButtonDouble, true
	case 3:
		return models.EventButtonTriple, true
	case 4:
		return models.EventButtonLong, true
	case 254:
		return models.EventButtonHold, true
	default:
		// 0 means no button activity, everything else is unknown
		return "", false
	}
}

// Interpret applies an advertisement blob to dev and returns what changed
func Interpret(dev *models.Device, data []byte) Result {
	var res Result

	dec := NewDecoder(data)
	for rec, ok := dec.Next(); ok; rec, ok = dec.Next() {
		switch rec.Tag {
		case TagShortName, TagCompleteName:
			if dev.Name == "" && len(rec.Payload) > 0 {
				dev.Name = string(bytes.ToValidUTF8(rec.Payload, []byte("?")))
				res.Changed = true
			}

		case TagServiceData:
			if !bytes.HasPrefix(rec.Payload, VendorSignature) {
				continue
			}
			if len(rec.Payload) > batteryOffset {
				battery := rec.Payload[batteryOffset]
				if dev.Battery == nil || *dev.Battery != battery {
					dev.Battery = &battery
					res.Changed = true
				}
			}
			if dev.Enabled && len(rec.Payload) > buttonOffset {
				if kind, ok := ButtonEvent(rec.Payload[buttonOffset]); ok {
					res.Events = append(res.Events, kind)
				}
			}
		}
	}

	return res
}
