// Package advert decodes BLE advertisement payloads reported by scanners
package advert

// Record is one length-tag-value entry of an advertisement
type Record struct {
	Tag     byte
	Payload []byte
}

// Decoder iterates over the records of an advertisement blob.
// Malformed input never panics, iteration just stops early.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder creates a decoder over data
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Next returns the next record. The second result is false once the
// input is exhausted or the next length byte is invalid.
func (d *Decoder) Next() (Record, bool) {
	if d.pos >= len(d.data) {
		return Record{}, false
	}

	length := int(d.data[d.pos])
	// length covers the tag byte plus payload
	if length <= 1 || d.pos+length >= len(d.data) {
		d.pos = len(d.data)
		return Record{}, false
	}

	payload := make([]byte, length-1)
	copy(payload, d.data[d.pos+2:d.pos+1+length])
	rec := Record{Tag: d.data[d.pos+1], Payload: payload}
	d.pos += length + 1
	return rec, true
}

// Reset restarts iteration from the first record
func (d *Decoder) Reset() {
	d.pos = 0
}

// Records decodes every valid record of data
func Records(data []byte) []Record {
	var out []Record
	dec := NewDecoder(data)
	for {
		rec, ok := dec.Next()
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}
