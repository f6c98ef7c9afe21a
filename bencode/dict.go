package bencode

// Dict is a bencoded dictionary. Keys are kept sorted lexicographically
// by their raw bytes, matching the wire requirement that bencoded
// dictionaries be canonically ordered.
type Dict struct {
	keys   []string
	values []Value
}

func (d *Dict) Type() Type                { return TypeDict }
func (d *Dict) AsDict() (*Dict, bool)      { return d, true }
func (d *Dict) AsList() (List, bool)       { return nil, false }
func (d *Dict) AsInteger() (Integer, bool) { return 0, false }
func (d *Dict) AsBytes() (Bytes, bool)     { return nil, false }

// Get returns the value stored under key.
func (d *Dict) Get(key string) (Value, bool) {
	for i, k := range d.keys {
		if k == key {
			return d.values[i], true
		}
	}
	return nil, false
}

// GetString is a convenience accessor for a Bytes-typed value.
func (d *Dict) GetString(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	b, ok := v.AsBytes()
	if !ok {
		return "", false
	}
	return string(b), true
}

// GetInt is a convenience accessor for an Integer-typed value.
func (d *Dict) GetInt(key string) (int64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	i, ok := v.AsInteger()
	if !ok {
		return 0, false
	}
	return int64(i), true
}

// Set inserts or replaces the value stored under key, keeping keys
// lexicographically sorted.
func (d *Dict) Set(key string, value Value) {
	for i, k := range d.keys {
		if k == key {
			d.values[i] = value
			return
		}
		if k > key {
			d.keys = append(d.keys, "")
			d.values = append(d.values, nil)
			copy(d.keys[i+1:], d.keys[i:])
			copy(d.values[i+1:], d.values[i:])
			d.keys[i] = key
			d.values[i] = value
			return
		}
	}
	d.keys = append(d.keys, key)
	d.values = append(d.values, value)
}

// Keys returns the dictionary's keys in sorted order.
func (d *Dict) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}
