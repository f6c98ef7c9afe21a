package bencode

import (
	"bytes"
	"fmt"
	"io"
)

// Marshal encodes v in bencode form.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := (&encoder{w: &buf}).encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type encoder struct {
	w io.Writer
}

func (e *encoder) encode(v Value) error {
	switch v.Type() {
	case TypeInteger:
		i, _ := v.AsInteger()
		return e.encodeInt(i)
	case TypeBytes:
		b, _ := v.AsBytes()
		return e.encodeBytes(b)
	case TypeList:
		l, _ := v.AsList()
		return e.encodeList(l)
	case TypeDict:
		d, _ := v.AsDict()
		return e.encodeDict(d)
	default:
		return fmt.Errorf("bencode: unmarshalable value")
	}
}

func (e *encoder) encodeInt(i Integer) error {
	_, err := fmt.Fprintf(e.w, "i%de", int64(i))
	return err
}

func (e *encoder) encodeBytes(b Bytes) error {
	_, err := fmt.Fprintf(e.w, "%d:", len(b))
	if err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}

func (e *encoder) encodeList(l List) error {
	if _, err := io.WriteString(e.w, "l"); err != nil {
		return err
	}
	for _, item := range l {
		if err := e.encode(item); err != nil {
			return err
		}
	}
	_, err := io.WriteString(e.w, "e")
	return err
}

func (e *encoder) encodeDict(d *Dict) error {
	if _, err := io.WriteString(e.w, "d"); err != nil {
		return err
	}
	for _, key := range d.keys {
		if err := e.encodeBytes(Bytes(key)); err != nil {
			return err
		}
		val, _ := d.Get(key)
		if err := e.encode(val); err != nil {
			return err
		}
	}
	_, err := io.WriteString(e.w, "e")
	return err
}
