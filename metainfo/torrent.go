// Package metainfo parses .torrent files (and the info-dictionary
// portion of magnet links) into the piece geometry and file layout the
// engine's core needs: piece length, piece hashes, total length, and
// the announce-list of trackers. It is the out-of-core collaborator
// spec.md names as "bencode codec" plus "file mapping", scoped down to
// exactly the read-only metadata the core consumes.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path"

	"github.com/Elegant996/bitsyd/bencode"
	"github.com/Elegant996/bitsyd/engineerr"
)

// Torrent wraps a parsed bencoded metainfo dictionary.
type Torrent struct {
	dict     *bencode.Dict
	infoHash [20]byte
	files    []File
}

// Load reads and parses a .torrent file from disk.
func Load(path string) (*Torrent, error) {
	const op engineerr.Op = "metainfo.Load"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engineerr.Wrap(err, op, engineerr.IO)
	}

	v, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, engineerr.Wrap(err, op, engineerr.BadArgument)
	}

	dict, ok := v.AsDict()
	if !ok {
		return nil, engineerr.Wrap(engineerr.New("metainfo root is not a dictionary"), op, engineerr.BadArgument)
	}

	return FromDict(dict)
}

// FromDict builds a Torrent from an already-parsed metainfo
// dictionary, computing its info hash the same way Load does. Useful
// for constructing torrents from a magnet link's info dictionary, or
// in tests that want to avoid writing a .torrent file to disk.
func FromDict(dict *bencode.Dict) (*Torrent, error) {
	const op engineerr.Op = "metainfo.FromDict"

	t := &Torrent{dict: dict}

	info, ok := t.Info()
	if !ok {
		return nil, engineerr.Wrap(engineerr.New("metainfo has no info dictionary"), op, engineerr.BadArgument)
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, engineerr.Wrap(err, op)
	}
	t.infoHash = sha1.Sum(infoBytes)

	return t, nil
}

// Info returns the metainfo's info dictionary.
func (t *Torrent) Info() (*bencode.Dict, bool) {
	v, ok := t.dict.Get("info")
	if !ok {
		return nil, false
	}
	return v.AsDict()
}

// InfoHash returns the SHA-1 hash identifying this torrent.
func (t *Torrent) InfoHash() [20]byte { return t.infoHash }

// HexHash returns the hex-encoded info hash.
func (t *Torrent) HexHash() string { return hex.EncodeToString(t.infoHash[:]) }

// Name returns the torrent's display name.
func (t *Torrent) Name() string {
	info, ok := t.Info()
	if !ok {
		return ""
	}
	name, _ := info.GetString("name")
	return name
}

// PieceLength returns the length, in bytes, of every piece except
// possibly the last.
func (t *Torrent) PieceLength() Size {
	info, ok := t.Info()
	if !ok {
		return 0
	}
	n, _ := info.GetInt("piece length")
	return Size(n)
}

// Length returns the total size of the torrent's payload.
func (t *Torrent) Length() Size {
	info, ok := t.Info()
	if !ok {
		return 0
	}
	if n, ok := info.GetInt("length"); ok {
		return Size(n)
	}

	var sum Size
	for _, f := range t.Files() {
		sum += f.Length
	}
	return sum
}

// NumPieces returns the number of pieces in the torrent.
func (t *Torrent) NumPieces() int { return len(t.PieceHashes()) }

// PieceHashes returns the 20-byte SHA-1 hash of every piece, in order.
func (t *Torrent) PieceHashes() [][]byte {
	info, ok := t.Info()
	if !ok {
		return nil
	}

	raw, ok := info.GetString("pieces")
	if !ok {
		return nil
	}

	data := []byte(raw)
	if len(data)%20 != 0 {
		return nil
	}

	out := make([][]byte, len(data)/20)
	for i := range out {
		out[i] = data[i*20 : (i+1)*20]
	}
	return out
}

// VerifyPiece reports whether piece's SHA-1 hash matches the expected
// hash recorded for piece index i.
func (t *Torrent) VerifyPiece(i int, piece []byte) bool {
	hashes := t.PieceHashes()
	if i < 0 || i >= len(hashes) {
		return false
	}
	sum := sha1.Sum(piece)
	return bytes.Equal(sum[:], hashes[i])
}

// AnnounceList returns the tiered tracker announce list defined by
// BEP-12, falling back to the single "announce" key as tier 0.
func (t *Torrent) AnnounceList() [][]string {
	var out [][]string

	if v, ok := t.dict.Get("announce-list"); ok {
		if tiers, ok := v.AsList(); ok {
			for _, tierVal := range tiers {
				tierList, ok := tierVal.AsList()
				if !ok {
					continue
				}
				var tier []string
				for _, u := range tierList {
					if b, ok := u.AsBytes(); ok {
						tier = append(tier, string(b))
					}
				}
				if len(tier) > 0 {
					out = append(out, tier)
				}
			}
		}
	}

	if len(out) == 0 {
		if announce, ok := t.dict.GetString("announce"); ok {
			out = append(out, []string{announce})
		}
	}

	return out
}

// File describes one file within a (possibly multi-file) torrent.
type File struct {
	Name     string
	FullPath string
	Length   Size
	// Offset is the byte offset of this file's first byte within the
	// concatenated torrent payload.
	Offset Size
}

// Files returns the torrent's file list. Single-file torrents return a
// single entry.
func (t *Torrent) Files() []File {
	if t.files != nil {
		return t.files
	}

	info, ok := t.Info()
	if !ok {
		return nil
	}

	filesVal, ok := info.Get("files")
	if !ok {
		name := t.Name()
		length, _ := info.GetInt("length")
		t.files = []File{{Name: name, FullPath: name, Length: Size(length)}}
		return t.files
	}

	fileList, ok := filesVal.AsList()
	if !ok {
		return nil
	}

	var out []File
	var offset Size
	for _, fv := range fileList {
		fd, ok := fv.AsDict()
		if !ok {
			continue
		}
		length, _ := fd.GetInt("length")

		var segments []string
		if pv, ok := fd.Get("path"); ok {
			if pl, ok := pv.AsList(); ok {
				for _, s := range pl {
					if b, ok := s.AsBytes(); ok {
						segments = append(segments, string(b))
					}
				}
			}
		}

		full := path.Join(segments...)
		out = append(out, File{
			Name:     path.Base(full),
			FullPath: full,
			Length:   Size(length),
			Offset:   offset,
		})
		offset += Size(length)
	}

	t.files = out
	return t.files
}

func (t *Torrent) String() string {
	return fmt.Sprintf("%s (%s, %d pieces)", t.Name(), t.Length(), t.NumPieces())
}
