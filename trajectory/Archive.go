package trajectory

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// ArchiveVersion is the version of the archive payload layout
const ArchiveVersion = 1

// Archives start with a magic string followed by the SHA-256 checksum
// of the zstd compressed msgpack payload that fills the rest of the
// archive
const (
	magic      = "LOCOTRAJ"
	headerSize = len(magic) + sha256.Size
)

// payload is the msgpack encoded content of an archive. Arrays are
// stored row major. The body fields are only set in cache entries.
type payload struct {
	Version   int       `msgpack:"version"`
	Robot     string    `msgpack:"robot"`
	Name      string    `msgpack:"name"`
	Source    string    `msgpack:"source"`
	Frequency float64   `msgpack:"frequency"`
	Frames    int       `msgpack:"frames"`
	NQ        int       `msgpack:"nq"`
	NV        int       `msgpack:"nv"`
	QPos      []float64 `msgpack:"qpos"`
	QVel      []float64 `msgpack:"qvel"`

	Model     string    `msgpack:"model,omitempty"`
	FKVersion int       `msgpack:"fk_version,omitempty"`
	Bodies    []string  `msgpack:"bodies,omitempty"`
	XPos      []float64 `msgpack:"xpos,omitempty"`
	XQuat     []float64 `msgpack:"xquat,omitempty"`
	LinVel    []float64 `msgpack:"linvel,omitempty"`
	AngVel    []float64 `msgpack:"angvel,omitempty"`
}

var (
	encoder = sync.OnceValue(func() *zstd.Encoder {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			panic(fmt.Sprintf("archive: zstd encoder: %v", err))
		}
		return enc
	})
	decoder = sync.OnceValue(func() *zstd.Decoder {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(fmt.Sprintf("archive: zstd decoder: %v", err))
		}
		return dec
	})
)

// Encode returns the archive of a compact trajectory
func Encode(t *Trajectory) ([]byte, error) {
	p := compactPayload(t)
	return seal(&p)
}

// Decode decodes and verifies an archive of a compact trajectory. Body
// fields of cache entries are ignored.
func Decode(data []byte) (*Trajectory, error) {
	p, err := open(data)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	t, err := p.trajectory()
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return t, nil
}

func encodeExpanded(e *Expanded) ([]byte, error) {
	p := compactPayload(e.Trajectory)
	p.Model = e.Model
	p.FKVersion = e.FKVersion
	p.Bodies = e.Bodies
	p.XPos = e.XPos.RawMatrix().Data
	p.XQuat = e.XQuat.RawMatrix().Data
	p.LinVel = e.LinVel.RawMatrix().Data
	p.AngVel = e.AngVel.RawMatrix().Data
	return seal(&p)
}

func decodeExpanded(data []byte) (*Expanded, error) {
	p, err := open(data)
	if err != nil {
		return nil, err
	}
	t, err := p.trajectory()
	if err != nil {
		return nil, err
	}
	nb := len(p.Bodies)
	if nb == 0 || p.Model == "" {
		return nil, fmt.Errorf("%w: archive holds no expansion",
			errCorruptArchive)
	}
	for _, arr := range []struct {
		data  []float64
		width int
	}{{p.XPos, 3}, {p.XQuat, 4}, {p.LinVel, 3}, {p.AngVel, 3}} {
		if len(arr.data) != p.Frames*nb*arr.width {
			return nil, fmt.Errorf("%w: body arrays do not match %d frames "+
				"of %d bodies", errCorruptArchive, p.Frames, nb)
		}
	}
	return &Expanded{
		Trajectory: t,
		Model:      p.Model,
		FKVersion:  p.FKVersion,
		Bodies:     p.Bodies,
		XPos:       mat.NewDense(p.Frames, 3*nb, p.XPos),
		XQuat:      mat.NewDense(p.Frames, 4*nb, p.XQuat),
		LinVel:     mat.NewDense(p.Frames, 3*nb, p.LinVel),
		AngVel:     mat.NewDense(p.Frames, 3*nb, p.AngVel),
	}, nil
}

func compactPayload(t *Trajectory) payload {
	nq, nv := t.Dims()
	return payload{
		Version:   ArchiveVersion,
		Robot:     t.ID.Robot,
		Name:      t.ID.Name,
		Source:    t.Source,
		Frequency: t.Frequency,
		Frames:    t.Frames(),
		NQ:        nq,
		NV:        nv,
		QPos:      mat.DenseCopyOf(t.QPos).RawMatrix().Data,
		QVel:      mat.DenseCopyOf(t.QVel).RawMatrix().Data,
	}
}

func (p *payload) trajectory() (*Trajectory, error) {
	if p.Frames <= 0 || p.NQ <= 0 || p.NV <= 0 {
		return nil, fmt.Errorf("%w: empty trajectory", errCorruptArchive)
	}
	if len(p.QPos) != p.Frames*p.NQ || len(p.QVel) != p.Frames*p.NV {
		return nil, fmt.Errorf("%w: joint arrays do not match %d frames",
			errCorruptArchive, p.Frames)
	}
	t, err := New(ID{Robot: p.Robot, Name: p.Name}, p.Source, p.Frequency,
		mat.NewDense(p.Frames, p.NQ, p.QPos),
		mat.NewDense(p.Frames, p.NV, p.QVel))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptArchive, err)
	}
	return t, nil
}

// seal encodes, compresses and checksums a payload
func seal(p *payload) ([]byte, error) {
	raw, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("seal: %v", err)
	}
	body := encoder().EncodeAll(raw, nil)
	sum := sha256.Sum256(body)

	out := make([]byte, 0, headerSize+len(body))
	out = append(out, magic...)
	out = append(out, sum[:]...)
	return append(out, body...), nil
}

// open verifies, decompresses and decodes a payload
func open(data []byte) (*payload, error) {
	if len(data) < headerSize || !bytes.Equal(data[:len(magic)],
		[]byte(magic)) {
		return nil, fmt.Errorf("%w: bad header", errCorruptArchive)
	}
	body := data[headerSize:]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], data[len(magic):headerSize]) {
		return nil, fmt.Errorf("%w: checksum mismatch", errCorruptArchive)
	}

	raw, err := decoder().DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptArchive, err)
	}
	var p payload
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptArchive, err)
	}
	if p.Version != ArchiveVersion {
		return nil, fmt.Errorf("%w: unsupported archive version %d",
			errCorruptArchive, p.Version)
	}
	return &p, nil
}
