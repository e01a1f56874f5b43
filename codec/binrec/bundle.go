package binrec

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"

	"github.com/sbl8/canlut/core"
	"github.com/sbl8/canlut/model"
)

// BundleHeader opens a bundle. It is followed by a tree table of Trees
// (id, node count) pairs and then Nodes records, grouped by tree in table
// order. Checksum is the CRC-32 (IEEE) of the table and the records.
type BundleHeader struct {
	Magic    uint32 // "LUTB"
	Version  uint16
	Reserved uint16
	Trees    uint32
	Nodes    uint32
	Checksum uint32
}

type bundleEntry struct {
	ID    uint32
	Count uint32
}

const (
	BundleMagic      = 0x4254554C // "LUTB" in little endian
	BundleVersion    = 1
	BundleHeaderSize = 20 // sizeof(BundleHeader)

	bundleEntrySize = 8
)

// MarshalBundle encodes f as a bundle. Unlike a plain stream, a bundle keeps
// tree ids and does not depend on record order.
func MarshalBundle(f *model.Forest) ([]byte, error) {
	trees := f.Trees()
	body := bytes.NewBuffer(make([]byte, 0, len(trees)*bundleEntrySize+f.NodeCount()*RecordSize))

	for _, t := range trees {
		entry := bundleEntry{ID: uint32(t.ID()), Count: uint32(t.Len())}
		if err := binary.Write(body, binary.LittleEndian, entry); err != nil {
			return nil, err
		}
	}
	enc := NewEncoder(body)
	if err := enc.WriteForest(f); err != nil {
		return nil, err
	}

	header := BundleHeader{
		Magic:    BundleMagic,
		Version:  BundleVersion,
		Trees:    uint32(len(trees)),
		Nodes:    uint32(enc.Count()),
		Checksum: crc32.ChecksumIEEE(body.Bytes()),
	}

	buffer := bytes.NewBuffer(make([]byte, 0, BundleHeaderSize+body.Len()))
	if err := binary.Write(buffer, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	buffer.Write(body.Bytes())
	return buffer.Bytes(), nil
}

// UnmarshalBundle decodes a bundle, verifying the header, the tree table
// and the checksum before any node is decoded.
func UnmarshalBundle(data []byte) (*model.Forest, error) {
	if len(data) < BundleHeaderSize {
		return nil, errors.Wrapf(model.ErrTruncatedRecord, "bundle header: %d of %d bytes", len(data), BundleHeaderSize)
	}

	var header BundleHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header.Magic != BundleMagic {
		return nil, errors.Errorf("invalid bundle magic 0x%08X", header.Magic)
	}
	if header.Version != BundleVersion {
		return nil, errors.Errorf("unsupported bundle version %d", header.Version)
	}
	if header.Trees == 0 {
		return nil, errors.New("bundle holds no trees")
	}

	body := data[BundleHeaderSize:]
	tableSize := int(header.Trees) * bundleEntrySize
	want := tableSize + int(header.Nodes)*RecordSize
	if len(body) < want {
		return nil, errors.Wrapf(model.ErrTruncatedRecord, "bundle body: %d of %d bytes", len(body), want)
	}
	if len(body) > want {
		return nil, errors.Errorf("bundle has %d trailing bytes", len(body)-want)
	}
	if crc32.ChecksumIEEE(body) != header.Checksum {
		return nil, errors.New("bundle checksum mismatch: data corruption detected")
	}

	entries := make([]bundleEntry, header.Trees)
	if err := binary.Read(bytes.NewReader(body[:tableSize]), binary.LittleEndian, entries); err != nil {
		return nil, err
	}
	var total uint64
	for _, e := range entries {
		total += uint64(e.Count)
	}
	if total != uint64(header.Nodes) {
		return nil, errors.Errorf("tree table lists %d nodes, header %d", total, header.Nodes)
	}

	b := model.NewBuilder()
	d := NewDecoder(bytes.NewReader(body[tableSize:]))
	for _, e := range entries {
		if e.Count == 0 {
			return nil, errors.Errorf("tree %d has no nodes", e.ID)
		}
		for i := uint32(0); i < e.Count; i++ {
			n, err := d.NextNode()
			if err != nil {
				return nil, errors.Wrapf(err, "tree %d", e.ID)
			}
			if err := b.Add(int(e.ID), n); err != nil {
				return nil, err
			}
		}
	}
	return b.Build()
}

// WriteBundle writes the bundle encoding of f to w.
func WriteBundle(w io.Writer, f *model.Forest) error {
	data, err := MarshalBundle(f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return errors.Wrap(err, "writing bundle")
}

// ReadBundle reads and decodes a whole bundle from r.
func ReadBundle(r io.Reader) (*model.Forest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading bundle")
	}
	return UnmarshalBundle(data)
}

// BundleLayout returns the footprint of a bundle holding trees trees and
// nodes records.
func BundleLayout(trees, nodes int) core.Layout {
	return Layout(BundleHeaderSize+bundleEntrySize*trees, nodes)
}
