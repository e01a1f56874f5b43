package bitfield

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sbl8/canlut/model"
)

// Depth is the number of rows in one tree's memory.
const Depth = MaxID + 1

const thresholdComment = "-- threshold="

// sortedNodes returns the nodes of t by ascending id, the memory address order.
func sortedNodes(t *model.Tree) []model.Node {
	nodes := t.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// WriteBits writes one 95-character binary line per node of t.
func (c *Codec) WriteBits(w io.Writer, t *model.Tree) error {
	bw := bufio.NewWriter(w)
	for _, n := range sortedNodes(t) {
		word, err := c.Encode(n)
		if err != nil {
			return errors.Wrapf(err, "tree %d", t.ID())
		}
		if _, err := bw.WriteString(word.Bits() + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadBits decodes raw binary lines. Blank lines and "--" comments are
// skipped; every other line must be exactly RowBits wide.
func (c *Codec) ReadBits(r io.Reader) ([]model.Node, error) {
	var nodes []model.Node
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "--") {
			continue
		}
		word, err := ParseBits(text)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		n, err := c.Decode(word)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		nodes = append(nodes, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading rows")
	}
	if len(nodes) == 0 {
		return nil, errors.Wrap(model.ErrInvalidRowWidth, "no rows")
	}
	return nodes, nil
}

// WriteMIF writes t as a memory initialization file addressed by node id.
func (c *Codec) WriteMIF(w io.Writer, t *model.Tree) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s%s\n", thresholdComment, ThresholdEncoding)
	fmt.Fprintf(bw, "-- tree %d, %d nodes\n", t.ID(), t.Len())
	fmt.Fprintf(bw, "WIDTH=%d;\n", RowBits)
	fmt.Fprintf(bw, "DEPTH=%d;\n", Depth)
	fmt.Fprint(bw, "ADDRESS_RADIX=UNS;\n")
	fmt.Fprint(bw, "DATA_RADIX=HEX;\n")
	fmt.Fprint(bw, "CONTENT BEGIN\n")
	for _, n := range sortedNodes(t) {
		word, err := c.Encode(n)
		if err != nil {
			return errors.Wrapf(err, "tree %d", t.ID())
		}
		fmt.Fprintf(bw, "\t%d : %s;\n", n.ID, word.Hex())
	}
	fmt.Fprint(bw, "END;\n")
	return bw.Flush()
}

// mifReader carries the header state of one MIF decode.
type mifReader struct {
	width     int
	depth     int
	addrRadix int
	dataRadix int
}

// ReadMIF decodes a memory initialization file. It accepts HEX or BIN data
// and UNS, DEC or HEX addresses; every address must equal the node id stored
// in its row.
func (c *Codec) ReadMIF(r io.Reader) ([]model.Node, error) {
	m := mifReader{depth: Depth, addrRadix: 10, dataRadix: 16}
	var nodes []model.Node
	inContent, ended := false, false

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		switch {
		case text == "":
			continue
		case strings.HasPrefix(text, "--"):
			if err := checkThresholdComment(text); err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			continue
		case ended:
			return nil, errors.Wrapf(model.ErrMalformedToken, "line %d: content after END", line)
		}

		if !inContent {
			if strings.EqualFold(text, "CONTENT BEGIN") {
				if m.width != RowBits {
					return nil, errors.Wrapf(model.ErrInvalidRowWidth, "line %d: WIDTH %d, want %d", line, m.width, RowBits)
				}
				inContent = true
				continue
			}
			if err := m.header(text); err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			continue
		}

		if strings.EqualFold(strings.TrimSuffix(text, ";"), "END") {
			ended = true
			continue
		}
		n, err := c.contentLine(m, text)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		nodes = append(nodes, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading mif")
	}
	if !ended {
		return nil, errors.Wrap(model.ErrMalformedToken, "mif has no END")
	}
	if len(nodes) == 0 {
		return nil, errors.Wrap(model.ErrMalformedToken, "mif has no content")
	}
	return nodes, nil
}

func checkThresholdComment(text string) error {
	if !strings.HasPrefix(text, thresholdComment) {
		return nil
	}
	if enc := strings.TrimSpace(strings.TrimPrefix(text, thresholdComment)); enc != ThresholdEncoding {
		return errors.Wrapf(model.ErrSchemeMismatch, "threshold encoding %q, want %q", enc, ThresholdEncoding)
	}
	return nil
}

func (m *mifReader) header(text string) error {
	key, value, ok := strings.Cut(strings.TrimSuffix(text, ";"), "=")
	if !ok {
		return errors.Wrapf(model.ErrMalformedToken, "header %q", text)
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	value = strings.ToUpper(strings.TrimSpace(value))
	switch key {
	case "WIDTH":
		w, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(model.ErrMalformedToken, "WIDTH %q", value)
		}
		if w != RowBits {
			return errors.Wrapf(model.ErrInvalidRowWidth, "WIDTH %d, want %d", w, RowBits)
		}
		m.width = w
	case "DEPTH":
		d, err := strconv.Atoi(value)
		if err != nil || d <= 0 || d > Depth {
			return errors.Wrapf(model.ErrMalformedToken, "DEPTH %q", value)
		}
		m.depth = d
	case "ADDRESS_RADIX":
		switch value {
		case "UNS", "DEC":
			m.addrRadix = 10
		case "HEX":
			m.addrRadix = 16
		default:
			return errors.Wrapf(model.ErrMalformedToken, "ADDRESS_RADIX %s", value)
		}
	case "DATA_RADIX":
		switch value {
		case "HEX":
			m.dataRadix = 16
		case "BIN":
			m.dataRadix = 2
		default:
			return errors.Wrapf(model.ErrMalformedToken, "DATA_RADIX %s", value)
		}
	default:
		return errors.Wrapf(model.ErrMalformedToken, "unknown header %s", key)
	}
	return nil
}

func (c *Codec) contentLine(m mifReader, text string) (model.Node, error) {
	addrText, data, ok := strings.Cut(strings.TrimSuffix(text, ";"), ":")
	if !ok {
		return model.Node{}, errors.Wrapf(model.ErrMalformedToken, "content %q", text)
	}
	addr, err := strconv.ParseUint(strings.TrimSpace(addrText), m.addrRadix, 16)
	if err != nil {
		return model.Node{}, errors.Wrapf(model.ErrMalformedToken, "address %q", addrText)
	}
	if int(addr) >= m.depth {
		return model.Node{}, errors.Wrapf(model.ErrIndexRange, "address %d beyond depth %d", addr, m.depth)
	}

	var word Word
	if m.dataRadix == 2 {
		word, err = ParseBits(data)
	} else {
		word, err = ParseHex(data)
	}
	if err != nil {
		return model.Node{}, err
	}
	n, err := c.Decode(word)
	if err != nil {
		return model.Node{}, err
	}
	if n.ID != int(addr) {
		return model.Node{}, errors.Wrapf(model.ErrMalformedToken, "address %d holds node %d", addr, n.ID)
	}
	return n, nil
}
