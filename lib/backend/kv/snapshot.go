package kv

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/gstore/lib/backend"
)

// Stream format of Dump:
//
//	magic | (tagTable | len | name | (tagRecord | len | key | len | value)*)* | tagEnd
const (
	dumpMagic = "GSKV1"

	tagEnd    byte = 0
	tagTable  byte = 1
	tagRecord byte = 2

	restoreBatchSize = 1024
)

// Dump writes every table of the store (data, counters, metadata and OLAP
// tables) to w.
func (s *Store) Dump(w io.Writer) error {
	if err := s.checkOpened("dump"); err != nil {
		return err
	}
	tables, err := s.ownTables()
	if err != nil {
		return backend.Wrap(err, s.name, "dump")
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(dumpMagic); err != nil {
		return backend.Wrap(err, s.name, "dump")
	}
	for _, table := range tables {
		if err := s.dumpTable(bw, table); err != nil {
			return backend.Wrap(err, s.name, "dump")
		}
	}
	if err := bw.WriteByte(tagEnd); err != nil {
		return backend.Wrap(err, s.name, "dump")
	}
	return backend.Wrap(bw.Flush(), s.name, "dump")
}

func (s *Store) dumpTable(bw *bufio.Writer, table string) (err error) {
	// tables are stored without the store name so a dump can be restored
	// into a store of another database
	local := table[len(s.name)+1:]
	if err := bw.WriteByte(tagTable); err != nil {
		return err
	}
	if err := writeBytes(bw, []byte(local)); err != nil {
		return err
	}

	cursor, err := s.engine.Scan(table, Range{})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cursor.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for cursor.Next() {
		if err := bw.WriteByte(tagRecord); err != nil {
			return err
		}
		if err := writeBytes(bw, cursor.Key()); err != nil {
			return err
		}
		if err := writeBytes(bw, cursor.Value()); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// Restore replaces the content of the store with a dump.
func (s *Store) Restore(r io.Reader) error {
	if err := s.checkOpened("restore"); err != nil {
		return err
	}
	br := bufio.NewReader(r)
	magic := make([]byte, len(dumpMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != dumpMagic {
		return &backend.Error{Code: backend.RetCInvalidOperation, Store: s.name, Op: "restore", Msg: "not a store dump"}
	}

	if err := s.Clear(false); err != nil {
		return err
	}
	if err := s.restoreTables(br); err != nil {
		return backend.Wrap(err, s.name, "restore")
	}
	log.Infof("store '%s' restored from dump", s.name)
	return nil
}

func (s *Store) restoreTables(br *bufio.Reader) error {
	type record struct{ key, value []byte }
	var (
		table string
		batch []record
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.engine.Update(func(w Writer) error {
			for _, rec := range batch {
				if err := w.Put(table, rec.key, rec.value); err != nil {
					return err
				}
			}
			return nil
		})
		batch = batch[:0]
		return err
	}

	for {
		tag, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("truncated dump: %w", err)
		}
		switch tag {
		case tagEnd:
			return flush()
		case tagTable:
			if err := flush(); err != nil {
				return err
			}
			name, err := readBytes(br)
			if err != nil {
				return err
			}
			table = s.name + "_" + string(name)
			if err := s.engine.CreateTable(table); err != nil {
				return err
			}
		case tagRecord:
			if table == "" {
				return fmt.Errorf("record before table in dump")
			}
			key, err := readBytes(br)
			if err != nil {
				return err
			}
			value, err := readBytes(br)
			if err != nil {
				return err
			}
			batch = append(batch, record{key, value})
			if len(batch) >= restoreBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("unknown dump tag %d", tag)
		}
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func writeBytes(w *bufio.Writer, b []byte) error {
	if _, err := w.Write(binary.AppendUvarint(nil, uint64(len(b)))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// maxDumpField bounds single keys and values read from a dump.
const maxDumpField = 64 << 20

func readBytes(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("truncated dump: %w", err)
	}
	if n > maxDumpField {
		return nil, fmt.Errorf("dump field of %d bytes exceeds limit", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("truncated dump: %w", err)
	}
	return b, nil
}

func snapshotPath(dir, engine string) string {
	return filepath.Join(dir, engine+".snapshot")
}

func removeSnapshot(path string) error {
	return os.RemoveAll(path)
}
